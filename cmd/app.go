package cmd

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/adalundhe/inkwell/core/config"
	"github.com/adalundhe/inkwell/core/editcontext"
	"github.com/adalundhe/inkwell/core/oplog"
	"github.com/adalundhe/inkwell/core/remote"
	"github.com/adalundhe/inkwell/core/repo"
	"github.com/adalundhe/inkwell/core/snapshot"
	"github.com/adalundhe/inkwell/core/workflow"
)

// app bundles the wired engine components a command needs. Everything is
// constructed once here and passed by reference; there is no ambient global
// state.
type app struct {
	cfg      *config.Config
	repo     *repo.Repo
	db       *sql.DB
	oplog    *oplog.Log
	contexts *editcontext.Store
	snaps    *snapshot.Writer
	engine   *workflow.Engine
	sync     *remote.Service
}

// buildApp opens every component from the configuration file. The
// repository is initialized on first use.
func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	r, err := openOrInitRepo(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ledger, err := oplog.OpenDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	contexts, err := editcontext.OpenDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	snaps, err := snapshot.NewWriter(r, cfg.Snapshots.Dir)
	if err != nil {
		db.Close()
		return nil, err
	}

	repoLock := &sync.Mutex{}

	syncSvc, err := remote.NewService(r, repoLock, ledger, snaps, remote.Options{
		RemoteName:    cfg.Remote.Name,
		MainBranch:    cfg.Repo.MainBranch,
		PullTimeout:   cfg.Remote.PullTimeoutDuration(),
		PushTimeout:   cfg.Remote.PushTimeoutDuration(),
		WebhookWindow: cfg.Remote.WebhookWindowDuration(),
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	engine := workflow.NewEngine(r, repoLock, ledger, snaps, workflow.Options{
		MainBranch:       cfg.Repo.MainBranch,
		ConflictCacheTTL: cfg.Conflicts.CacheTTLDuration(),
		Pusher:           syncSvc,
	})

	return &app{
		cfg:      cfg,
		repo:     r,
		db:       db,
		oplog:    ledger,
		contexts: contexts,
		snaps:    snaps,
		engine:   engine,
		sync:     syncSvc,
	}, nil
}

// openOrInitRepo opens the canonical repository, creating it with an empty
// root commit when absent.
func openOrInitRepo(cfg *config.Config) (*repo.Repo, error) {
	r, err := repo.Open(cfg.Repo.Path)
	if err == nil {
		return r, nil
	}

	return repo.Init(cfg.Repo.Path, cfg.Repo.MainBranch, repo.Author{
		Name:  "inkwell",
		Email: "inkwell@localhost",
	})
}

// close releases the app's resources.
func (a *app) close() {
	a.db.Close()
}
