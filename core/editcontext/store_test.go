package editcontext

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "inkwell.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestTouchMarksBranchActive(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.Touch("42", "draft-42-deadbeef", "docs/a.md"))

	active, err := store.ActiveBranches()
	require.NoError(t, err)
	assert.True(t, active["draft-42-deadbeef"])
}

func TestDeactivateReleasesBranch(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.Touch("42", "draft-42-deadbeef", "docs/a.md"))
	require.NoError(t, store.Deactivate("draft-42-deadbeef"))

	active, err := store.ActiveBranches()
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestTouchReactivates(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.Touch("42", "draft-42-deadbeef", "docs/a.md"))
	require.NoError(t, store.Deactivate("draft-42-deadbeef"))
	require.NoError(t, store.Touch("42", "draft-42-deadbeef", "docs/b.md"))

	active, err := store.ActiveBranches()
	require.NoError(t, err)
	assert.True(t, active["draft-42-deadbeef"])
}

func TestRemoveDeletesRow(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.Touch("42", "draft-42-deadbeef", "docs/a.md"))
	require.NoError(t, store.Remove("draft-42-deadbeef"))

	active, err := store.ActiveBranches()
	require.NoError(t, err)
	assert.Empty(t, active)
}
