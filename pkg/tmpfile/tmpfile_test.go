package tmpfile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateAssignsIncreasingFileIndex(t *testing.T) {
	m := New(0, 1000)

	a, err := m.Create("/tmp/a", 4, 4096, 1)
	require.NoError(t, err)
	b, err := m.Create("/tmp/b", 4, 4096, 1)
	require.NoError(t, err)

	require.Less(t, a.FileIndex, b.FileIndex)
}

func TestCreateRejectsDuplicatePath(t *testing.T) {
	m := New(0, 1000)

	_, err := m.Create("/tmp/a", 4, 4096, 1)
	require.NoError(t, err)

	_, err = m.Create("/tmp/a", 4, 4096, 1)
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestGetUnknownPathFails(t *testing.T) {
	m := New(0, 1000)

	_, err := m.Get("/tmp/missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMoveLocationNeverRegresses(t *testing.T) {
	m := New(0, 1000)
	_, err := m.Create("/tmp/a", 4, 4096, 1)
	require.NoError(t, err)

	v, err := m.MoveLocation("/tmp/a", 50)
	require.NoError(t, err)
	require.Equal(t, uint64(50), v)

	v, err = m.MoveLocation("/tmp/a", 10)
	require.NoError(t, err)
	require.Equal(t, uint64(50), v)
}

func TestDeleteReleasesExtentForReuse(t *testing.T) {
	m := New(0, 10)

	_, err := m.Create("/tmp/a", 10, 4096, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(0), m.AvailableLBAs())

	require.NoError(t, m.Delete("/tmp/a"))
	require.Equal(t, uint64(10), m.AvailableLBAs())
	require.False(t, m.Exists("/tmp/a"))

	_, err = m.Create("/tmp/b", 10, 4096, 1)
	require.NoError(t, err)
}

func TestDeleteUnknownPathFails(t *testing.T) {
	m := New(0, 10)

	err := m.Delete("/tmp/missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListIsSortedAndReflectsLiveFiles(t *testing.T) {
	m := New(0, 1000)
	_, err := m.Create("/tmp/b", 4, 4096, 1)
	require.NoError(t, err)
	_, err = m.Create("/tmp/a", 4, 4096, 1)
	require.NoError(t, err)

	require.Equal(t, []string{"/tmp/a", "/tmp/b"}, m.List())

	require.NoError(t, m.Delete("/tmp/a"))
	require.Equal(t, []string{"/tmp/b"}, m.List())
}

func TestCreateOutOfSpaceBubblesAllocatorError(t *testing.T) {
	m := New(0, 4)

	_, err := m.Create("/tmp/a", 5, 4096, 1)
	require.Error(t, err)
}
