package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, s Store) {
	t.Helper()

	v, err := s.Get("__calling_peer")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.Set("__calling_peer", "P1"))
	require.NoError(t, s.Set("__calling_peer", "P2"))
	v, err = s.Get("__calling_peer")
	require.NoError(t, err)
	assert.Equal(t, "P2", v)

	require.NoError(t, s.Delete("__calling_peer"))
	require.NoError(t, s.Delete("__calling_peer"))
	v, err = s.Get("__calling_peer")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestMemory(t *testing.T) {
	exercise(t, NewMemory())
}

func TestSQLite(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "assist.db"), "proj-sess1")
	require.NoError(t, err)
	defer s.Close()
	exercise(t, s)
}

func TestSQLiteSurvivesReopenWithinScope(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "assist.db")

	s, err := OpenSQLite(path, "proj-sess1")
	require.NoError(t, err)
	require.NoError(t, s.Set("__control_peer", "A1"))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path, "proj-sess1")
	require.NoError(t, err)
	v, err := s.Get("__control_peer")
	require.NoError(t, err)
	assert.Equal(t, "A1", v)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path, "proj-sess2")
	require.NoError(t, err)
	defer s.Close()
	v, err = s.Get("__control_peer")
	require.NoError(t, err)
	assert.Empty(t, v, "a new session must not see the previous session's keys")
}

func TestSQLiteRequiresScope(t *testing.T) {
	_, err := OpenSQLite(filepath.Join(t.TempDir(), "x.db"), "")
	assert.Error(t, err)
}
