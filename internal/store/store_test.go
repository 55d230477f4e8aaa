package store

import (
	"context"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	require.NoError(t, err)
	require.Equal(t, []string{
		"migrations/001_create_votes.sql",
		"migrations/002_create_aggregates.sql",
	}, names)

	for _, name := range names {
		body, err := fs.ReadFile(migrationFiles, name)
		require.NoError(t, err)
		assert.Contains(t, string(body), "---- create above / drop below ----", name)
	}

	votes, err := fs.ReadFile(migrationFiles, names[0])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(votes), "votes_created_at_idx"), "fraud windows scan by created_at")
}

func TestTargetVersionMatchesEmbeddedMigrations(t *testing.T) {
	assert.Equal(t, int32(2), TargetVersion())
}

func TestNilStore(t *testing.T) {
	var s *Store
	assert.Error(t, s.HealthCheck(context.Background()))
	assert.Nil(t, s.Stats())
	s.Close()
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(context.Background(), "://not a url", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse db url")
}
