package migration

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteMigrator(t *testing.T) *Migrator {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "memflow.db")
	m, err := NewMigrator(Config{
		DatabaseType: DatabaseTypeSQLite,
		DatabaseURL:  dsn,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMigrator_UpDown(t *testing.T) {
	m := newSQLiteMigrator(t)

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)

	require.NoError(t, m.Up())

	version, dirty, err = m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// 迁移后表可写
	_, err = m.db.Exec(`INSERT INTO memory_records
		(id, namespace, content, embedding, memory_type, importance, created_at)
		VALUES ('r1', 'ns', 'text', '[0.1,0.2]', 'fact', 0.5, CURRENT_TIMESTAMP)`)
	require.NoError(t, err)

	require.NoError(t, m.DownAll())
	version, _, err = m.Version()
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestMigrator_UpIdempotent(t *testing.T) {
	m := newSQLiteMigrator(t)
	require.NoError(t, m.Up())
	// 无待应用迁移时 Up 不报错
	require.NoError(t, m.Up())
}

func TestNewMigrator_Validation(t *testing.T) {
	_, err := NewMigrator(Config{DatabaseType: DatabaseTypeSQLite}, nil)
	assert.Error(t, err)

	_, err = NewMigrator(Config{DatabaseType: "oracle", DatabaseURL: "x"}, nil)
	assert.Error(t, err)
}
