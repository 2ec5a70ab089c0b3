package migration

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations_OrdersAndSkipsUnrelatedFiles(t *testing.T) {
	src := fstest.MapFS{
		"V2__links.sql":   {Data: []byte("CREATE TABLE b (id INT);")},
		"V1__init.sql":    {Data: []byte("CREATE TABLE a (id INT);\n")},
		"README.md":       {Data: []byte("notes")},
		"embed.go":        {Data: []byte("package migrations")},
		"V3_bad_name.sql": {Data: []byte("SELECT 1;")},
	}

	migs, err := loadMigrations(src)
	require.NoError(t, err)
	require.Len(t, migs, 2)
	assert.Equal(t, int64(1), migs[0].Version)
	assert.Equal(t, "init", migs[0].Name)
	assert.Equal(t, "CREATE TABLE a (id INT);", migs[0].SQL)
	assert.Equal(t, int64(2), migs[1].Version)
	assert.Len(t, migs[0].Checksum, 64)
}

func TestLoadMigrations_RejectsEmptyFile(t *testing.T) {
	_, err := loadMigrations(fstest.MapFS{"V1__init.sql": {Data: []byte("  \n")}})
	require.Error(t, err)
}

func TestLoadMigrations_RejectsDuplicateVersion(t *testing.T) {
	_, err := loadMigrations(fstest.MapFS{
		"V1__a.sql":  {Data: []byte("SELECT 1;")},
		"V01__b.sql": {Data: []byte("SELECT 2;")},
	})
	require.Error(t, err)
}
