package main

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBundle(t *testing.T, path, metadata string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("metadata.json")
	require.NoError(t, err)
	_, err = w.Write([]byte(metadata))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestValidateBundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subs.vvf")
	writeBundle(t, path, `{"className": "OpenSubs", "types": ["SUBTITLE"], "version": "1.0.0", "name": "Open Subs"}`)

	meta, err := validatePath(path)
	require.NoError(t, err)
	assert.Equal(t, "OpenSubs", meta.ID)
	assert.Equal(t, "Open Subs", meta.Name)
}

func TestValidatePackage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte(`
id: tmdb
name: TMDb
version: 0.2.0
types: [database]
`), 0644))

	meta, err := validatePath(dir)
	require.NoError(t, err)
	assert.Equal(t, "tmdb", meta.ID)
}

func TestValidateRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.vvf")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0644))

	_, err := validatePath(path)
	assert.Error(t, err)

	_, err = validatePath(t.TempDir())
	assert.Error(t, err)
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "list", "validate", "enable", "disable", "priority", "updates"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}
