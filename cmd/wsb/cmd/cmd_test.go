package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wsberrors "github.com/danny0838/PyWebScrapBook-sub001/internal/errors"
	"github.com/danny0838/PyWebScrapBook-sub001/pkg/version"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	debugMode = false
	rootDir = "."

	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// newCollection creates a collection with one item holding content.
func newCollection(t *testing.T, content string) string {
	t.Helper()
	root := t.TempDir()
	id := "20200101000000000"
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".wsb", "tree"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, id), 0o755))
	meta := `scrapbook.meta({"` + id + `": {"index": "` + id + `/index.html", "type": ""}})`
	require.NoError(t, os.WriteFile(filepath.Join(root, ".wsb", "tree", "meta.js"), []byte(meta), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, id, "index.html"), []byte(content), 0o644))
	return root
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version.String()+"\n", out)

	out, err = execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version.Short()+"\n", out)

	out, err = execute(t, "version", "--json")
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Version, info["version"])
}

func TestConfigShow(t *testing.T) {
	// Given: a collection overriding the worker count
	root := newCollection(t, "x")
	cfg := "fulltext:\n  workers: 3\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, ".wsb", "config.yaml"), []byte(cfg), 0o644))

	// When
	out, err := execute(t, "config", "show", "--root", root)

	// Then: the merged configuration is printed
	require.NoError(t, err)
	assert.Contains(t, out, "workers: 3")
	assert.Contains(t, out, "inclusive_frames: true")
}

func TestConfigInit(t *testing.T) {
	root := t.TempDir()

	out, err := execute(t, "config", "init", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "Created")
	assert.FileExists(t, filepath.Join(root, ".wsb", "config.yaml"))

	_, err = execute(t, "config", "init", "--root", root)
	require.Error(t, err)
	assert.Contains(t, wsberrors.FormatForCLI(err), "--force")

	_, err = execute(t, "config", "init", "--root", root, "--force")
	require.NoError(t, err)
}

func TestCacheCmd(t *testing.T) {
	// Given: a collection with one page
	root := newCollection(t, "<p>Hello cache</p>")

	// When
	out, err := execute(t, "cache", "--root", root, "--plain")

	// Then: the fulltext cache holds the page text
	require.NoError(t, err)
	assert.Contains(t, out, "Complete:")
	data, err := os.ReadFile(filepath.Join(root, ".wsb", "tree", "fulltext.js"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"content": "Hello cache"`)

	// The tree lock was used and left in place.
	locks, err := os.ReadDir(filepath.Join(root, ".wsb", "locks"))
	require.NoError(t, err)
	assert.Len(t, locks, 1)
}

func TestCacheCmd_SecondRunUnchanged(t *testing.T) {
	root := newCollection(t, "Hello")
	_, err := execute(t, "cache", "--root", root, "--plain")
	require.NoError(t, err)

	out, err := execute(t, "cache", "--root", root, "--plain", "--no-lock")
	require.NoError(t, err)
	assert.Contains(t, out, "index unchanged")
}

func TestCacheCmd_RecreateBacksUpOldShards(t *testing.T) {
	root := newCollection(t, "Hello")
	_, err := execute(t, "cache", "--root", root, "--plain")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "20200101000000000", "index.html"), []byte("Changed"), 0o644))
	_, err = execute(t, "cache", "--root", root, "--plain", "--recreate")
	require.NoError(t, err)

	backups, err := filepath.Glob(filepath.Join(root, ".wsb", "backup", "*", ".wsb", "tree", "fulltext.js"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	_, err = execute(t, "cache", "--root", root, "--plain", "--recreate", "--no-backup")
	require.NoError(t, err)
	backups, _ = filepath.Glob(filepath.Join(root, ".wsb", "backup", "*"))
	assert.Len(t, backups, 1)
}

func TestCacheCmd_ConflictingFrameFlags(t *testing.T) {
	root := newCollection(t, "x")
	_, err := execute(t, "cache", "--root", root, "--inclusive-frames", "--exclusive-frames")
	require.Error(t, err)
	assert.Equal(t, wsberrors.ErrCodeInvalidInput, wsberrors.GetCode(err))
}

func TestCacheCmd_UnknownBook(t *testing.T) {
	root := newCollection(t, "x")
	_, err := execute(t, "cache", "--root", root, "--book", "missing")
	require.Error(t, err)
	assert.Equal(t, wsberrors.ErrCodeBookNotFound, wsberrors.GetCode(err))
	assert.True(t, strings.HasPrefix(wsberrors.FormatForCLI(err), "Error: "))
}
