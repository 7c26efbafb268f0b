package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runInitInDir(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	cmd := newInitCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)

	oldWd, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(oldWd) }()

	err := cmd.Execute()
	return stdout.String(), err
}

func TestInitCmd_CreatesConfig(t *testing.T) {
	tmpDir := t.TempDir()

	out, err := runInitInDir(t, tmpDir, "--offline", "--no-index")
	require.NoError(t, err)
	assert.Contains(t, out, "Initialization complete")

	configPath := filepath.Join(tmpDir, ".amanmcp.yaml")
	data, readErr := os.ReadFile(configPath)
	require.NoError(t, readErr)
	assert.NotEmpty(t, data)
}

func TestInitCmd_AlreadyInitialized(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := runInitInDir(t, tmpDir, "--offline", "--no-index")
	require.NoError(t, err)

	out, err := runInitInDir(t, tmpDir, "--offline", "--no-index")
	require.NoError(t, err)
	assert.Contains(t, out, "already initialized")
}

func TestInitCmd_ForceReinitialize(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := runInitInDir(t, tmpDir, "--offline", "--no-index")
	require.NoError(t, err)

	out, err := runInitInDir(t, tmpDir, "--offline", "--no-index", "--force")
	require.NoError(t, err)
	assert.NotContains(t, out, "already initialized")
}

func TestInitCmd_NoIndexSkipsIndexing(t *testing.T) {
	tmpDir := t.TempDir()

	out, err := runInitInDir(t, tmpDir, "--offline", "--no-index")
	require.NoError(t, err)
	assert.Contains(t, out, "config only")

	// No index artifacts should be produced.
	_, statErr := os.Stat(filepath.Join(tmpDir, ".amanmcp", "index.db"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestInitCmd_AddsGitignore(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := runInitInDir(t, tmpDir, "--offline", "--no-index")
	require.NoError(t, err)

	content, readErr := os.ReadFile(filepath.Join(tmpDir, ".gitignore"))
	require.NoError(t, readErr)
	assert.Contains(t, string(content), ".amanmcp/")
}

func TestInitCmd_GitignoreIdempotent(t *testing.T) {
	tmpDir := t.TempDir()

	for i := 0; i < 2; i++ {
		_, err := runInitInDir(t, tmpDir, "--offline", "--no-index", "--force")
		require.NoError(t, err)
	}

	content, err := os.ReadFile(filepath.Join(tmpDir, ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(content, []byte(".amanmcp/")))
}

func TestHasIndexDirIgnored(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"empty", "", false},
		{"no match", "*.log\nnode_modules/\n", false},
		{"exact .amanmcp", ".amanmcp\n", true},
		{"with slash", ".amanmcp/\n", true},
		{"rooted", "/.amanmcp\n", true},
		{"rooted with slash", "/.amanmcp/\n", true},
		{"commented", "# .amanmcp/\n", false},
		{"with whitespace", "  .amanmcp/  \n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hasIndexDirIgnored(tt.content))
		})
	}
}

func TestEnsureGitignore_PreservesExistingContent(t *testing.T) {
	tmpDir := t.TempDir()
	gitignorePath := filepath.Join(tmpDir, ".gitignore")
	existing := "*.log\nnode_modules/\n"
	require.NoError(t, os.WriteFile(gitignorePath, []byte(existing), 0644))

	added, err := ensureGitignore(tmpDir)
	require.NoError(t, err)
	assert.True(t, added)

	content, _ := os.ReadFile(gitignorePath)
	assert.Contains(t, string(content), "*.log")
	assert.Contains(t, string(content), ".amanmcp/")
}
