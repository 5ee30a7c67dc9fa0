package safe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	regular := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(regular, []byte("enabled: true\n"), 0o600))
	link := filepath.Join(dir, "link.yaml")
	require.NoError(t, os.Symlink(regular, link))
	large := filepath.Join(dir, "large.yaml")
	require.NoError(t, os.WriteFile(large, make([]byte, 64), 0o600))

	tests := []struct {
		name    string
		path    string
		opts    *FileOptions
		want    string
		wantErr string
	}{
		{name: "regular file", path: regular, want: "enabled: true\n"},
		{name: "symlink rejected", path: link, wantErr: "symlink"},
		{name: "symlink allowed", path: link, opts: &FileOptions{AllowSymlinks: true}, want: "enabled: true\n"},
		{name: "too large", path: large, opts: &FileOptions{MaxSize: 10}, wantErr: "maximum allowed size"},
		{name: "directory", path: dir, wantErr: "not a regular file"},
		{name: "missing", path: filepath.Join(dir, "missing"), wantErr: "no such file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := ReadFile(tt.path, tt.opts)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestOpenAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ops.jsonl")

	for _, line := range []string{"a\n", "b\n"} {
		f, err := OpenAppend(path, nil)
		require.NoError(t, err)
		_, err = f.WriteString(line)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestOpenAppend_RejectsDirectory(t *testing.T) {
	_, err := OpenAppend(t.TempDir(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a regular file")
}
