package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultSecretsDir is where container orchestrators mount secret volumes.
const DefaultSecretsDir = "/run/secrets"

// FileProvider implements SecretProvider by reading each reference as a file
// under a secrets directory (Docker/Kubernetes secret mounts). Absolute
// references are read as-is. Trailing newlines are trimmed.
type FileProvider struct {
	dir string
}

// NewFileProvider creates a FileProvider rooted at dir. An empty dir uses
// DefaultSecretsDir.
func NewFileProvider(dir string) *FileProvider {
	if dir == "" {
		dir = DefaultSecretsDir
	}
	return &FileProvider{dir: dir}
}

// GetParametersBatch reads every reference. Missing files are omitted from
// the result so the loader can report them together; any other read error
// aborts the batch.
func (p *FileProvider) GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during secret retrieval: %w", err)
		}

		path := key
		if !filepath.IsAbs(path) {
			path = filepath.Join(p.dir, filepath.Clean("/"+key))
		}

		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("reading secret %q: %w", key, err)
		}
		result[key] = strings.TrimRight(string(data), "\r\n")
	}
	return result, nil
}
