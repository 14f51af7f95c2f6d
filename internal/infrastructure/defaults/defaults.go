// Package defaults holds the bundled rows shown when neither the local
// store nor the backend has data for a dataset.
package defaults

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"

	"github.com/unihub/hubsync/internal/domain/community"
)

//go:embed data/*.json
var dataFS embed.FS

// FilePath returns the embedded file of key
func FilePath(key community.DatasetKey) string {
	return "data/" + string(key) + ".json"
}

// Load decodes the default rows of key
func Load[T any](key community.DatasetKey) ([]T, error) {
	raw, err := fs.ReadFile(dataFS, FilePath(key))
	if err != nil {
		return nil, fmt.Errorf("no defaults for %s: %w", key, err)
	}
	var rows []T
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode defaults for %s: %w", key, err)
	}
	if rows == nil {
		rows = []T{}
	}
	return rows, nil
}

// MustLoad is Load for package initialization; the embedded files are part
// of the build, so a failure is a programming error.
func MustLoad[T any](key community.DatasetKey) []T {
	rows, err := Load[T](key)
	if err != nil {
		panic(err)
	}
	return rows
}
