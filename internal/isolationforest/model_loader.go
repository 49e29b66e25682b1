package isolationforest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

// FileModelLoader resolves a client's forest from baseDir/<clientID>.json, the
// compact JSON wire format Forest.Serialize/Deserialize use (spec.md §6).
// Offline training tooling drops one file per client into baseDir; this loader
// never writes, only reads.
type FileModelLoader struct {
	baseDir string
}

// NewFileModelLoader builds a loader rooted at baseDir.
func NewFileModelLoader(baseDir string) *FileModelLoader {
	return &FileModelLoader{baseDir: baseDir}
}

// LoadModel implements ModelLoader. A missing file is reported as "not found",
// never an error — most clients have no trained model yet.
func (l *FileModelLoader) LoadModel(ctx context.Context, clientID string) ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(l.baseDir, clientID+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// PreloadAll walks baseDir and Put()s every well-formed <clientID>.json forest
// it finds into store, so models already trained offline are warm in cache at
// boot instead of paying the Load miss on each client's first transaction. A
// missing or empty directory is not an error — it just means no models have
// been trained yet.
func PreloadAll(store *Store, baseDir string) (int, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		clientID := entry.Name()[:len(entry.Name())-len(".json")]
		data, err := os.ReadFile(filepath.Join(baseDir, entry.Name()))
		if err != nil {
			return loaded, err
		}
		forest, err := Deserialize(data)
		if err != nil {
			return loaded, err
		}
		store.Put(clientID, forest)
		loaded++
	}
	return loaded, nil
}
