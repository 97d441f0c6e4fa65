package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	tableFile   = "vectors.json"
	mappingFile = "chunk_mapping.json"
)

// persistLocked writes both snapshot files via write-then-rename. Callers
// must hold the write lock. The table lands first; a crash between the two
// renames is caught at load time by the size check.
func (idx *VectorIndex) persistLocked() error {
	if err := os.MkdirAll(idx.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create vectors dir: %w", err)
	}

	if err := writeJSONAtomic(filepath.Join(idx.dir, tableFile), idx.table); err != nil {
		return fmt.Errorf("failed to persist vector table: %w", err)
	}
	if err := writeJSONAtomic(filepath.Join(idx.dir, mappingFile), idx.mapping); err != nil {
		return fmt.Errorf("failed to persist chunk mapping: %w", err)
	}
	return nil
}

func (idx *VectorIndex) load() error {
	tablePath := filepath.Join(idx.dir, tableFile)
	mappingPath := filepath.Join(idx.dir, mappingFile)

	tableExists := fileExists(tablePath)
	mappingExists := fileExists(mappingPath)
	if !tableExists && !mappingExists {
		return nil // Fresh index
	}
	if tableExists != mappingExists {
		idx.desynced = true
		return nil
	}

	if err := readJSON(tablePath, &idx.table); err != nil {
		return fmt.Errorf("failed to load vector table: %w", err)
	}
	if err := readJSON(mappingPath, &idx.mapping); err != nil {
		return fmt.Errorf("failed to load chunk mapping: %w", err)
	}

	if len(idx.table) != len(idx.mapping) {
		idx.desynced = true
	}
	return nil
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
