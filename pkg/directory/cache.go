package directory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// cacheEntry is the persisted last-known-good pattern list. It is the
// sole durable state in this subsystem.
type cacheEntry struct {
	Numbers   []string `json:"numbers"`
	Timestamp int64    `json:"timestamp"`
	Source    string   `json:"source"`
}

// saveCache writes the pattern list to the cache file. A blank path
// disables persistence.
func saveCache(path string, numbers []string, source string) error {
	if path == "" {
		return nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(cacheEntry{
		Numbers:   numbers,
		Timestamp: time.Now().Unix(),
		Source:    source,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	return nil
}

// loadCache reads the persisted pattern list. A missing or corrupt file
// is not an error at the call site; it is reported so the caller can log
// it and proceed with an empty cache.
func loadCache(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse cache file: %w", err)
	}
	return entry.Numbers, nil
}
