package meta

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"
)

// RefreshMaxAge is how long a metadata file stays fresh before a positions
// run rebuilds it.
const RefreshMaxAge = 30 * time.Minute

// Load reads a metadata file. A missing file yields an empty collection.
func Load(path string) (*Collection, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Collection{}, nil
	}
	if err != nil {
		return nil, err
	}
	var c Collection
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &c, nil
}

// Save writes the collection atomically: the content goes to a temporary
// file first and is renamed over the destination, so a crash never leaves
// a half-written metadata file. The creation timestamp is stamped on the
// first save only; watermark saves during a backup keep the timestamp of
// the positions rebuild, so they do not extend the freshness window.
func Save(path string, c *Collection) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".new"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadForRefresh loads the previous metadata for a positions run. It
// returns fresh=true when the file is younger than RefreshMaxAge and the
// caller should skip regeneration; with clear set the previous content is
// ignored entirely.
func LoadForRefresh(path string, clear bool, verbose bool) (old *Collection, fresh bool, err error) {
	if clear {
		return &Collection{}, false, nil
	}
	c, err := Load(path)
	if err != nil {
		return nil, false, err
	}
	if len(c.Features) > 0 && time.Since(c.CreatedAt) < RefreshMaxAge {
		if verbose {
			log.Printf("Not recreating %s, it is less than %v old", path, RefreshMaxAge)
		}
		return c, true, nil
	}
	return c, false, nil
}
