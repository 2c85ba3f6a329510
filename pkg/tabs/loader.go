package tabs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const loaderLogPrefix = "tabs:loader"

// SeedFile is the on-disk list of tabs a tab host starts with.
type SeedFile struct {
	Tabs []Tab `json:"tabs" yaml:"tabs"`
}

// LoadSeedFile reads a JSON or YAML seed file. The format is chosen by
// extension; anything other than .yaml/.yml is parsed as JSON.
func LoadSeedFile(path string) ([]Tab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read %s: %w", loaderLogPrefix, path, err)
	}

	var seed SeedFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &seed)
	default:
		err = json.Unmarshal(data, &seed)
	}
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse %s: %w", loaderLogPrefix, path, err)
	}

	seen := make(map[int]bool, len(seed.Tabs))
	for _, t := range seed.Tabs {
		if t.ID <= 0 {
			return nil, fmt.Errorf("%s - tab id must be positive, got %d", loaderLogPrefix, t.ID)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("%s - duplicate tab id %d", loaderLogPrefix, t.ID)
		}
		seen[t.ID] = true
	}

	slog.Info(fmt.Sprintf("%s - Loaded %d tabs from %s", loaderLogPrefix, len(seed.Tabs), path))
	return seed.Tabs, nil
}
