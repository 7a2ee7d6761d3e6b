package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"example.com/u3vlog/internal/common"
)

type Item struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Sha256 string `json:"sha256"`
	Type   string `json:"type"`
}

// Manifest lists the artifacts of one analysis run with their digests.
type Manifest struct {
	CreatedAt time.Time `json:"createdAt"`
	ShaAlgo   string    `json:"shaAlgo"`
	Input     string    `json:"input,omitempty"`
	Items     []Item    `json:"items"`
}

// Build hashes every path. Duplicates are listed once and items are sorted
// by path.
func Build(input string, paths []string) (Manifest, error) {
	m := Manifest{CreatedAt: time.Now().UTC(), ShaAlgo: "sha256", Input: input}
	seen := make(map[string]bool)
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	for _, p := range sorted {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		hex, sz, err := common.Sha256OfFile(p)
		if err != nil {
			return m, err
		}
		m.Items = append(m.Items, Item{Path: p, Size: sz, Sha256: hex, Type: itemType(p)})
	}
	return m, nil
}

func itemType(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, "_result.txt"):
		return "result"
	case strings.HasSuffix(lower, ".pgm"):
		return "image"
	case strings.HasSuffix(lower, ".ndjson"):
		return "diagnostics"
	case strings.HasSuffix(lower, ".json"):
		return "json"
	case strings.HasSuffix(lower, ".pdf"):
		return "pdf"
	case strings.HasSuffix(lower, ".txt"), strings.HasSuffix(lower, ".log"):
		return "capture"
	}
	return "other"
}

// Find returns the item recorded for path.
func (m Manifest) Find(path string) (Item, bool) {
	clean := filepath.Clean(path)
	for _, it := range m.Items {
		if filepath.Clean(it.Path) == clean {
			return it, true
		}
	}
	return Item{}, false
}

func Save(m Manifest, out string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func Load(path string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}
