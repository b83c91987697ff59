package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ErrNoTiers is returned when neither TIERS nor TIERS_FILE yields a tier.
var ErrNoTiers = errors.New("no quality tiers configured")

// TierSpec is one rung of the quality ladder as written in a ladder file.
type TierSpec struct {
	Name    string `yaml:"name"`
	Bitrate int    `yaml:"bitrate"`
	URI     string `yaml:"uri"`
}

type ladderFile struct {
	Tiers []TierSpec `yaml:"tiers"`
}

// LoadTiers reads a YAML ladder file. Tiers are returned lowest bitrate
// first; entries without a URI are rejected.
func LoadTiers(path string) ([]TierSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiers file: %w", err)
	}
	return ParseTiers(raw)
}

// ParseTiers is LoadTiers over an in-memory document.
func ParseTiers(raw []byte) ([]TierSpec, error) {
	var f ladderFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode tiers: %w", err)
	}
	if len(f.Tiers) == 0 {
		return nil, ErrNoTiers
	}
	for i, t := range f.Tiers {
		if t.URI == "" {
			return nil, fmt.Errorf("tier %d (%q): missing uri", i, t.Name)
		}
	}
	sort.SliceStable(f.Tiers, func(i, j int) bool {
		return f.Tiers[i].Bitrate < f.Tiers[j].Bitrate
	})
	return f.Tiers, nil
}

// TiersFromURIs builds an unnamed ladder from URIs already ordered lowest
// quality first, as given in the TIERS variable.
func TiersFromURIs(uris []string) ([]TierSpec, error) {
	if len(uris) == 0 {
		return nil, ErrNoTiers
	}
	out := make([]TierSpec, len(uris))
	for i, u := range uris {
		out[i] = TierSpec{Name: "tier" + strconv.Itoa(i), URI: u}
	}
	return out, nil
}
