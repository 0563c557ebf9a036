package reference

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

//go:embed data/reference.yaml
var embedded []byte

// Set is an immutable set of lowercased addresses
type Set struct {
	members map[string]struct{}
}

// NewSet builds a set from addresses, normalizing case
func NewSet(addresses ...string) Set {
	members := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			members[a] = struct{}{}
		}
	}
	return Set{members: members}
}

// Contains reports whether addr is in the set, ignoring case
func (s Set) Contains(addr string) bool {
	_, ok := s.members[strings.ToLower(strings.TrimSpace(addr))]
	return ok
}

// Len returns the number of distinct addresses
func (s Set) Len() int {
	return len(s.members)
}

// Sets groups the reference lists used for membership scoring
type Sets struct {
	Bridges Set
	Lending Set
	ENS     Set
	Mixers  Set
}

// bytesProvider feeds an in-memory document to koanf
type bytesProvider []byte

func (b bytesProvider) ReadBytes() ([]byte, error) {
	return b, nil
}

func (b bytesProvider) Read() (map[string]interface{}, error) {
	return nil, errors.New("bytes provider does not support Read")
}

// Load reads the embedded reference sets and, when path is non-empty,
// merges the file at path over them. A list present in the file replaces
// the embedded list of the same name.
func Load(path string) (*Sets, error) {
	k := koanf.New(".")

	if err := k.Load(bytesProvider(embedded), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load embedded reference data: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load reference data %s: %w", path, err)
		}
	}

	sets := &Sets{
		Bridges: NewSet(k.Strings("bridges")...),
		Lending: NewSet(k.Strings("lending")...),
		ENS:     NewSet(k.Strings("ens")...),
		Mixers:  NewSet(k.Strings("mixers")...),
	}

	if sets.Bridges.Len() == 0 || sets.Lending.Len() == 0 || sets.ENS.Len() == 0 || sets.Mixers.Len() == 0 {
		return nil, fmt.Errorf("reference data is missing a required list")
	}

	return sets, nil
}
