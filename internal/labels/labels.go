// Package labels maps class names to output indices and back.
package labels

import (
	"fmt"
	"strings"
)

const (
	Malignant = "malignant"
	Benign    = "benign"
)

// Mapping is immutable once built; all accessors return copies.
type Mapping struct {
	byName  map[string]int
	byIndex []string
}

// Default returns the encoding the checkpoint was trained with.
func Default() Mapping {
	m, _ := FromClasses([]string{Malignant, Benign})
	return m
}

// FromClasses builds a mapping where classes[i] is encoded as i.
func FromClasses(classes []string) (Mapping, error) {
	if len(classes) == 0 {
		return Mapping{}, fmt.Errorf("no classes given")
	}

	byName := make(map[string]int, len(classes))
	byIndex := make([]string, len(classes))
	for i, name := range classes {
		name = strings.TrimSpace(name)
		if name == "" {
			return Mapping{}, fmt.Errorf("class %d has an empty name", i)
		}
		if prev, ok := byName[name]; ok {
			return Mapping{}, fmt.Errorf("class %q listed at both %d and %d", name, prev, i)
		}
		byName[name] = i
		byIndex[i] = name
	}

	return Mapping{byName: byName, byIndex: byIndex}, nil
}

func (m Mapping) Encode(name string) (int, error) {
	idx, ok := m.byName[name]
	if !ok {
		return 0, fmt.Errorf("unknown class %q", name)
	}
	return idx, nil
}

func (m Mapping) Decode(index int) (string, error) {
	if index < 0 || index >= len(m.byIndex) {
		return "", fmt.Errorf("class index %d out of range [0,%d)", index, len(m.byIndex))
	}
	return m.byIndex[index], nil
}

func (m Mapping) Len() int {
	return len(m.byIndex)
}

func (m Mapping) Classes() []string {
	out := make([]string, len(m.byIndex))
	copy(out, m.byIndex)
	return out
}
