// Package trigger maps switcher input numbers to video processor profiles.
package trigger

import (
	"go.uber.org/zap"
)

// Mode selects the command dialect used to switch profiles.
type Mode string

const (
	// ModeSVS uses "SVS NEW INPUT=N" (preferred, loads the S<N>_*.rt4
	// profile slot).
	ModeSVS Mode = "SVS"
	// ModeRemote uses "remote profN" (emulates an IR remote button).
	ModeRemote Mode = "REMOTE"
)

// MaxProfile is the highest selectable profile number.
const MaxProfile = 12

// Mapping links one switcher input to one processor profile. Mappings are
// immutable once installed; the table is only ever replaced wholesale.
type Mapping struct {
	Input   int    // switcher input number (1-based)
	Mode    Mode   // command dialect
	Profile int    // target profile (1..MaxProfile)
	Name    string // human-readable label for UI display
}

// Table is an ordered set of unique input-to-profile mappings.
type Table struct {
	mappings []Mapping
}

// NewTable builds a table from the given mappings, dropping entries with
// duplicate inputs or out-of-range fields. Invalid entries are logged as
// warnings, never treated as fatal.
func NewTable(mappings []Mapping, logger *zap.Logger) *Table {
	seen := make(map[int]bool)
	valid := make([]Mapping, 0, len(mappings))

	for _, m := range mappings {
		switch {
		case m.Input <= 0:
			logger.Warn("Dropping trigger with invalid input",
				zap.Int("input", m.Input), zap.String("name", m.Name))
		case m.Profile < 1 || m.Profile > MaxProfile:
			logger.Warn("Dropping trigger with out-of-range profile",
				zap.Int("input", m.Input), zap.Int("profile", m.Profile))
		case m.Mode != ModeSVS && m.Mode != ModeRemote:
			logger.Warn("Dropping trigger with unknown mode",
				zap.Int("input", m.Input), zap.String("mode", string(m.Mode)))
		case seen[m.Input]:
			logger.Warn("Dropping trigger with duplicate input",
				zap.Int("input", m.Input), zap.String("name", m.Name))
		default:
			seen[m.Input] = true
			valid = append(valid, m)
		}
	}

	return &Table{mappings: valid}
}

// Lookup returns the mapping for the given input. A missing mapping is a
// normal condition, not an error.
func (t *Table) Lookup(input int) (Mapping, bool) {
	for _, m := range t.mappings {
		if m.Input == input {
			return m, true
		}
	}
	return Mapping{}, false
}

// Mappings returns the installed mappings, oldest first.
func (t *Table) Mappings() []Mapping {
	out := make([]Mapping, len(t.mappings))
	copy(out, t.mappings)
	return out
}

// Len returns the number of installed mappings.
func (t *Table) Len() int {
	return len(t.mappings)
}
