// Package keys defines the closed set of logical data slots that fundsync
// keeps in sync, along with typed views over their JSON values.
package keys

import (
	"fmt"
	"strings"
)

// Key identifies one logical slot of user data.
//
// The set is closed: every Key the sync engine handles is listed in All.
// Key values double as the storage key on both the local and remote side,
// so they must never be renamed once data exists under them.
type Key string

const (
	// Funds is the watched-items list: records carrying a "code" field.
	Funds Key = "funds"

	// Positions maps a fund code to the user's holding in it.
	Positions Key = "positions"

	// Favorites is the set of favorite fund codes.
	Favorites Key = "favorites"

	// Groups is the list of named groups ({id, name, codes}).
	Groups Key = "groups"

	// CollapsedCodes is the set of fund codes whose detail card is collapsed.
	CollapsedCodes Key = "collapsedCodes"

	// RefreshMs is the market data refresh interval in milliseconds.
	RefreshMs Key = "refreshMs"

	// ViewMode is the layout of the fund list (card or list).
	ViewMode Key = "viewMode"
)

var all = []Key{
	Funds,
	Positions,
	Favorites,
	Groups,
	CollapsedCodes,
	RefreshMs,
	ViewMode,
}

// All returns every logical key in the fixed enumeration order used by
// full sync passes. The returned slice is a copy.
func All() []Key {
	out := make([]Key, len(all))
	copy(out, all)
	return out
}

// String returns the storage name of the key.
func (k Key) String() string {
	return string(k)
}

// Valid reports whether k belongs to the closed key set.
func (k Key) Valid() bool {
	for _, known := range all {
		if k == known {
			return true
		}
	}
	return false
}

// Parse converts a storage name into a Key. Matching is case-insensitive
// so CLI users can type "collapsedcodes".
func Parse(name string) (Key, error) {
	for _, known := range all {
		if strings.EqualFold(string(known), name) {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown key %q (valid keys: %s)", name, Names())
}

// Names returns the comma-separated list of key names.
func Names() string {
	names := make([]string, len(all))
	for i, k := range all {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

// Default returns the value a key holds before anything was saved.
func (k Key) Default() any {
	switch k {
	case Funds, Favorites, Groups, CollapsedCodes:
		return []any{}
	case Positions:
		return map[string]any{}
	case RefreshMs:
		return DefaultRefreshMs
	case ViewMode:
		return string(ViewCard)
	default:
		return nil
	}
}
