package model

import "strings"

// EntityRef identifies one firmware-exposed entity, e.g.
// "switch.irrigator_zone_1" or "number.irrigator_zone_1_run_duration".
type EntityRef string

// Domain returns the part before the first dot ("switch", "number", ...).
func (r EntityRef) Domain() string {
	s := string(r)
	if i := strings.IndexByte(s, '.'); i > 0 {
		return s[:i]
	}
	return ""
}

// ObjectID returns the part after the first dot.
func (r EntityRef) ObjectID() string {
	s := string(r)
	if i := strings.IndexByte(s, '.'); i >= 0 && i+1 < len(s) {
		return s[i+1:]
	}
	return s
}

func (r EntityRef) IsZero() bool { return r == "" }
