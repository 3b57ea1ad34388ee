package catalog

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Normalize returns the comparison form of a unit, role or application name:
// NFKC-composed, whitespace-collapsed, trimmed and upper-cased. Accented
// characters are preserved so "Dirección" and "Direccion" remain distinct.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	return cases.Upper(language.Und).String(s)
}

// Key identifies an entitlement for comparison purposes.
type Key struct {
	Unit        string
	Role        string
	Application string
}

// NewKey builds a normalized Key.
func NewKey(unit, role, application string) Key {
	return Key{
		Unit:        Normalize(unit),
		Role:        Normalize(role),
		Application: Normalize(application),
	}
}

// String renders the key for logs and messages.
func (k Key) String() string {
	return k.Unit + "|" + k.Role + "|" + k.Application
}

// IsActiveStatus reports whether an application access status counts as
// active. An empty status is treated as active.
func IsActiveStatus(status string) bool {
	switch Normalize(status) {
	case "", "ACTIVE", "ACTIVO":
		return true
	default:
		return false
	}
}

// BaseUnit returns the top-level segment of a hierarchical "unit/sub-unit"
// string.
func BaseUnit(unit string) string {
	unit = strings.TrimSpace(unit)
	if i := strings.Index(unit, "/"); i >= 0 {
		return strings.TrimSpace(unit[:i])
	}
	return unit
}
