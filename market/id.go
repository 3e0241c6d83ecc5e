package market

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// ID prefixes. Identifiers look like "txn_01h2xcejqtf2nbrexx3vqjhp41" and
// sort by creation time.
const (
	PrefixUser        = "user"
	PrefixBook        = "book"
	PrefixTransaction = "txn"
)

// NewID generates a prefixed, time-sortable identifier.
// It panics on an invalid prefix, which is a programming error.
func NewID(prefix string) string {
	tid, err := typeid.Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("market: invalid id prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// ValidID reports whether s parses as an identifier carrying prefix.
func ValidID(prefix, s string) bool {
	if s == "" {
		return false
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return false
	}
	return tid.Prefix() == prefix
}
