package reconcile

import (
	"fmt"
	"strings"

	"github.com/dyadsync/dyad/pkg/contacts"
)

// Strategy selects how divergent concurrent edits are adjudicated.
type Strategy string

const (
	// StrategyLastModified picks the record with the later
	// modification timestamp; equal timestamps fall back to account A.
	StrategyLastModified Strategy = "last_modified"

	// StrategyPreferA always keeps account A's version.
	StrategyPreferA Strategy = "prefer_a"

	// StrategyPreferB always keeps account B's version.
	StrategyPreferB Strategy = "prefer_b"
)

// ParseStrategy converts a config string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyLastModified, "":
		return StrategyLastModified, nil
	case StrategyPreferA:
		return StrategyPreferA, nil
	case StrategyPreferB:
		return StrategyPreferB, nil
	default:
		return "", fmt.Errorf("unknown conflict strategy %q", s)
	}
}

// Winner identifies which side of a conflict prevails.
type Winner int

const (
	WinnerA Winner = iota
	WinnerB
)

// String implements fmt.Stringer.
func (w Winner) String() string {
	if w == WinnerB {
		return "B"
	}
	return "A"
}

// Resolve adjudicates a conflict between two concurrently edited
// records. It is pure: no side effects, same inputs always produce
// the same winner. Unknown strategies report ok=false and the caller
// falls back to account A.
func Resolve(a, b *contacts.Contact, strategy Strategy) (winner Winner, ok bool) {
	switch strategy {
	case StrategyPreferA:
		return WinnerA, true
	case StrategyPreferB:
		return WinnerB, true
	case StrategyLastModified:
		if b.LastModified.After(a.LastModified) {
			return WinnerB, true
		}
		return WinnerA, true
	default:
		return WinnerA, false
	}
}
