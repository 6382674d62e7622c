package match

import (
	"context"

	"github.com/dyadsync/dyad/pkg/contacts"
)

// Decision is the outcome of an external classification of a
// candidate contact pair.
type Decision struct {
	// Match reports whether the classifier judged the two records to
	// be the same person.
	Match bool

	// Confidence is the classifier's self-reported confidence in
	// [0, 1].
	Confidence float64

	// Reasoning is a short human-readable explanation, kept for run
	// logs and the decision cache.
	Reasoning string
}

// Classifier decides whether two ambiguous contact records refer to
// the same person. Implementations may call external services and may
// cache decisions keyed by record identity and content.
//
// The matcher only consults a Classifier for pairs whose name
// similarity falls in the ambiguous band with no shared identifiers;
// when no Classifier is configured those pairs stay unmatched.
type Classifier interface {
	Classify(ctx context.Context, a, b *contacts.Contact) (Decision, error)
}
