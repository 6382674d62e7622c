package match

import (
	"context"

	"github.com/dyadsync/dyad/pkg/contacts"
	"github.com/dyadsync/dyad/pkg/errors"
	"github.com/dyadsync/dyad/pkg/logging"
	"github.com/dyadsync/dyad/pkg/state"
)

// CachedClassifier wraps a Classifier with a durable decision cache
// keyed by record IDs and content fingerprints. A pair is
// re-classified only when either side's content changed, so repeated
// runs over a stable address book make no external calls.
type CachedClassifier struct {
	inner    Classifier
	store    state.Store
	readOnly bool
}

var _ Classifier = (*CachedClassifier)(nil)

// NewCachedClassifier wraps inner with the store-backed cache.
func NewCachedClassifier(inner Classifier, store state.Store) *CachedClassifier {
	return &CachedClassifier{inner: inner, store: store}
}

// ReadOnly returns a view of the cache that consults stored decisions
// but records nothing new. Dry runs use it so they touch no table at
// all, even while another run holds the lock.
func (c *CachedClassifier) ReadOnly() *CachedClassifier {
	return &CachedClassifier{inner: c.inner, store: c.store, readOnly: true}
}

// Classify implements Classifier.
func (c *CachedClassifier) Classify(ctx context.Context, a, b *contacts.Contact) (Decision, error) {
	fpA := contacts.Fingerprint(a)
	fpB := contacts.Fingerprint(b)

	cached, err := c.store.CachedDecision(ctx, a.ID, b.ID, fpA, fpB)
	if err == nil {
		return Decision{
			Match:      cached.Match,
			Confidence: cached.Confidence,
			Reasoning:  cached.Reasoning,
		}, nil
	}
	if !errors.IsNotFound(err) {
		logging.Ctx(ctx).Warn().Err(err).Msg("Classifier cache read failed")
	}

	decision, err := c.inner.Classify(ctx, a, b)
	if err != nil {
		return Decision{}, err
	}
	if c.readOnly {
		return decision, nil
	}

	put := state.ClassifierDecision{
		AccountAID:   a.ID,
		AccountBID:   b.ID,
		FingerprintA: fpA,
		FingerprintB: fpB,
		Match:        decision.Match,
		Confidence:   decision.Confidence,
		Reasoning:    decision.Reasoning,
	}
	if err := c.store.PutDecision(ctx, put); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Classifier cache write failed")
	}

	return decision, nil
}
