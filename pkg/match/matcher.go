// Package match pairs contact records across two accounts that share
// no common identifier, using a tiered scoring policy over normalized
// names, emails, and phone numbers, with an optional external
// classifier for ambiguous pairs.
package match

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/dyadsync/dyad/pkg/contacts"
	"github.com/dyadsync/dyad/pkg/logging"
)

// Tier identifies which matching tier produced a pair. Lower is
// higher confidence.
type Tier int

const (
	// TierExact pairs share a normalized email or phone, or have
	// identical normalized display names.
	TierExact Tier = iota + 1

	// TierFuzzy pairs have near-identical names and neither side
	// carries any email or phone to corroborate with.
	TierFuzzy

	// TierAssisted pairs were confirmed by the external classifier.
	TierAssisted
)

// String implements fmt.Stringer.
func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierFuzzy:
		return "fuzzy"
	case TierAssisted:
		return "assisted"
	default:
		return "unknown"
	}
}

// Pair is a matched record pair.
type Pair struct {
	A     *contacts.Contact
	B     *contacts.Contact
	Tier  Tier
	Score float64
}

// Result is the outcome of matching two collections.
type Result struct {
	Pairs      []Pair
	UnmatchedA []*contacts.Contact
	UnmatchedB []*contacts.Contact
}

// Config holds matcher thresholds.
type Config struct {
	// SimilarityThreshold is the minimum name similarity for a fuzzy
	// match backed by a shared identifier.
	SimilarityThreshold float64

	// NameOnlyThreshold is the stricter minimum when neither record
	// has any email or phone.
	NameOnlyThreshold float64

	// ClassifierFloor is the lower bound of the ambiguous band
	// submitted to the external classifier.
	ClassifierFloor float64
}

// DefaultConfig returns the default matcher thresholds.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.85,
		NameOnlyThreshold:   0.95,
		ClassifierFloor:     0.70,
	}
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithConfig overrides the default thresholds.
func WithConfig(cfg Config) Option {
	return func(m *Matcher) {
		m.cfg = cfg
	}
}

// WithClassifier enables tier-3 assisted matching. Without a
// classifier, ambiguous pairs stay unmatched.
func WithClassifier(c Classifier) Option {
	return func(m *Matcher) {
		m.classifier = c
	}
}

// WithLogger sets the matcher's logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(m *Matcher) {
		m.logger = logger
	}
}

// Matcher establishes a partial bijection between two unordered
// contact collections.
type Matcher struct {
	cfg        Config
	classifier Classifier
	logger     *zerolog.Logger
}

// NewMatcher creates a Matcher with the given options.
func NewMatcher(opts ...Option) *Matcher {
	m := &Matcher{
		cfg:    DefaultConfig(),
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// candidate is a scored cross-collection pair awaiting assignment.
type candidate struct {
	a, b  int
	tier  Tier
	score float64
}

// side holds precomputed matching keys for one collection.
type side struct {
	records []*contacts.Contact
	names   []string
	emails  []map[string]struct{}
	phones  []map[string]struct{}
	taken   []bool
}

func buildSide(records []*contacts.Contact) *side {
	sorted := append([]*contacts.Contact(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	s := &side{
		records: sorted,
		names:   make([]string, len(sorted)),
		emails:  make([]map[string]struct{}, len(sorted)),
		phones:  make([]map[string]struct{}, len(sorted)),
		taken:   make([]bool, len(sorted)),
	}
	for i, c := range sorted {
		s.names[i] = contacts.NormalizeName(c.Name())
		s.emails[i] = contacts.EmailSet(c)
		s.phones[i] = contacts.PhoneSet(c)
	}
	return s
}

func (s *side) remaining() []*contacts.Contact {
	var out []*contacts.Contact
	for i, c := range s.records {
		if !s.taken[i] {
			out = append(out, c)
		}
	}
	return out
}

// Match pairs records from collection A with records from collection
// B. Each record is consumed by at most one pairing; when a record has
// multiple eligible candidates, the highest-tier then highest-score
// candidate wins, with remaining ties broken by record ID so repeated
// runs over the same input produce the same pairing.
func (m *Matcher) Match(ctx context.Context, colA, colB []*contacts.Contact) (*Result, error) {
	sa := buildSide(colA)
	sb := buildSide(colB)

	var scored []candidate
	var ambiguous []candidate

	for i := range sa.records {
		for j := range sb.records {
			c, ok := m.score(sa, sb, i, j)
			if !ok {
				continue
			}
			if c.tier == TierAssisted {
				ambiguous = append(ambiguous, c)
			} else {
				scored = append(scored, c)
			}
		}
	}

	sortCandidates(scored, sa, sb)
	sortCandidates(ambiguous, sa, sb)

	result := &Result{}

	for _, c := range scored {
		if sa.taken[c.a] || sb.taken[c.b] {
			continue
		}
		sa.taken[c.a] = true
		sb.taken[c.b] = true
		result.Pairs = append(result.Pairs, Pair{
			A:     sa.records[c.a],
			B:     sb.records[c.b],
			Tier:  c.tier,
			Score: c.score,
		})
	}

	if m.classifier != nil {
		if err := m.assist(ctx, sa, sb, ambiguous, result); err != nil {
			return nil, err
		}
	}

	result.UnmatchedA = sa.remaining()
	result.UnmatchedB = sb.remaining()
	return result, nil
}

// score classifies one cross pair into a tier, or reports it
// ineligible.
func (m *Matcher) score(sa, sb *side, i, j int) (candidate, bool) {
	sharedID := intersects(sa.emails[i], sb.emails[j]) || intersects(sa.phones[i], sb.phones[j])

	nameA, nameB := sa.names[i], sb.names[j]

	if sharedID || (nameA != "" && nameA == nameB) {
		return candidate{a: i, b: j, tier: TierExact, score: 1}, true
	}

	if nameA == "" || nameB == "" {
		return candidate{}, false
	}

	sim := Similarity(nameA, nameB)

	switch {
	case sim >= m.cfg.NameOnlyThreshold &&
		!sa.records[i].HasIdentifiers() && !sb.records[j].HasIdentifiers():
		return candidate{a: i, b: j, tier: TierFuzzy, score: sim}, true
	case sim >= m.cfg.ClassifierFloor && sim < m.cfg.SimilarityThreshold:
		return candidate{a: i, b: j, tier: TierAssisted, score: sim}, true
	}

	return candidate{}, false
}

// assist submits still-unconsumed ambiguous pairs to the external
// classifier. Classifier failures leave the pair unmatched rather
// than aborting the run.
func (m *Matcher) assist(ctx context.Context, sa, sb *side, ambiguous []candidate, result *Result) error {
	for _, c := range ambiguous {
		if sa.taken[c.a] || sb.taken[c.b] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		a, b := sa.records[c.a], sb.records[c.b]

		decision, err := m.classifier.Classify(ctx, a, b)
		if err != nil {
			m.logger.Warn().
				Err(err).
				Str("a_id", a.ID).
				Str("b_id", b.ID).
				Msg("Classifier unavailable, leaving pair unmatched")
			continue
		}

		m.logger.Debug().
			Str("a_id", a.ID).
			Str("b_id", b.ID).
			Bool("match", decision.Match).
			Float64("confidence", decision.Confidence).
			Msg("Classifier decision")

		if !decision.Match {
			continue
		}

		sa.taken[c.a] = true
		sb.taken[c.b] = true
		result.Pairs = append(result.Pairs, Pair{
			A:     a,
			B:     b,
			Tier:  TierAssisted,
			Score: decision.Confidence,
		})
	}
	return nil
}

// sortCandidates orders candidates by tier, then score descending,
// then record IDs.
func sortCandidates(cs []candidate, sa, sb *side) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].tier != cs[j].tier {
			return cs[i].tier < cs[j].tier
		}
		if cs[i].score != cs[j].score {
			return cs[i].score > cs[j].score
		}
		if idA, idB := sa.records[cs[i].a].ID, sa.records[cs[j].a].ID; idA != idB {
			return idA < idB
		}
		return sb.records[cs[i].b].ID < sb.records[cs[j].b].ID
	})
}

func intersects(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}
