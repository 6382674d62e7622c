// Package gemini implements assisted contact matching backed by the
// Gemini API. It is consulted only for candidate pairs whose name
// similarity is too low to auto-match and too high to dismiss, and its
// verdicts are cached by the caller so each pair is judged at most once
// per content revision.
package gemini

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/dyadsync/dyad/pkg/contacts"
	"github.com/dyadsync/dyad/pkg/errors"
	"github.com/dyadsync/dyad/pkg/logging"
	"github.com/dyadsync/dyad/pkg/match"
)

const (
	// DefaultModel is the model used when none is configured. A small
	// fast model is enough for a yes/no judgement over two short records.
	DefaultModel = "gemini-2.0-flash"

	// DefaultMaxOutputTokens bounds the reply; the expected JSON verdict
	// fits comfortably.
	DefaultMaxOutputTokens = 500

	// APIKeyEnvVar is consulted when no key is passed explicitly.
	APIKeyEnvVar = "GEMINI_API_KEY"
)

// Classifier judges ambiguous contact pairs with Gemini. It implements
// match.Classifier. The underlying API client is created lazily on the
// first Classify call so constructing a Classifier never touches the
// network.
type Classifier struct {
	apiKey          string
	model           string
	maxOutputTokens int32
	logger          *zerolog.Logger

	mu     sync.Mutex
	client *genai.Client
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithModel overrides the model used for classification.
func WithModel(model string) Option {
	return func(c *Classifier) {
		if model != "" {
			c.model = model
		}
	}
}

// WithMaxOutputTokens overrides the reply token budget.
func WithMaxOutputTokens(n int32) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.maxOutputTokens = n
		}
	}
}

// WithLogger sets the logger used for classification events.
func WithLogger(logger *zerolog.Logger) Option {
	return func(c *Classifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Gemini-backed classifier. The API key falls back to the
// GEMINI_API_KEY environment variable; when neither is set the error
// satisfies errors.Is(err, errors.ErrClassifierUnavailable) so callers
// can degrade to unassisted matching.
func New(apiKey string, opts ...Option) (*Classifier, error) {
	if apiKey == "" {
		apiKey = os.Getenv(APIKeyEnvVar)
	}
	if apiKey == "" {
		return nil, &errors.ConfigError{
			Component: "gemini",
			Message:   fmt.Sprintf("API key required for assisted matching - set %s or disable the classifier", APIKeyEnvVar),
			Err:       errors.ErrClassifierUnavailable,
		}
	}

	c := &Classifier{
		apiKey:          apiKey,
		model:           DefaultModel,
		maxOutputTokens: DefaultMaxOutputTokens,
		logger:          logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// getOrCreateClient lazily initializes the genai client.
func (c *Classifier) getOrCreateClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  c.apiKey,
	})
	if err != nil {
		return nil, &errors.AuthenticationError{
			Account: "gemini",
			Method:  "api_key",
			Message: "failed to create Gemini client",
			Err:     err,
		}
	}

	c.client = client
	return client, nil
}

// Classify asks the model whether the two records describe the same
// person and parses its JSON verdict into a match.Decision.
func (c *Classifier) Classify(ctx context.Context, a, b *contacts.Contact) (match.Decision, error) {
	client, err := c.getOrCreateClient(ctx)
	if err != nil {
		return match.Decision{}, err
	}

	prompt := buildPrompt(a, b)

	resp, err := client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		MaxOutputTokens:  c.maxOutputTokens,
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	})
	if err != nil {
		return match.Decision{}, fmt.Errorf("gemini classification for %s / %s: %w", a.ID, b.ID, err)
	}

	decision, err := parseDecision(resp.Text())
	if err != nil {
		return match.Decision{}, fmt.Errorf("gemini classification for %s / %s: %w", a.ID, b.ID, err)
	}

	c.logger.Debug().
		Str("a_id", a.ID).
		Str("b_id", b.ID).
		Bool("match", decision.Match).
		Float64("confidence", decision.Confidence).
		Msg("Classified ambiguous pair")

	return decision, nil
}

// buildPrompt renders both records into the classification prompt. Raw
// field values are used rather than normalized ones; the model benefits
// from seeing capitalization, diacritics, and formatting as entered.
func buildPrompt(a, b *contacts.Contact) string {
	var sb strings.Builder
	sb.WriteString("You are a contact deduplication expert. ")
	sb.WriteString("Determine if these two contacts represent the same person.\n\n")
	writeContact(&sb, "Contact 1", a)
	sb.WriteString("\n")
	writeContact(&sb, "Contact 2", b)
	sb.WriteString(`
Consider:
1. Name variations (nicknames, middle names, typos)
2. Email domain patterns (personal vs work)
3. Phone number formats
4. Organization context

Respond with ONLY valid JSON (no markdown):
{"is_match": true/false, "confidence": 0.0-1.0, "reasoning": "brief explanation"}`)
	return sb.String()
}

func writeContact(sb *strings.Builder, label string, c *contacts.Contact) {
	fmt.Fprintf(sb, "%s:\n", label)
	fmt.Fprintf(sb, "- Name: %s\n", orNone(c.DisplayName))
	fmt.Fprintf(sb, "- Given Name: %s\n", orNone(c.GivenName))
	fmt.Fprintf(sb, "- Family Name: %s\n", orNone(c.FamilyName))
	fmt.Fprintf(sb, "- Emails: %s\n", listOrNone(c.Emails))
	fmt.Fprintf(sb, "- Phones: %s\n", listOrNone(c.Phones))
	fmt.Fprintf(sb, "- Organizations: %s\n", listOrNone(c.Organizations))
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}

func listOrNone(values []string) string {
	if len(values) == 0 {
		return "None"
	}
	return strings.Join(values, ", ")
}

// verdict is the wire shape of the model's reply.
type verdict struct {
	IsMatch    bool    `json:"is_match"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// parseDecision extracts the verdict from the model reply, tolerating
// markdown code fences despite the prompt asking for bare JSON.
func parseDecision(text string) (match.Decision, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimPrefix(text, "json")
		if i := strings.Index(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}
	if text == "" {
		return match.Decision{}, stderrors.New("empty classifier reply")
	}

	var v verdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return match.Decision{}, fmt.Errorf("malformed classifier reply: %w", err)
	}

	confidence := v.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	reasoning := v.Reasoning
	if reasoning == "" {
		reasoning = "no reasoning provided"
	}

	return match.Decision{
		Match:      v.IsMatch,
		Confidence: confidence,
		Reasoning:  reasoning,
	}, nil
}
