package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyadsync/dyad/pkg/contacts"
	"github.com/dyadsync/dyad/pkg/errors"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv(APIKeyEnvVar, "")

	_, err := New("")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrClassifierUnavailable)

	c, err := New("test-key")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, c.model)
}

func TestNewReadsEnvironment(t *testing.T) {
	t.Setenv(APIKeyEnvVar, "env-key")

	c, err := New("", WithModel("gemini-2.5-pro"), WithMaxOutputTokens(800))
	require.NoError(t, err)
	assert.Equal(t, "env-key", c.apiKey)
	assert.Equal(t, "gemini-2.5-pro", c.model)
	assert.Equal(t, int32(800), c.maxOutputTokens)
}

func TestBuildPrompt(t *testing.T) {
	a := &contacts.Contact{
		ID:            "a1",
		DisplayName:   "Jonathan Doe",
		GivenName:     "Jonathan",
		FamilyName:    "Doe",
		Emails:        []string{"jon@example.com", "jdoe@work.example"},
		Organizations: []string{"Acme Corp"},
	}
	b := &contacts.Contact{
		ID:          "b1",
		DisplayName: "Jon Doe",
	}

	prompt := buildPrompt(a, b)

	assert.Contains(t, prompt, "Contact 1:")
	assert.Contains(t, prompt, "Contact 2:")
	assert.Contains(t, prompt, "- Name: Jonathan Doe")
	assert.Contains(t, prompt, "- Emails: jon@example.com, jdoe@work.example")
	assert.Contains(t, prompt, "- Organizations: Acme Corp")
	// Missing fields render as None rather than empty strings.
	assert.Contains(t, prompt, "- Phones: None")
	assert.Contains(t, prompt, "- Given Name: None")
	assert.Contains(t, prompt, `"is_match"`)
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		match      bool
		confidence float64
		wantErr    bool
	}{
		{
			name:       "bare json match",
			text:       `{"is_match": true, "confidence": 0.9, "reasoning": "same person"}`,
			match:      true,
			confidence: 0.9,
		},
		{
			name:       "bare json non-match",
			text:       `{"is_match": false, "confidence": 0.85, "reasoning": "different people"}`,
			match:      false,
			confidence: 0.85,
		},
		{
			name:       "fenced json",
			text:       "```json\n{\"is_match\": true, \"confidence\": 0.8, \"reasoning\": \"nickname\"}\n```",
			match:      true,
			confidence: 0.8,
		},
		{
			name:       "confidence clamped",
			text:       `{"is_match": true, "confidence": 1.7, "reasoning": "sure"}`,
			match:      true,
			confidence: 1.0,
		},
		{
			name:    "empty reply",
			text:    "   ",
			wantErr: true,
		},
		{
			name:    "prose instead of json",
			text:    "These are probably the same person.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := parseDecision(tt.text)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.match, d.Match)
			assert.InDelta(t, tt.confidence, d.Confidence, 1e-9)
			assert.NotEmpty(t, d.Reasoning)
		})
	}
}
