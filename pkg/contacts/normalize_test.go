package contacts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercase and trim", "  John Doe  ", "john doe"},
		{"accents folded", "José García", "jose garcia"},
		{"punctuation dropped", "O'Brien, Pat Jr.", "obrien pat jr"},
		{"whitespace collapsed", "John\t\n  Doe", "john doe"},
		{"digits kept", "Agent 99", "agent 99"},
		{"empty", "", ""},
		{"only punctuation", "---", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeName(tt.input))
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"formatted US number", "+1 (555) 123-4567", "5551234567"},
		{"bare ten digits", "5551234567", "5551234567"},
		{"eleven digits leading one", "15551234567", "5551234567"},
		{"eleven digits no leading one", "25551234567", "25551234567"},
		{"international", "+44 20 7946 0958", "442079460958"},
		{"no digits", "ext.", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePhone(tt.input))
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "john@x.com", NormalizeEmail("  John@X.COM "))
	assert.Equal(t, "", NormalizeEmail("   "))
}

func TestNormalize(t *testing.T) {
	c := &Contact{
		ID:          "people/c1",
		DisplayName: "  John   Doe ",
		Emails:      []string{"John@X.com", "john@x.com", ""},
		Phones:      []string{"+1 (555) 123-4567", "555.123.4567"},
		Note:        "likes\n\nhiking",
	}

	n := Normalize(c)

	assert.Equal(t, "John Doe", n.DisplayName)
	assert.Equal(t, []string{"john@x.com"}, n.Emails)
	assert.Equal(t, []string{"5551234567"}, n.Phones)
	assert.Equal(t, "likes hiking", n.Note)

	// original untouched
	assert.Equal(t, "  John   Doe ", c.DisplayName)
	assert.Len(t, c.Emails, 3)
}

func TestContactValid(t *testing.T) {
	assert.True(t, (&Contact{DisplayName: "John"}).Valid())
	assert.True(t, (&Contact{Emails: []string{"j@x.com"}}).Valid())
	assert.False(t, (&Contact{Phones: []string{"5551234567"}}).Valid())
}

func TestContactName(t *testing.T) {
	assert.Equal(t, "John Doe", (&Contact{DisplayName: "John Doe"}).Name())
	assert.Equal(t, "John Doe", (&Contact{GivenName: "John", FamilyName: "Doe"}).Name())
	assert.Equal(t, "John", (&Contact{GivenName: "John"}).Name())
}

func TestGroupKey(t *testing.T) {
	g := &Group{ID: "contactGroups/abc", Name: "  Family & Friends "}
	assert.Equal(t, "family friends", g.Key())
}
