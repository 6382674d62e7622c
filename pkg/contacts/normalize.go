package contacts

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldMarks decomposes unicode and strips combining marks, so that
// "José" and "Jose" normalize identically.
var foldMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))

// NormalizeName canonicalizes a display name for matching: accents are
// folded, case is lowered, punctuation is dropped, and whitespace is
// collapsed to single spaces.
func NormalizeName(name string) string {
	if name == "" {
		return ""
	}

	folded, _, err := transform.String(foldMarks, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// NormalizeEmail canonicalizes an email address for matching.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone reduces a phone number to its digits. Eleven-digit
// numbers with a leading country code 1 are reduced to ten digits so
// "+1 (555) 123-4567" and "555-123-4567" compare equal.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	return digits
}

// NormalizeText collapses internal whitespace and trims free-form text
// fields (organization, note) so whitespace-only edits never register
// as content changes.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Normalize returns a canonical copy of the contact with emails
// lowercased, phones reduced to digits, and free-form text fields
// whitespace-collapsed. Empty values produced by normalization are
// dropped from list fields.
func Normalize(c *Contact) *Contact {
	out := c.Clone()

	out.DisplayName = NormalizeText(c.DisplayName)
	out.GivenName = NormalizeText(c.GivenName)
	out.FamilyName = NormalizeText(c.FamilyName)
	out.Note = NormalizeText(c.Note)

	out.Emails = normalizeList(c.Emails, NormalizeEmail)
	out.Phones = normalizeList(c.Phones, NormalizePhone)
	out.Organizations = normalizeList(c.Organizations, NormalizeText)

	return out
}

func normalizeList(values []string, fn func(string) string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		n := fn(v)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// EmailSet returns the contact's normalized emails as a set.
func EmailSet(c *Contact) map[string]struct{} {
	set := make(map[string]struct{}, len(c.Emails))
	for _, e := range c.Emails {
		if n := NormalizeEmail(e); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// PhoneSet returns the contact's normalized phones as a set.
func PhoneSet(c *Contact) map[string]struct{} {
	set := make(map[string]struct{}, len(c.Phones))
	for _, p := range c.Phones {
		if n := NormalizePhone(p); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}
