package contacts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseContact() *Contact {
	return &Contact{
		ID:            "people/c1",
		Etag:          "etag-1",
		DisplayName:   "John Doe",
		Emails:        []string{"john@x.com", "jd@work.com"},
		Phones:        []string{"5551234567", "5559876543"},
		Organizations: []string{"Acme Corp"},
		Note:          "met at conference",
	}
}

func TestFingerprintOrderIndependence(t *testing.T) {
	a := baseContact()
	b := baseContact()
	b.Emails = []string{"jd@work.com", "john@x.com"}
	b.Phones = []string{"5559876543", "5551234567"}

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintIgnoresAccountLocalFields(t *testing.T) {
	a := baseContact()
	b := baseContact()
	b.ID = "people/c999"
	b.Etag = "etag-other"

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintSensitivity(t *testing.T) {
	base := Fingerprint(baseContact())

	mutations := map[string]func(*Contact){
		"name":         func(c *Contact) { c.DisplayName = "Jane Doe" },
		"email added":  func(c *Contact) { c.Emails = append(c.Emails, "extra@x.com") },
		"email edited": func(c *Contact) { c.Emails[0] = "john.doe@x.com" },
		"phone":        func(c *Contact) { c.Phones = c.Phones[:1] },
		"organization": func(c *Contact) { c.Organizations[0] = "Other Inc" },
		"note":         func(c *Contact) { c.Note = "different note" },
		"photo":        func(c *Contact) { c.PhotoRef = "photos/p1" },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			c := baseContact()
			mutate(c)
			assert.NotEqual(t, base, Fingerprint(c))
		})
	}
}

func TestFingerprintAbsorbsFormattingChurn(t *testing.T) {
	a := baseContact()
	b := baseContact()
	b.DisplayName = "  John   Doe"
	b.Emails = []string{"John@X.com", "JD@Work.com"}
	b.Phones = []string{"(555) 123-4567", "+1 555 987 6543"}
	b.Note = "met  at\nconference"

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintPhotoByPresence(t *testing.T) {
	a := baseContact()
	a.PhotoRef = "photos/AAA"
	b := baseContact()
	b.PhotoRef = "photos/BBB"

	// each account names the same image differently
	assert.Equal(t, Fingerprint(a), Fingerprint(b))

	b.PhotoRef = ""
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintGroupMemberships(t *testing.T) {
	a := baseContact()
	a.GroupIDs = []string{"contactGroups/a", "contactGroups/b"}
	a.GroupNames = []string{"family", "work"}

	// same membership under different account-local IDs and ordering
	b := baseContact()
	b.GroupIDs = []string{"contactGroups/x", "contactGroups/y"}
	b.GroupNames = []string{"Work", "Family"}
	assert.Equal(t, Fingerprint(a), Fingerprint(b))

	// membership change is a content change
	b.GroupNames = []string{"family"}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))

	// unresolved group IDs alone never shift the digest
	c := baseContact()
	c.GroupIDs = []string{"contactGroups/gone"}
	assert.Equal(t, Fingerprint(baseContact()), Fingerprint(c))
}
