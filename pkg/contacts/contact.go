// Package contacts defines the contact and group record types shared by
// the dyad sync engine, along with the normalization and fingerprinting
// routines that make records from independent accounts comparable.
package contacts

import (
	"fmt"
	"time"
)

// Contact is a normalized contact record from one account.
//
// The sync engine treats a Contact as an immutable value for the
// duration of a reconciliation pass. ID and Etag are account-local and
// never cross account boundaries; everything else is syncable content.
type Contact struct {
	// ID is the account-local identifier (e.g. "people/c12345").
	ID string

	// Etag guards updates against concurrent modification. Opaque,
	// account-local, excluded from fingerprints.
	Etag string

	DisplayName string
	GivenName   string
	FamilyName  string

	Emails        []string
	Phones        []string
	Organizations []string
	Note          string

	// PhotoRef identifies the contact photo, if any. The engine only
	// compares references; photo bytes are fetched lazily on propagate.
	PhotoRef string

	// GroupIDs are account-local identifiers of the groups this
	// contact belongs to.
	GroupIDs []string

	// GroupNames are the normalized names of those groups, resolved by
	// the orchestrator once both accounts' groups are known. Unlike
	// GroupIDs they are comparable across accounts and participate in
	// the content fingerprint.
	GroupNames []string

	LastModified time.Time

	// Deleted is set only when the account explicitly reports the
	// record as deleted. Absence from a listing is never a deletion.
	Deleted bool
}

// Valid reports whether the contact carries enough content to sync.
// A contact needs at least a display name or one email address.
func (c *Contact) Valid() bool {
	return c.DisplayName != "" || len(c.Emails) > 0
}

// Name returns the best available display name, falling back to
// given/family name parts when the display name is empty.
func (c *Contact) Name() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	switch {
	case c.GivenName != "" && c.FamilyName != "":
		return c.GivenName + " " + c.FamilyName
	case c.GivenName != "":
		return c.GivenName
	default:
		return c.FamilyName
	}
}

// HasIdentifiers reports whether the contact has any email or phone.
// Records without identifiers require the stricter name-only matching
// threshold.
func (c *Contact) HasIdentifiers() bool {
	return len(c.Emails) > 0 || len(c.Phones) > 0
}

// Clone returns a deep copy of the contact.
func (c *Contact) Clone() *Contact {
	out := *c
	out.Emails = append([]string(nil), c.Emails...)
	out.Phones = append([]string(nil), c.Phones...)
	out.Organizations = append([]string(nil), c.Organizations...)
	out.GroupIDs = append([]string(nil), c.GroupIDs...)
	out.GroupNames = append([]string(nil), c.GroupNames...)
	return &out
}

// String implements fmt.Stringer for log output.
func (c *Contact) String() string {
	return fmt.Sprintf("Contact(%s %q emails=%d)", c.ID, c.DisplayName, len(c.Emails))
}
