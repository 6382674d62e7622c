package google

import (
	"time"

	"google.golang.org/api/people/v1"

	"github.com/dyadsync/dyad/pkg/contacts"
)

// personToContact converts a People API person into an engine record.
// Tombstones arrive as persons with metadata.deleted and no fields.
func personToContact(p *people.Person) *contacts.Contact {
	c := &contacts.Contact{
		ID:   p.ResourceName,
		Etag: p.Etag,
	}

	if p.Metadata != nil {
		c.Deleted = p.Metadata.Deleted
		for _, source := range p.Metadata.Sources {
			if source.UpdateTime == "" {
				continue
			}
			if t, err := time.Parse(time.RFC3339, source.UpdateTime); err == nil {
				if c.LastModified.IsZero() || t.After(c.LastModified) {
					c.LastModified = t
				}
			}
		}
	}

	if len(p.Names) > 0 {
		name := p.Names[0]
		c.DisplayName = name.DisplayName
		c.GivenName = name.GivenName
		c.FamilyName = name.FamilyName
	}
	if c.DisplayName == "" {
		c.DisplayName = c.Name()
	}

	for _, e := range p.EmailAddresses {
		if e.Value != "" {
			c.Emails = append(c.Emails, e.Value)
		}
	}
	for _, ph := range p.PhoneNumbers {
		if ph.Value != "" {
			c.Phones = append(c.Phones, ph.Value)
		}
	}
	for _, org := range p.Organizations {
		if org.Name != "" {
			c.Organizations = append(c.Organizations, org.Name)
		}
	}
	if len(p.Biographies) > 0 {
		c.Note = p.Biographies[0].Value
	}

	// The generated letter avatar carries Default; only a real photo
	// becomes a photo ref.
	for _, photo := range p.Photos {
		if photo.Url != "" && !photo.Default {
			c.PhotoRef = photo.Url
			break
		}
	}

	for _, m := range p.Memberships {
		if m.ContactGroupMembership != nil && m.ContactGroupMembership.ContactGroupResourceName != "" {
			c.GroupIDs = append(c.GroupIDs, m.ContactGroupMembership.ContactGroupResourceName)
		}
	}

	return c
}

// contactToPerson converts an engine record into the People API shape
// for create and update calls. Memberships, photos, and metadata are
// managed separately.
func contactToPerson(c *contacts.Contact) *people.Person {
	p := &people.Person{}

	if c.GivenName != "" || c.FamilyName != "" || c.DisplayName != "" {
		name := &people.Name{
			GivenName:  c.GivenName,
			FamilyName: c.FamilyName,
		}
		// The API derives displayName from the structured name; only
		// send it when that is all we have.
		if c.GivenName == "" && c.FamilyName == "" {
			name.UnstructuredName = c.DisplayName
		}
		p.Names = []*people.Name{name}
	}

	for _, e := range c.Emails {
		p.EmailAddresses = append(p.EmailAddresses, &people.EmailAddress{Value: e})
	}
	for _, ph := range c.Phones {
		p.PhoneNumbers = append(p.PhoneNumbers, &people.PhoneNumber{Value: ph})
	}
	for _, org := range c.Organizations {
		p.Organizations = append(p.Organizations, &people.Organization{Name: org})
	}
	if c.Note != "" {
		p.Biographies = []*people.Biography{{
			Value:       c.Note,
			ContentType: "TEXT_PLAIN",
		}}
	}

	return p
}

// groupToGroup converts a People API contact group.
func groupToGroup(g *people.ContactGroup) *contacts.Group {
	group := &contacts.Group{
		ID:     g.ResourceName,
		Name:   g.Name,
		System: g.GroupType == "SYSTEM_CONTACT_GROUP",
	}
	if g.Metadata != nil {
		group.Deleted = g.Metadata.Deleted
	}
	return group
}
