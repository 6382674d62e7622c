package google

import (
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/people/v1"

	"github.com/dyadsync/dyad/pkg/errors"
)

func TestPersonToContact(t *testing.T) {
	p := &people.Person{
		ResourceName: "people/c100",
		Etag:         "etag-1",
		Names: []*people.Name{{
			DisplayName: "Ada Lovelace",
			GivenName:   "Ada",
			FamilyName:  "Lovelace",
		}},
		EmailAddresses: []*people.EmailAddress{
			{Value: "ada@example.com"},
			{Value: ""},
		},
		PhoneNumbers:  []*people.PhoneNumber{{Value: "+1 (555) 123-4567"}},
		Organizations: []*people.Organization{{Name: "Analytical Engines"}},
		Biographies:   []*people.Biography{{Value: "First programmer"}},
		Photos: []*people.Photo{
			{Url: "https://img.example/default", Default: true},
			{Url: "https://img.example/real"},
		},
		Memberships: []*people.Membership{{
			ContactGroupMembership: &people.ContactGroupMembership{
				ContactGroupResourceName: "contactGroups/abc",
			},
		}},
		Metadata: &people.PersonMetadata{
			Sources: []*people.Source{
				{UpdateTime: "2026-01-02T03:04:05Z"},
				{UpdateTime: "2026-03-02T03:04:05Z"},
			},
		},
	}

	c := personToContact(p)

	assert.Equal(t, "people/c100", c.ID)
	assert.Equal(t, "etag-1", c.Etag)
	assert.Equal(t, "Ada Lovelace", c.DisplayName)
	assert.Equal(t, []string{"ada@example.com"}, c.Emails)
	assert.Equal(t, []string{"+1 (555) 123-4567"}, c.Phones)
	assert.Equal(t, []string{"Analytical Engines"}, c.Organizations)
	assert.Equal(t, "First programmer", c.Note)
	assert.Equal(t, "https://img.example/real", c.PhotoRef, "default avatar must not count as a photo")
	assert.Equal(t, []string{"contactGroups/abc"}, c.GroupIDs)
	assert.Equal(t, time.Date(2026, 3, 2, 3, 4, 5, 0, time.UTC), c.LastModified, "newest source wins")
	assert.False(t, c.Deleted)
}

func TestPersonToContactTombstone(t *testing.T) {
	p := &people.Person{
		ResourceName: "people/c200",
		Metadata:     &people.PersonMetadata{Deleted: true},
	}

	c := personToContact(p)
	assert.Equal(t, "people/c200", c.ID)
	assert.True(t, c.Deleted)
}

func TestPersonToContactDerivesDisplayName(t *testing.T) {
	p := &people.Person{
		ResourceName: "people/c300",
		Names:        []*people.Name{{GivenName: "Grace", FamilyName: "Hopper"}},
	}

	c := personToContact(p)
	assert.Equal(t, "Grace Hopper", c.DisplayName)
}

func TestContactToPerson(t *testing.T) {
	c := personToContact(&people.Person{
		ResourceName: "people/c100",
		Names:        []*people.Name{{GivenName: "Ada", FamilyName: "Lovelace"}},
		EmailAddresses: []*people.EmailAddress{
			{Value: "ada@example.com"},
		},
		Biographies: []*people.Biography{{Value: "notes"}},
	})

	p := contactToPerson(c)

	require.Len(t, p.Names, 1)
	assert.Equal(t, "Ada", p.Names[0].GivenName)
	assert.Equal(t, "Lovelace", p.Names[0].FamilyName)
	assert.Empty(t, p.Names[0].UnstructuredName, "structured name present, API derives display name")
	require.Len(t, p.EmailAddresses, 1)
	assert.Equal(t, "ada@example.com", p.EmailAddresses[0].Value)
	require.Len(t, p.Biographies, 1)
	assert.Equal(t, "TEXT_PLAIN", p.Biographies[0].ContentType)
}

func TestContactToPersonDisplayNameOnly(t *testing.T) {
	c := personToContact(&people.Person{
		ResourceName: "people/c400",
		Names:        []*people.Name{{DisplayName: "Prince"}},
	})

	p := contactToPerson(c)
	require.Len(t, p.Names, 1)
	assert.Equal(t, "Prince", p.Names[0].UnstructuredName)
}

func TestGroupToGroup(t *testing.T) {
	g := groupToGroup(&people.ContactGroup{
		ResourceName: "contactGroups/myContacts",
		Name:         "myContacts",
		GroupType:    "SYSTEM_CONTACT_GROUP",
	})
	assert.True(t, g.System)

	g = groupToGroup(&people.ContactGroup{
		ResourceName: "contactGroups/fam",
		Name:         "Family",
		GroupType:    "USER_CONTACT_GROUP",
		Metadata:     &people.ContactGroupMetadata{Deleted: true},
	})
	assert.False(t, g.System)
	assert.True(t, g.Deleted)
}

func TestWrapErrorMapsStatusCodes(t *testing.T) {
	a := &Account{name: "personal"}

	tests := []struct {
		code  int
		check func(error) bool
	}{
		{404, errors.IsNotFound},
		{429, errors.IsTransient},
		{503, errors.IsTransient},
		{401, errors.IsAuthorization},
	}
	for _, tt := range tests {
		err := a.wrapError("list contacts", &googleapi.Error{Code: tt.code})
		assert.True(t, tt.check(err), "status %d", tt.code)
	}

	assert.True(t, isCursorExpired(a.wrapError("list contacts", &googleapi.Error{Code: 410})))
	assert.False(t, isCursorExpired(a.wrapError("list contacts", &googleapi.Error{Code: 400})))
}

func TestTokenRoundTrip(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	xdg.Reload()
	defer xdg.Reload()

	_, err := LoadToken("personal")
	require.Error(t, err)
	assert.True(t, errors.IsAuthorization(err))

	token := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour).UTC(),
	}
	require.NoError(t, SaveToken("personal", token))

	loaded, err := LoadToken("personal")
	require.NoError(t, err)
	assert.Equal(t, "access", loaded.AccessToken)
	assert.Equal(t, "refresh", loaded.RefreshToken)
}
