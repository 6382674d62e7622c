// Package accounts defines the collaborator interface the sync engine
// uses to talk to a contact source, plus an in-memory implementation
// for tests.
package accounts

import (
	"context"

	"github.com/dyadsync/dyad/pkg/contacts"
)

// Page is one fetch result from an account.
type Page struct {
	// Contacts are the records returned by this fetch. Under an
	// incremental fetch this includes explicit deletion tombstones
	// (Contact.Deleted set); records absent from the page are simply
	// unchanged.
	Contacts []*contacts.Contact

	// NextCursor is the incremental token to store for the next run.
	// Empty when the account does not support incremental fetch.
	NextCursor string
}

// Account is one side of the sync pair. Implementations own all
// account-local concerns (transport, auth, paging, record format);
// the engine only sees normalized records.
//
// List, Create, Update, and Delete must be safe to retry: the engine
// retries them with backoff on transient errors.
type Account interface {
	// Name identifies the account in logs, summaries, and cursor
	// storage.
	Name() string

	// List fetches records. With an empty cursor the listing is full;
	// with a stored cursor it is incremental, returning only records
	// changed or deleted since the cursor was issued.
	List(ctx context.Context, cursor string) (*Page, error)

	// Create adds a record and returns its new account-local ID.
	Create(ctx context.Context, c *contacts.Contact) (string, error)

	// Update overwrites the syncable fields of the record with the
	// given ID.
	Update(ctx context.Context, id string, c *contacts.Contact) error

	// Delete removes the record with the given ID.
	Delete(ctx context.Context, id string) error

	// ListGroups returns the account's contact groups.
	ListGroups(ctx context.Context) ([]*contacts.Group, error)

	// CreateGroup adds a group and returns its account-local ID.
	CreateGroup(ctx context.Context, name string) (string, error)

	// SetMembership replaces the record's group memberships.
	SetMembership(ctx context.Context, recordID string, groupIDs []string) error

	// FetchPhoto returns the record's photo bytes, or nil when the
	// record has no photo.
	FetchPhoto(ctx context.Context, c *contacts.Contact) ([]byte, error)

	// SetPhoto replaces the record's photo; nil data clears it.
	SetPhoto(ctx context.Context, id string, data []byte) error
}
