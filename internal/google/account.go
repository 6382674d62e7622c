package google

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/people/v1"

	"github.com/dyadsync/dyad/pkg/accounts"
	"github.com/dyadsync/dyad/pkg/contacts"
	"github.com/dyadsync/dyad/pkg/errors"
	"github.com/dyadsync/dyad/pkg/logging"
)

const (
	// personFields is requested on every read so fetched records carry
	// everything the engine fingerprints.
	personFields = "names,emailAddresses,phoneNumbers,organizations,biographies,photos,metadata,memberships"

	// updatePersonFields bounds what updates overwrite. Photos are
	// excluded; they go through the dedicated photo calls.
	updatePersonFields = "names,emailAddresses,phoneNumbers,organizations,biographies,memberships"

	groupFields = "name,groupType,metadata"

	// API maximum is 1000; a smaller page keeps responses cheap.
	pageSize = 200

	// 5MB photo ceiling imposed by the API.
	maxPhotoBytes = 5 * 1024 * 1024
)

// Account is a Google Contacts account backed by the People API. It
// implements accounts.Account; incremental listing uses People API
// sync tokens as cursors.
type Account struct {
	name   string
	svc    *people.Service
	http   *http.Client
	logger *zerolog.Logger

	// systemGroups caches resource names of system groups (myContacts,
	// starred) so membership writes never strip them.
	systemGroups map[string]bool
}

// AccountOption configures an Account.
type AccountOption func(*Account)

// WithAccountLogger sets the logger for API events.
func WithAccountLogger(logger *zerolog.Logger) AccountOption {
	return func(a *Account) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAccount opens the Google Contacts account identified by name,
// using its stored OAuth token. The name doubles as the token file
// identity and the engine-visible account name.
func NewAccount(ctx context.Context, name string, opts ...AccountOption) (*Account, error) {
	client, err := Client(ctx, name)
	if err != nil {
		return nil, err
	}
	return newAccount(ctx, name, client, opts...)
}

func newAccount(ctx context.Context, name string, client *http.Client, opts ...AccountOption) (*Account, error) {
	svc, err := people.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, &errors.ConfigError{
			Component: "google-people",
			Message:   "failed to create People API service",
			Err:       err,
		}
	}

	a := &Account{
		name:   name,
		svc:    svc,
		http:   client,
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Name implements accounts.Account.
func (a *Account) Name() string {
	return a.name
}

// List fetches records, incrementally when a sync-token cursor is
// given. An expired cursor (410 from the API) silently degrades to a
// full listing so the engine never has to care about token lifetimes.
func (a *Account) List(ctx context.Context, cursor string) (*accounts.Page, error) {
	page, err := a.list(ctx, cursor)
	if err != nil && cursor != "" && isCursorExpired(err) {
		a.logger.Warn().
			Str("account", a.name).
			Msg("Sync token expired, falling back to full listing")
		return a.list(ctx, "")
	}
	return page, err
}

func (a *Account) list(ctx context.Context, cursor string) (*accounts.Page, error) {
	var out []*contacts.Contact
	pageToken := ""
	nextCursor := ""

	for {
		call := a.svc.People.Connections.List("people/me").
			PersonFields(personFields).
			PageSize(pageSize).
			Context(ctx)
		if cursor != "" {
			call = call.SyncToken(cursor)
		} else {
			call = call.RequestSyncToken(true)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, a.wrapError("list contacts", err)
		}

		for _, person := range resp.Connections {
			out = append(out, personToContact(person))
		}

		if resp.NextSyncToken != "" {
			nextCursor = resp.NextSyncToken
		}
		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	return &accounts.Page{Contacts: out, NextCursor: nextCursor}, nil
}

// Create implements accounts.Account.
func (a *Account) Create(ctx context.Context, c *contacts.Contact) (string, error) {
	person := contactToPerson(c)

	created, err := a.svc.People.CreateContact(person).
		PersonFields(personFields).
		Context(ctx).
		Do()
	if err != nil {
		return "", a.wrapError("create contact", err)
	}
	return created.ResourceName, nil
}

// Update overwrites the record's syncable fields. The current etag is
// fetched first; the engine resolves content conflicts itself, so a
// lost etag race simply surfaces on the next run.
func (a *Account) Update(ctx context.Context, id string, c *contacts.Contact) error {
	current, err := a.svc.People.Get(id).
		PersonFields("metadata").
		Context(ctx).
		Do()
	if err != nil {
		return a.wrapError(fmt.Sprintf("get contact %s", id), err)
	}

	person := contactToPerson(c)
	person.Etag = current.Etag

	_, err = a.svc.People.UpdateContact(id, person).
		UpdatePersonFields(updatePersonFields).
		PersonFields(personFields).
		Context(ctx).
		Do()
	if err != nil {
		return a.wrapError(fmt.Sprintf("update contact %s", id), err)
	}
	return nil
}

// Delete removes a record. A 404 counts as success; the record is
// gone either way.
func (a *Account) Delete(ctx context.Context, id string) error {
	_, err := a.svc.People.DeleteContact(id).Context(ctx).Do()
	if err != nil {
		wrapped := a.wrapError(fmt.Sprintf("delete contact %s", id), err)
		if errors.IsNotFound(wrapped) {
			return nil
		}
		return wrapped
	}
	return nil
}

// ListGroups implements accounts.Account. System groups are returned
// with System set so the engine can skip them.
func (a *Account) ListGroups(ctx context.Context) ([]*contacts.Group, error) {
	var out []*contacts.Group
	system := make(map[string]bool)
	pageToken := ""

	for {
		call := a.svc.ContactGroups.List().
			GroupFields(groupFields).
			PageSize(pageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, a.wrapError("list groups", err)
		}

		for _, g := range resp.ContactGroups {
			group := groupToGroup(g)
			if group.System {
				system[group.ID] = true
			}
			out = append(out, group)
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	a.systemGroups = system
	return out, nil
}

// CreateGroup implements accounts.Account.
func (a *Account) CreateGroup(ctx context.Context, name string) (string, error) {
	created, err := a.svc.ContactGroups.Create(&people.CreateContactGroupRequest{
		ContactGroup: &people.ContactGroup{Name: name},
	}).Context(ctx).Do()
	if err != nil {
		return "", a.wrapError(fmt.Sprintf("create group %q", name), err)
	}
	return created.ResourceName, nil
}

// SetMembership replaces the record's user-group memberships. System
// memberships (myContacts, starred) are preserved; stripping them
// would orphan the contact.
func (a *Account) SetMembership(ctx context.Context, recordID string, groupIDs []string) error {
	if a.systemGroups == nil {
		if _, err := a.ListGroups(ctx); err != nil {
			return err
		}
	}

	current, err := a.svc.People.Get(recordID).
		PersonFields("memberships,metadata").
		Context(ctx).
		Do()
	if err != nil {
		return a.wrapError(fmt.Sprintf("get contact %s", recordID), err)
	}

	var memberships []*people.Membership
	seen := make(map[string]bool)
	for _, m := range current.Memberships {
		if m.ContactGroupMembership == nil {
			continue
		}
		rn := m.ContactGroupMembership.ContactGroupResourceName
		if a.systemGroups[rn] && !seen[rn] {
			memberships = append(memberships, m)
			seen[rn] = true
		}
	}
	for _, id := range groupIDs {
		if seen[id] {
			continue
		}
		memberships = append(memberships, &people.Membership{
			ContactGroupMembership: &people.ContactGroupMembership{
				ContactGroupResourceName: id,
			},
		})
		seen[id] = true
	}

	_, err = a.svc.People.UpdateContact(recordID, &people.Person{
		Etag:        current.Etag,
		Memberships: memberships,
	}).
		UpdatePersonFields("memberships").
		PersonFields(personFields).
		Context(ctx).
		Do()
	if err != nil {
		return a.wrapError(fmt.Sprintf("set memberships for %s", recordID), err)
	}
	return nil
}

// FetchPhoto downloads the record's photo bytes. Records without a
// real photo (no ref, or only the generated letter avatar) return nil.
func (a *Account) FetchPhoto(ctx context.Context, c *contacts.Contact) ([]byte, error) {
	if c.PhotoRef == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PhotoRef, nil)
	if err != nil {
		return nil, errors.WrapResource("fetch photo", "contact", c.ID, err)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, errors.WrapResource("fetch photo", "contact", c.ID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.WrapAPI(a.name, resp.StatusCode,
			fmt.Errorf("photo download for %s returned status %d", c.ID, resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return nil, errors.WrapResource("fetch photo", "contact", c.ID, err)
	}
	if len(data) > maxPhotoBytes {
		return nil, errors.WrapResource("fetch photo", "contact", c.ID,
			fmt.Errorf("photo exceeds %d byte limit", maxPhotoBytes))
	}
	return data, nil
}

// SetPhoto replaces the record's photo; nil clears it. Clearing a
// record that has no photo is a no-op.
func (a *Account) SetPhoto(ctx context.Context, id string, data []byte) error {
	if data == nil {
		_, err := a.svc.People.DeleteContactPhoto(id).Context(ctx).Do()
		if err != nil {
			wrapped := a.wrapError(fmt.Sprintf("delete photo for %s", id), err)
			if errors.IsNotFound(wrapped) {
				return nil
			}
			return wrapped
		}
		return nil
	}

	if len(data) > maxPhotoBytes {
		return errors.WrapResource("set photo", "contact", id,
			fmt.Errorf("photo exceeds %d byte limit", maxPhotoBytes))
	}

	_, err := a.svc.People.UpdateContactPhoto(id, &people.UpdateContactPhotoRequest{
		PhotoBytes: base64.StdEncoding.EncodeToString(data),
	}).Context(ctx).Do()
	if err != nil {
		return a.wrapError(fmt.Sprintf("set photo for %s", id), err)
	}
	return nil
}

// wrapError maps googleapi errors onto the engine's error taxonomy so
// status codes drive retry and abort decisions.
func (a *Account) wrapError(operation string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if stderrors.As(err, &apiErr) {
		return errors.WrapAPI(a.name, apiErr.Code, fmt.Errorf("%s: %w", operation, err))
	}
	return fmt.Errorf("%s %s: %w", a.name, operation, err)
}

func isCursorExpired(err error) bool {
	var apiErr *googleapi.Error
	return stderrors.As(err, &apiErr) && apiErr.Code == http.StatusGone
}
