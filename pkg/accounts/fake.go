package accounts

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/dyadsync/dyad/pkg/contacts"
	"github.com/dyadsync/dyad/pkg/errors"
)

// Fake is an in-memory Account for tests. It records every mutation,
// supports incremental listing with tombstones, and can inject
// failures per operation.
type Fake struct {
	mu sync.Mutex

	name    string
	nextID  int
	seq     int64
	records map[string]*fakeRecord
	groups  map[string]*contacts.Group
	photos  map[string][]byte

	// Calls is the ordered mutation log, entries like "create:work/c1".
	Calls []string

	// Fail maps an operation name ("list", "create", "update",
	// "delete", "create_group", "membership", "fetch_photo",
	// "set_photo") to an error returned on its next invocation. The
	// entry is consumed by the failing call.
	Fail map[string]error
}

type fakeRecord struct {
	contact *contacts.Contact
	seq     int64
	deleted bool
}

// NewFake creates an empty fake account.
func NewFake(name string) *Fake {
	return &Fake{
		name:    name,
		records: make(map[string]*fakeRecord),
		groups:  make(map[string]*contacts.Group),
		photos:  make(map[string][]byte),
		Fail:    make(map[string]error),
	}
}

// Name implements Account.
func (f *Fake) Name() string { return f.name }

// Seed inserts a record directly, bypassing the mutation log. The
// contact's ID is assigned if empty. Returns the ID.
func (f *Fake) Seed(c *contacts.Contact) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c.ID == "" {
		c.ID = f.newID()
	}
	f.seq++
	f.records[c.ID] = &fakeRecord{contact: c.Clone(), seq: f.seq}
	return c.ID
}

// Tombstone marks a seeded record as deleted so the next incremental
// listing reports it as an explicit deletion.
func (f *Fake) Tombstone(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r, ok := f.records[id]; ok {
		f.seq++
		r.seq = f.seq
		r.deleted = true
	}
}

// Touch re-marks a record as changed without editing it, simulating
// out-of-band metadata churn.
func (f *Fake) Touch(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r, ok := f.records[id]; ok {
		f.seq++
		r.seq = f.seq
	}
}

// Get returns a copy of the stored record, or nil.
func (f *Fake) Get(id string) *contacts.Contact {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.records[id]
	if !ok || r.deleted {
		return nil
	}
	return r.contact.Clone()
}

// Len reports the number of live records.
func (f *Fake) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, r := range f.records {
		if !r.deleted {
			n++
		}
	}
	return n
}

// List implements Account. A full listing returns live records only;
// an incremental listing returns records changed since the cursor,
// including deletion tombstones.
func (f *Fake) List(_ context.Context, cursor string) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.takeFailure("list"); err != nil {
		return nil, err
	}

	var since int64 = -1
	if cursor != "" {
		n, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, errors.ErrInvalidInput
		}
		since = n
	}

	page := &Page{NextCursor: strconv.FormatInt(f.seq, 10)}
	for _, r := range f.records {
		if cursor == "" {
			if !r.deleted {
				page.Contacts = append(page.Contacts, r.contact.Clone())
			}
			continue
		}
		if r.seq > since {
			c := r.contact.Clone()
			c.Deleted = r.deleted
			page.Contacts = append(page.Contacts, c)
		}
	}
	return page, nil
}

// Create implements Account.
func (f *Fake) Create(_ context.Context, c *contacts.Contact) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.takeFailure("create"); err != nil {
		return "", err
	}

	id := f.newID()
	stored := c.Clone()
	stored.ID = id
	// photos and memberships land only through SetPhoto/SetMembership
	stored.PhotoRef = ""
	stored.GroupIDs = nil
	stored.GroupNames = nil
	f.seq++
	f.records[id] = &fakeRecord{contact: stored, seq: f.seq}
	f.Calls = append(f.Calls, "create:"+id)
	return id, nil
}

// Update implements Account.
func (f *Fake) Update(_ context.Context, id string, c *contacts.Contact) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.takeFailure("update"); err != nil {
		return err
	}

	r, ok := f.records[id]
	if !ok || r.deleted {
		return errors.ErrNotFound
	}

	stored := c.Clone()
	stored.ID = id
	// an update rewrites the syncable fields, keeping the record's own
	// photo and memberships
	stored.PhotoRef = r.contact.PhotoRef
	stored.GroupIDs = append([]string(nil), r.contact.GroupIDs...)
	stored.GroupNames = nil
	f.seq++
	r.contact = stored
	r.seq = f.seq
	f.Calls = append(f.Calls, "update:"+id)
	return nil
}

// Delete implements Account.
func (f *Fake) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.takeFailure("delete"); err != nil {
		return err
	}

	r, ok := f.records[id]
	if !ok {
		return errors.ErrNotFound
	}
	f.seq++
	r.seq = f.seq
	r.deleted = true
	f.Calls = append(f.Calls, "delete:"+id)
	return nil
}

// ListGroups implements Account.
func (f *Fake) ListGroups(_ context.Context) ([]*contacts.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*contacts.Group
	for _, g := range f.groups {
		copied := *g
		out = append(out, &copied)
	}
	return out, nil
}

// SeedGroup inserts a group directly. Returns its ID.
func (f *Fake) SeedGroup(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addGroup(name)
}

// CreateGroup implements Account.
func (f *Fake) CreateGroup(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.takeFailure("create_group"); err != nil {
		return "", err
	}

	id := f.addGroup(name)
	f.Calls = append(f.Calls, "create_group:"+id)
	return id, nil
}

// SetMembership implements Account.
func (f *Fake) SetMembership(_ context.Context, recordID string, groupIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.takeFailure("membership"); err != nil {
		return err
	}

	r, ok := f.records[recordID]
	if !ok || r.deleted {
		return errors.ErrNotFound
	}
	f.seq++
	r.contact.GroupIDs = append([]string(nil), groupIDs...)
	r.seq = f.seq
	f.Calls = append(f.Calls, "membership:"+recordID)
	return nil
}

// FetchPhoto implements Account.
func (f *Fake) FetchPhoto(_ context.Context, c *contacts.Contact) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.takeFailure("fetch_photo"); err != nil {
		return nil, err
	}

	if c.PhotoRef == "" {
		return nil, nil
	}
	return f.photos[c.PhotoRef], nil
}

// SetPhoto implements Account.
func (f *Fake) SetPhoto(_ context.Context, id string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.takeFailure("set_photo"); err != nil {
		return err
	}

	r, ok := f.records[id]
	if !ok || r.deleted {
		return errors.ErrNotFound
	}

	f.seq++
	r.seq = f.seq
	if data == nil {
		f.photos[r.contact.PhotoRef] = nil
		r.contact.PhotoRef = ""
	} else {
		ref := fmt.Sprintf("photos/%s", id)
		f.photos[ref] = append([]byte(nil), data...)
		r.contact.PhotoRef = ref
	}
	f.Calls = append(f.Calls, "photo:"+id)
	return nil
}

// SeedPhoto stores photo bytes under a reference, bypassing the log.
func (f *Fake) SeedPhoto(ref string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos[ref] = append([]byte(nil), data...)
}

func (f *Fake) newID() string {
	f.nextID++
	return fmt.Sprintf("%s/c%d", f.name, f.nextID)
}

func (f *Fake) addGroup(name string) string {
	f.nextID++
	id := fmt.Sprintf("%s/g%d", f.name, f.nextID)
	f.groups[id] = &contacts.Group{ID: id, Name: name}
	return id
}

func (f *Fake) takeFailure(op string) error {
	if err, ok := f.Fail[op]; ok && err != nil {
		delete(f.Fail, op)
		return err
	}
	return nil
}
