// Package backup writes timestamped YAML snapshots of an account's
// address book and prunes old ones. Snapshots are taken before
// mutating runs; there is no automatic restore.
package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog"

	"github.com/dyadsync/dyad/pkg/contacts"
	"github.com/dyadsync/dyad/pkg/errors"
	"github.com/dyadsync/dyad/pkg/logging"
)

const (
	snapshotVersion = "1"
	filePrefix      = "backup_"
	fileSuffix      = ".yaml"
	timestampLayout = "20060102_150405"

	// DefaultRetention is how many snapshots per account are kept.
	DefaultRetention = 10

	dirMode  = 0o700
	fileMode = 0o600
)

// Snapshot is the on-disk backup format.
type Snapshot struct {
	Version   string    `yaml:"version"`
	Account   string    `yaml:"account"`
	Timestamp time.Time `yaml:"timestamp"`
	Contacts  []Record  `yaml:"contacts"`
	Groups    []Group   `yaml:"groups,omitempty"`
}

// Record is a backed-up contact.
type Record struct {
	ID            string    `yaml:"id"`
	DisplayName   string    `yaml:"display_name,omitempty"`
	GivenName     string    `yaml:"given_name,omitempty"`
	FamilyName    string    `yaml:"family_name,omitempty"`
	Emails        []string  `yaml:"emails,omitempty"`
	Phones        []string  `yaml:"phones,omitempty"`
	Organizations []string  `yaml:"organizations,omitempty"`
	Note          string    `yaml:"note,omitempty"`
	PhotoRef      string    `yaml:"photo_ref,omitempty"`
	GroupIDs      []string  `yaml:"group_ids,omitempty"`
	LastModified  time.Time `yaml:"last_modified,omitempty"`
}

// Group is a backed-up contact group.
type Group struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	System bool   `yaml:"system,omitempty"`
}

// Manager creates and prunes snapshots in a single directory.
type Manager struct {
	dir       string
	retention int
	logger    *zerolog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDir overrides the snapshot directory.
func WithDir(dir string) ManagerOption {
	return func(m *Manager) {
		if dir != "" {
			m.dir = dir
		}
	}
}

// WithRetention sets how many snapshots per account survive pruning.
// Zero keeps everything.
func WithRetention(n int) ManagerOption {
	return func(m *Manager) {
		if n >= 0 {
			m.retention = n
		}
	}
}

// WithLogger sets the manager's logger.
func WithLogger(logger *zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a snapshot manager. The default directory lives
// under the XDG data home.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		dir:       filepath.Join(xdg.DataHome, "dyad", "backups"),
		retention: DefaultRetention,
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the snapshot directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Create writes a snapshot for one account and prunes that account's
// older snapshots past the retention limit. It returns the snapshot
// path.
func (m *Manager) Create(account string, records []*contacts.Contact, groups []*contacts.Group) (string, error) {
	if err := os.MkdirAll(m.dir, dirMode); err != nil {
		return "", errors.WrapIO("create", m.dir, err)
	}

	now := time.Now().UTC()
	snapshot := Snapshot{
		Version:   snapshotVersion,
		Account:   account,
		Timestamp: now,
	}
	for _, c := range records {
		if c.Deleted {
			continue
		}
		snapshot.Contacts = append(snapshot.Contacts, Record{
			ID:            c.ID,
			DisplayName:   c.DisplayName,
			GivenName:     c.GivenName,
			FamilyName:    c.FamilyName,
			Emails:        c.Emails,
			Phones:        c.Phones,
			Organizations: c.Organizations,
			Note:          c.Note,
			PhotoRef:      c.PhotoRef,
			GroupIDs:      c.GroupIDs,
			LastModified:  c.LastModified,
		})
	}
	for _, g := range groups {
		if g.Deleted {
			continue
		}
		snapshot.Groups = append(snapshot.Groups, Group{
			ID:     g.ID,
			Name:   g.Name,
			System: g.System,
		})
	}

	data, err := yaml.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshaling snapshot for %s: %w", account, err)
	}

	name := fmt.Sprintf("%s%s_%s%s", filePrefix, account, now.Format(timestampLayout), fileSuffix)
	path := filepath.Join(m.dir, name)
	if err := os.WriteFile(path, data, fileMode); err != nil {
		return "", errors.WrapIO("write", path, err)
	}

	m.logger.Info().
		Str("account", account).
		Str("path", path).
		Int("contacts", len(snapshot.Contacts)).
		Int("groups", len(snapshot.Groups)).
		Msg("Wrote backup snapshot")

	if err := m.prune(account); err != nil {
		m.logger.Warn().Err(err).Str("account", account).Msg("Backup retention pruning failed")
	}
	return path, nil
}

// List returns an account's snapshot paths, newest first. An empty
// account lists every snapshot.
func (m *Manager) List(account string) ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WrapIO("read", m.dir, err)
	}

	prefix := filePrefix
	if account != "" {
		prefix = filePrefix + account + "_"
	}

	var paths []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		paths = append(paths, filepath.Join(m.dir, name))
	}

	// Timestamped names sort chronologically.
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	return paths, nil
}

// Load reads a snapshot back.
func (m *Manager) Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO("read", path, err)
	}

	var snapshot Snapshot
	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("parsing snapshot %s: %w", path, err)
	}
	return &snapshot, nil
}

// prune deletes an account's snapshots beyond the retention limit.
func (m *Manager) prune(account string) error {
	if m.retention == 0 {
		return nil
	}

	paths, err := m.List(account)
	if err != nil {
		return err
	}
	if len(paths) <= m.retention {
		return nil
	}

	for _, path := range paths[m.retention:] {
		if err := os.Remove(path); err != nil {
			return errors.WrapIO("delete", path, err)
		}
		m.logger.Debug().Str("path", path).Msg("Pruned old backup snapshot")
	}
	return nil
}
