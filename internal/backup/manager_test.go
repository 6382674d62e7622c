package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyadsync/dyad/pkg/contacts"
)

func testRecords() []*contacts.Contact {
	return []*contacts.Contact{
		{
			ID:           "people/c1",
			DisplayName:  "Ada Lovelace",
			Emails:       []string{"ada@example.com"},
			Phones:       []string{"5551234567"},
			GroupIDs:     []string{"contactGroups/fam"},
			LastModified: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			ID:      "people/c2",
			Deleted: true,
		},
	}
}

func TestCreateAndLoadSnapshot(t *testing.T) {
	m := NewManager(WithDir(t.TempDir()))

	path, err := m.Create("personal", testRecords(), []*contacts.Group{
		{ID: "contactGroups/fam", Name: "Family"},
		{ID: "contactGroups/gone", Name: "Old", Deleted: true},
	})
	require.NoError(t, err)

	snapshot, err := m.Load(path)
	require.NoError(t, err)
	assert.Equal(t, snapshotVersion, snapshot.Version)
	assert.Equal(t, "personal", snapshot.Account)
	require.Len(t, snapshot.Contacts, 1, "tombstones are not backed up")
	assert.Equal(t, "Ada Lovelace", snapshot.Contacts[0].DisplayName)
	assert.Equal(t, []string{"ada@example.com"}, snapshot.Contacts[0].Emails)
	require.Len(t, snapshot.Groups, 1, "deleted groups are not backed up")
	assert.Equal(t, "Family", snapshot.Groups[0].Name)
}

func TestListFiltersByAccount(t *testing.T) {
	m := NewManager(WithDir(t.TempDir()))

	_, err := m.Create("personal", testRecords(), nil)
	require.NoError(t, err)
	_, err = m.Create("work", testRecords(), nil)
	require.NoError(t, err)

	personal, err := m.List("personal")
	require.NoError(t, err)
	assert.Len(t, personal, 1)

	all, err := m.List("")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListEmptyDir(t *testing.T) {
	m := NewManager(WithDir(t.TempDir() + "/missing"))

	paths, err := m.List("")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestRetentionPrunesOldest(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(WithDir(dir), WithRetention(2))

	// Seed snapshots with distinct timestamps in their names; Create
	// would collide within one second.
	for hour := 10; hour < 14; hour++ {
		name := fmt.Sprintf("backup_personal_20260801_%02d0000.yaml", hour)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("version: \"1\"\n"), 0o600))
	}

	require.NoError(t, m.prune("personal"))

	paths, err := m.List("personal")
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Contains(t, paths[0], "130000")
	assert.Contains(t, paths[1], "120000")
}

func TestRetentionZeroKeepsAll(t *testing.T) {
	m := NewManager(WithDir(t.TempDir()), WithRetention(0))
	require.NoError(t, m.prune("personal"))
}
