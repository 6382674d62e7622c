package contacts

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Fingerprint computes a stable digest over the contact's syncable
// content. Account-local fields (ID, Etag, GroupIDs) and metadata
// (LastModified) are excluded; list fields are normalized and sorted
// first, so the digest is invariant under reordering. Photo references
// are hashed by presence only, since each account assigns its own
// opaque reference to the same image, and memberships by normalized
// group name for the same reason. Callers compare digests for
// equality only.
func Fingerprint(c *Contact) string {
	photo := ""
	if c.PhotoRef != "" {
		photo = "set"
	}

	lines := []string{
		"display_name:" + NormalizeText(c.DisplayName),
		"given_name:" + NormalizeText(c.GivenName),
		"family_name:" + NormalizeText(c.FamilyName),
		"emails:" + joinSorted(normalizeList(c.Emails, NormalizeEmail)),
		"phones:" + joinSorted(normalizeList(c.Phones, NormalizePhone)),
		"organizations:" + joinSorted(normalizeList(c.Organizations, NormalizeText)),
		"notes:" + NormalizeText(c.Note),
		"photo:" + photo,
		"groups:" + joinSorted(normalizeList(c.GroupNames, NormalizeGroupName)),
	}

	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

func joinSorted(values []string) string {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
