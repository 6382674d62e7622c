package contacts

// Group is a contact group (label) from one account.
type Group struct {
	// ID is the account-local identifier (e.g. "contactGroups/abc").
	ID string

	// Name is the human-visible group name.
	Name string

	// System groups (e.g. "myContacts", "starred") are owned by the
	// account and never propagated.
	System bool

	Deleted bool
}

// Key returns the group's normalized name, which scopes group
// correspondence across accounts.
func (g *Group) Key() string {
	return NormalizeGroupName(g.Name)
}

// NormalizeGroupName canonicalizes a group name for cross-account
// comparison. Group names use the same folding as contact names.
func NormalizeGroupName(name string) string {
	return NormalizeName(name)
}
