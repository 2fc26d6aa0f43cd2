package auth

// Authorizer answers whether a user may take the editor role on a content
// item. Permission logic lives behind this boundary, not in the core.
type Authorizer interface {
	CanEdit(userID int64, contentID string) bool
}

// PermLookup resolves the permission bitmap bound to a user at connection
// time. The second return is false when the user has no live connection.
type PermLookup func(userID int64) (Permission, bool)

// GrantAuthorizer answers edit checks from the permissions compiled out of
// the user's token when their connection was admitted.
type GrantAuthorizer struct {
	lookup PermLookup
}

func NewGrantAuthorizer(lookup PermLookup) *GrantAuthorizer {
	return &GrantAuthorizer{lookup: lookup}
}

func (a *GrantAuthorizer) CanEdit(userID int64, contentID string) bool {
	perms, ok := a.lookup(userID)
	return ok && perms.Has(PermEdit)
}

// AllowAll grants every edit request. Used when authorization is disabled
// and in tests.
type AllowAll struct{}

func (AllowAll) CanEdit(userID int64, contentID string) bool { return true }
