package session

import "github.com/bjpl/offlinekit/internal/models"

// Role→permission mapping. Static and hierarchical (admin ⊇ editor ⊇ user);
// permission checks read this table, never the local store.
var rolePermissions = func() map[string]map[string]struct{} {
	user := []string{
		"content.read",
		"media.read",
		"settings.read",
	}
	editor := append([]string{
		"content.write",
		"media.write",
	}, user...)
	admin := append([]string{
		"settings.write",
		"users.manage",
		"dashboard.view",
	}, editor...)

	out := make(map[string]map[string]struct{}, 3)
	for role, perms := range map[string][]string{
		models.RoleUser:   user,
		models.RoleEditor: editor,
		models.RoleAdmin:  admin,
	} {
		set := make(map[string]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		out[role] = set
	}
	return out
}()

// RoleHasPermission reports whether the role grants the named permission.
func RoleHasPermission(role, name string) bool {
	_, ok := rolePermissions[role][name]
	return ok
}
