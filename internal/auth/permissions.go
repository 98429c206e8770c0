package auth

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermConnectionRead    Permission = "connection:read"
	PermConnectionOperate Permission = "connection:operate"
	PermConnectionManage  Permission = "connection:manage"
	PermDeviceManage      Permission = "device:manage"
	PermDeviceDelete      Permission = "device:delete"
	PermSystemRead        Permission = "system:read"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleOperator: {
		PermConnectionRead,
		PermConnectionOperate,
		PermConnectionManage,
		PermDeviceManage,
		PermSystemRead,
	},
	RoleAdmin: {
		PermConnectionRead,
		PermConnectionOperate,
		PermConnectionManage,
		PermDeviceManage,
		PermDeviceDelete,
		PermSystemRead,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}
