package auth

import "testing"

func TestHasPermission_Admin(t *testing.T) {
	all := []Permission{
		PermConnectionRead, PermConnectionOperate, PermConnectionManage,
		PermDeviceManage, PermDeviceDelete, PermSystemRead,
	}

	for _, perm := range all {
		if !HasPermission(RoleAdmin, perm) {
			t.Errorf("admin should have %s", perm)
		}
	}
}

func TestHasPermission_Operator(t *testing.T) {
	should := []Permission{
		PermConnectionRead, PermConnectionOperate, PermConnectionManage,
		PermDeviceManage, PermSystemRead,
	}

	for _, perm := range should {
		if !HasPermission(RoleOperator, perm) {
			t.Errorf("operator should have %s", perm)
		}
	}
	if HasPermission(RoleOperator, PermDeviceDelete) {
		t.Errorf("operator should NOT have %s", PermDeviceDelete)
	}
}

func TestHasPermission_UnknownRole(t *testing.T) {
	if HasPermission(Role("guest"), PermConnectionRead) {
		t.Error("unknown role should have no permissions")
	}
}

func TestPermissionsForRole(t *testing.T) {
	if got := PermissionsForRole(Role("guest")); got != nil {
		t.Errorf("PermissionsForRole(guest) = %v, want nil", got)
	}

	perms := PermissionsForRole(RoleOperator)
	if len(perms) == 0 {
		t.Fatal("PermissionsForRole(operator) is empty")
	}

	// The result is a copy.
	perms[0] = PermDeviceDelete
	if HasPermission(RoleOperator, PermDeviceDelete) {
		t.Error("mutating the returned slice changed the role's permissions")
	}
}
