package auth_test

import (
	"testing"

	"collabcore/internal/auth"
)

func TestCompileBuiltInPermissions(t *testing.T) {
	perms, err := auth.CompilePermissions([]string{"view", "edit"})
	if err != nil {
		t.Fatalf("CompilePermissions failed: %v", err)
	}
	if !perms.Has(auth.PermView) || !perms.Has(auth.PermEdit) {
		t.Errorf("expected view|edit bitmap, got %b", perms)
	}

	if _, err := auth.CompilePermissions([]string{"fly"}); err == nil {
		t.Error("expected error for unregistered permission name")
	}
}

func TestRegisterPermission(t *testing.T) {
	if err := auth.RegisterPermission("publish"); err != nil {
		t.Fatalf("RegisterPermission failed: %v", err)
	}
	if err := auth.RegisterPermission("publish"); err == nil {
		t.Error("expected duplicate registration to fail")
	}
	if err := auth.RegisterPermission("edit"); err == nil {
		t.Error("expected reserved built-in name to be rejected")
	}

	perms, err := auth.CompilePermissions([]string{"publish"})
	if err != nil {
		t.Fatalf("compiled registered permission: %v", err)
	}
	if perms == 0 {
		t.Error("registered permission should compile to a non-zero bit")
	}
}

func TestGrantAuthorizer(t *testing.T) {
	authz := auth.NewGrantAuthorizer(func(userID int64) (auth.Permission, bool) {
		switch userID {
		case 1:
			return auth.PermView | auth.PermEdit, true
		case 2:
			return auth.PermView, true
		}
		return 0, false
	})

	if !authz.CanEdit(1, "c1") {
		t.Error("user 1 with edit permission should be allowed")
	}
	if authz.CanEdit(2, "c1") {
		t.Error("user 2 without edit permission should be denied")
	}
	if authz.CanEdit(3, "c1") {
		t.Error("unknown user should be denied")
	}
}
