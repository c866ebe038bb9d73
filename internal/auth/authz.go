package auth

import (
	"github.com/bwks/sherpa/internal/sherr"
	"github.com/bwks/sherpa/internal/store"
)

// RequireAdmin returns an AuthForbidden error unless ctx belongs to an
// admin. Used by admin-only RPC methods (create_user, import_image, ...).
func RequireAdmin(ctx *AuthContext) error {
	if !ctx.IsAdmin {
		return sherr.New(sherr.AuthForbidden, "admin privileges required")
	}
	return nil
}

// RequireLabOwnerOrAdmin resolves the lab's owner and allows the call
// through only if the caller is that owner or an admin. s is consulted
// for the owner lookup;
// a missing lab surfaces as NotFound rather than AuthForbidden so the two
// failure modes stay distinguishable on the wire.
func RequireLabOwnerOrAdmin(ctx *AuthContext, s store.Store, labID string) error {
	lab, err := s.GetLab(labID)
	if err != nil {
		return err
	}
	if lab == nil {
		return sherr.New(sherr.NotFound, "lab not found", labID)
	}
	if ctx.IsAdmin || ctx.Username == lab.User {
		return nil
	}
	return sherr.New(sherr.AuthForbidden, "not authorized for this lab", labID)
}

// RequireSelfOrAdmin allows a caller to act on their own username (e.g.
// change_password) or, for admin-only operations like delete_user, any
// username when the caller is an admin.
func RequireSelfOrAdmin(ctx *AuthContext, username string) error {
	if ctx.IsAdmin || ctx.Username == username {
		return nil
	}
	return sherr.New(sherr.AuthForbidden, "not authorized for this user")
}
