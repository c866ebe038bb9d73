package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwks/sherpa/internal/auth"
	"github.com/bwks/sherpa/internal/sherr"
	"github.com/bwks/sherpa/internal/sshutil"
	"github.com/bwks/sherpa/internal/store"
)

type loginParams struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

// LoginResponse is login's result.
type LoginResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	IsAdmin   bool      `json:"is_admin"`
	ExpiresAt time.Time `json:"expires_at"`
}

func handleLogin(ctx context.Context, s *Server, progress chan<- Progress, raw json.RawMessage) (interface{}, error) {
	var p loginParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, sherr.Wrap(sherr.ManifestInvalid, "invalid params", err)
	}

	u, err := s.store.GetUser(p.Username)
	if err != nil {
		return nil, err
	}
	if u == nil || !auth.VerifyPassword(p.Password, u.PasswordHash) {
		return nil, sherr.New(sherr.AuthInvalid, "invalid username or password")
	}

	token, exp, err := s.issuer.IssueToken(u.Username, u.IsAdmin, p.Remember)
	if err != nil {
		return nil, sherr.Wrap(sherr.Internal, "issue token", err)
	}
	return LoginResponse{Token: token, Username: u.Username, IsAdmin: u.IsAdmin, ExpiresAt: exp}, nil
}

type createUserParams struct {
	tokenParams
	Username string   `json:"username"`
	Password string   `json:"password"`
	IsAdmin  bool     `json:"is_admin"`
	SSHKeys  []string `json:"ssh_keys"`
}

// UserResponse is the public shape of a User row: never the password hash.
type UserResponse struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// CreateUserResponse is create_user's result. GeneratedPrivateKey is set
// only when the caller supplied no ssh_keys of their own: the server
// mints an Ed25519 pair, stores the public half on the user record, and
// hands back the private half exactly once since it is never persisted.
type CreateUserResponse struct {
	UserResponse
	GeneratedPrivateKey string `json:"generated_private_key,omitempty"`
}

func handleCreateUser(ctx context.Context, s *Server, progress chan<- Progress, raw json.RawMessage) (interface{}, error) {
	ac, err := authContext(s, raw)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireAdmin(ac); err != nil {
		return nil, err
	}

	var p createUserParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, sherr.Wrap(sherr.ManifestInvalid, "invalid params", err)
	}

	hash, err := auth.HashPassword(p.Password)
	if err != nil {
		return nil, sherr.Wrap(sherr.Internal, "hash password", err)
	}

	sshKeys := p.SSHKeys
	var privateKey string
	if len(sshKeys) == 0 {
		kp, err := sshutil.GenerateKeyPair(p.Username + "@sherpa")
		if err != nil {
			return nil, sherr.Wrap(sherr.Internal, "generate ssh keypair", err)
		}
		sshKeys = []string{kp.PublicKey}
		privateKey = kp.PrivateKey
	}

	u := &store.User{Username: p.Username, PasswordHash: hash, IsAdmin: p.IsAdmin, SSHKeys: sshKeys}
	if err := s.store.CreateUser(u); err != nil {
		return nil, err
	}
	return CreateUserResponse{
		UserResponse:        UserResponse{Username: u.Username, IsAdmin: u.IsAdmin},
		GeneratedPrivateKey: privateKey,
	}, nil
}

type userRefParams struct {
	tokenParams
	Username string `json:"username"`
}

func handleDeleteUser(ctx context.Context, s *Server, progress chan<- Progress, raw json.RawMessage) (interface{}, error) {
	ac, err := authContext(s, raw)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireAdmin(ac); err != nil {
		return nil, err
	}

	var p userRefParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, sherr.Wrap(sherr.ManifestInvalid, "invalid params", err)
	}
	if err := s.store.DeleteUser(p.Username); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

// ListUsersResponse is list_users's result.
type ListUsersResponse struct {
	Users []UserResponse `json:"users"`
}

func handleListUsers(ctx context.Context, s *Server, progress chan<- Progress, raw json.RawMessage) (interface{}, error) {
	ac, err := authContext(s, raw)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireAdmin(ac); err != nil {
		return nil, err
	}

	users, err := s.store.ListUsers()
	if err != nil {
		return nil, err
	}
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, UserResponse{Username: u.Username, IsAdmin: u.IsAdmin})
	}
	return ListUsersResponse{Users: out}, nil
}

type changePasswordParams struct {
	tokenParams
	Username    string `json:"username"`
	NewPassword string `json:"new_password"`
}

func handleChangePassword(ctx context.Context, s *Server, progress chan<- Progress, raw json.RawMessage) (interface{}, error) {
	ac, err := authContext(s, raw)
	if err != nil {
		return nil, err
	}

	var p changePasswordParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, sherr.Wrap(sherr.ManifestInvalid, "invalid params", err)
	}
	if err := auth.RequireSelfOrAdmin(ac, p.Username); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(p.NewPassword)
	if err != nil {
		return nil, sherr.Wrap(sherr.Internal, "hash password", err)
	}
	if err := s.store.UpdateUserPassword(p.Username, hash); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}
