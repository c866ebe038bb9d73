package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwks/sherpa/internal/auth"
	"github.com/bwks/sherpa/internal/sherr"
)

// handlerFunc is one RPC method's implementation. It unmarshals its own
// params from raw, emits zero or more Progress events, and returns the
// value that becomes the response frame's result.
type handlerFunc func(ctx context.Context, s *Server, progress chan<- Progress, raw json.RawMessage) (interface{}, error)

var methodTable = map[string]handlerFunc{
	"login":                 handleLogin,
	"list_labs":             handleListLabs,
	"inspect":               handleInspect,
	"up":                    handleUp,
	"destroy":               handleDestroy,
	"down":                  handleDown,
	"resume":                handleResume,
	"import_image":          handleImportImage,
	"pull_container_image":  handlePullContainerImage,
	"create_user":           handleCreateUser,
	"delete_user":           handleDeleteUser,
	"list_users":            handleListUsers,
	"change_password":       handleChangePassword,
}

// Progress is one status update a handler emits while it runs. dispatch
// converts each into a wire StatusEvent as it comes off the channel.
type Progress struct {
	Kind    string
	Message string
	Phase   string
	Info    *ProgressInfo
}

// dispatch runs req's handler to completion and writes its response frame,
// draining the handler's progress channel into status frames first: every
// status frame for request X precedes X's response frame on the same
// connection. The consumer goroutine below only stops ranging over
// progress once the handler itself has returned and closed it, and
// dispatch only writes the response after that goroutine has exited.
func (s *Server) dispatch(conn *Connection, req Request) {
	if req.Method == "subscribe_logs" {
		s.handleSubscribeLogs(conn, req)
		return
	}

	fn, ok := methodTable[req.Method]
	if !ok {
		conn.writeJSON(newResponse(req.ID, nil, sherr.New(sherr.ManifestInvalid, "unknown method", req.Method)))
		return
	}

	progress := make(chan Progress, 64)
	drained := make(chan struct{})

	go func() {
		defer close(drained)
		for p := range progress {
			conn.writeJSON(StatusEvent{
				Type:      frameStatus,
				Message:   p.Message,
				Timestamp: time.Now().UTC().Format(time.RFC3339),
				Kind:      p.Kind,
				Phase:     p.Phase,
				Progress:  p.Info,
			})
		}
	}()

	result, err := fn(context.Background(), s, progress, req.Params)
	close(progress)
	<-drained

	conn.writeJSON(newResponse(req.ID, result, err))
}

// handleSubscribeLogs toggles the calling connection's subscribed_logs
// flag; it has no use for a progress channel, so it bypasses methodTable
// and writes its response directly.
func (s *Server) handleSubscribeLogs(conn *Connection, req Request) {
	var p struct {
		tokenParams
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		conn.writeJSON(newResponse(req.ID, nil, sherr.Wrap(sherr.ManifestInvalid, "invalid params", err)))
		return
	}
	if _, err := authContext(s, req.Params); err != nil {
		conn.writeJSON(newResponse(req.ID, nil, err))
		return
	}

	conn.setSubscribedLogs(p.Enabled)
	conn.writeJSON(newResponse(req.ID, struct {
		SubscribedLogs bool `json:"subscribed_logs"`
	}{p.Enabled}, nil))
}

// tokenParams is embedded by every method's params struct that carries the
// shared "token" field.
type tokenParams struct {
	Token string `json:"token"`
}

// authContext extracts and validates the token embedded in raw, resolving
// it to an AuthContext against the store. Every method but login calls this
// first.
func authContext(s *Server, raw json.RawMessage) (*auth.AuthContext, error) {
	var t tokenParams
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, sherr.Wrap(sherr.ManifestInvalid, "invalid params", err)
	}
	if t.Token == "" {
		return nil, sherr.New(sherr.AuthRequired, "authentication required")
	}

	ac, err := auth.ContextFromToken(s.issuer, s.store, t.Token)
	if err != nil {
		if auth.IsExpired(err) {
			return nil, sherr.New(sherr.AuthExpired, "token expired")
		}
		if auth.IsMalformed(err) {
			return nil, sherr.New(sherr.AuthInvalid, "token malformed")
		}
		return nil, sherr.New(sherr.AuthRequired, "authentication required")
	}
	return ac, nil
}
