package rpc

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/bwks/sherpa/internal/auth"
	"github.com/bwks/sherpa/internal/sherr"
	"github.com/bwks/sherpa/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.SQLiteStore, *auth.Issuer) {
	t.Helper()

	dbFile, err := os.CreateTemp("", "sherpa_rpc_test_*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	db, err := store.InitDB(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	st := store.NewSQLiteStore(db)
	t.Cleanup(func() {
		st.Close()
		os.Remove(dbFile.Name())
	})

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	iss := auth.NewIssuer("test-secret")
	// Lab-mutating handlers are not exercised here, so the engine and the
	// container/image adapters stay nil.
	return New(st, iss, nil, nil, nil, logger), st, iss
}

func dialTestServer(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// call sends one rpc_request frame and reads frames until the response
// with a matching id arrives, returning it plus any status frames that
// preceded it.
func call(t *testing.T, ws *websocket.Conn, id, method string, params map[string]interface{}) (Response, []StatusEvent) {
	t.Helper()

	rawParams, err := json.Marshal(params)
	if err != nil {
		t.Fatal(err)
	}
	req := Request{Type: "rpc_request", ID: id, Method: method, Params: rawParams}
	if err := ws.WriteJSON(req); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var statuses []StatusEvent
	for {
		var frame json.RawMessage
		if err := ws.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		var head struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		}
		if err := json.Unmarshal(frame, &head); err != nil {
			t.Fatalf("unmarshal frame head: %v", err)
		}
		switch head.Type {
		case frameStatus:
			var ev StatusEvent
			if err := json.Unmarshal(frame, &ev); err != nil {
				t.Fatal(err)
			}
			statuses = append(statuses, ev)
		case frameRPCResponse:
			if head.ID != id {
				continue
			}
			var resp Response
			if err := json.Unmarshal(frame, &resp); err != nil {
				t.Fatal(err)
			}
			return resp, statuses
		}
	}
}

func seedUser(t *testing.T, st store.Store, username, password string, admin bool) {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.CreateUser(&store.User{Username: username, PasswordHash: hash, IsAdmin: admin}); err != nil {
		t.Fatal(err)
	}
}

func TestLoginOverWebSocket(t *testing.T) {
	s, st, _ := newTestServer(t)
	seedUser(t, st, "alice", "hunter22", false)
	ws := dialTestServer(t, s)

	resp, _ := call(t, ws, "req-1", "login", map[string]interface{}{
		"username": "alice", "password": "hunter22",
	})
	if resp.Error != nil {
		t.Fatalf("login error = %+v", resp.Error)
	}

	result, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatal(err)
	}
	var login LoginResponse
	if err := json.Unmarshal(result, &login); err != nil {
		t.Fatal(err)
	}
	if login.Token == "" || login.Username != "alice" || login.IsAdmin {
		t.Errorf("login result = %+v", login)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	s, st, _ := newTestServer(t)
	seedUser(t, st, "alice", "hunter22", false)
	ws := dialTestServer(t, s)

	resp, _ := call(t, ws, "req-1", "login", map[string]interface{}{
		"username": "alice", "password": "wrong",
	})
	if resp.Error == nil || resp.Error.Code != sherr.AuthInvalid {
		t.Fatalf("login error = %+v, want AuthInvalid", resp.Error)
	}
}

func TestInspectRequiresOwnership(t *testing.T) {
	s, st, iss := newTestServer(t)
	seedUser(t, st, "alice", "pw", false)
	seedUser(t, st, "bob", "pw", false)

	lab := &store.Lab{LabID: "aabbccdd", Name: "hello", User: "alice", LoopbackNetwork: "127.0.0.0/30", ManagementCIDR: "172.16.0.0/24"}
	if err := st.CreateLab(lab, nil, nil, nil, nil); err != nil {
		t.Fatal(err)
	}

	bobToken, _, err := iss.IssueToken("bob", false, false)
	if err != nil {
		t.Fatal(err)
	}

	ws := dialTestServer(t, s)
	resp, _ := call(t, ws, "req-1", "inspect", map[string]interface{}{
		"lab_id": lab.LabID, "token": bobToken,
	})
	if resp.Error == nil || resp.Error.Code != sherr.AuthForbidden {
		t.Fatalf("inspect as non-owner error = %+v, want AuthForbidden", resp.Error)
	}
}

func TestInspectAsOwner(t *testing.T) {
	s, st, iss := newTestServer(t)
	seedUser(t, st, "alice", "pw", false)

	lab := &store.Lab{LabID: "aabbccdd", Name: "hello", User: "alice", LoopbackNetwork: "127.0.0.0/30", ManagementCIDR: "172.16.0.0/24"}
	if err := st.CreateLab(lab, nil, nil, nil, nil); err != nil {
		t.Fatal(err)
	}

	token, _, err := iss.IssueToken("alice", false, false)
	if err != nil {
		t.Fatal(err)
	}

	ws := dialTestServer(t, s)
	resp, _ := call(t, ws, "req-1", "inspect", map[string]interface{}{
		"lab_id": lab.LabID, "token": token,
	})
	if resp.Error != nil {
		t.Fatalf("inspect as owner error = %+v", resp.Error)
	}
}

func TestMissingTokenRejected(t *testing.T) {
	s, _, _ := newTestServer(t)
	ws := dialTestServer(t, s)

	resp, _ := call(t, ws, "req-1", "list_labs", map[string]interface{}{})
	if resp.Error == nil || resp.Error.Code != sherr.AuthRequired {
		t.Fatalf("list_labs without token error = %+v, want AuthRequired", resp.Error)
	}
}

func TestUnknownMethod(t *testing.T) {
	s, _, _ := newTestServer(t)
	ws := dialTestServer(t, s)

	resp, _ := call(t, ws, "req-1", "no_such_method", map[string]interface{}{})
	if resp.Error == nil {
		t.Fatal("unknown method returned no error")
	}
}

func TestBackToBackRequestsMatchByID(t *testing.T) {
	s, st, iss := newTestServer(t)
	seedUser(t, st, "alice", "pw", false)
	token, _, err := iss.IssueToken("alice", false, false)
	if err != nil {
		t.Fatal(err)
	}

	ws := dialTestServer(t, s)

	// Two back-to-back requests on one socket, the second sent after the
	// first is answered; each response must carry the id of its request.
	resp1, _ := call(t, ws, "id-one", "list_labs", map[string]interface{}{"token": token})
	resp2, _ := call(t, ws, "id-two", "list_labs", map[string]interface{}{"token": token})
	if resp1.ID != "id-one" || resp2.ID != "id-two" {
		t.Errorf("response ids = %q, %q", resp1.ID, resp2.ID)
	}
}
