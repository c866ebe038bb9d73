package rpc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/bwks/sherpa/internal/sherr"
)

func TestNewResponseSuccess(t *testing.T) {
	resp := newResponse("req-1", map[string]string{"status": "ok"}, nil)
	if resp.Type != frameRPCResponse {
		t.Errorf("Type = %q, want %q", resp.Type, frameRPCResponse)
	}
	if resp.ID != "req-1" {
		t.Errorf("ID = %q, want req-1", resp.ID)
	}
	if resp.Error != nil {
		t.Errorf("Error = %+v, want nil on success", resp.Error)
	}
}

func TestNewResponseError(t *testing.T) {
	resp := newResponse("req-2", nil, sherr.New(sherr.AuthForbidden, "not your lab"))
	if resp.Error == nil {
		t.Fatal("Error = nil, want populated")
	}
	if resp.Error.Code != sherr.AuthForbidden {
		t.Errorf("Error.Code = %d, want %d", resp.Error.Code, sherr.AuthForbidden)
	}
	if resp.Result != nil {
		t.Errorf("Result = %v, want nil on error", resp.Result)
	}
}

// An unclassified error crossing the RPC boundary gets the Internal code
// rather than leaking out with a zero or borrowed code.
func TestWireErrorUnclassified(t *testing.T) {
	we := wireError(errors.New("sql: connection is already closed"))
	if we.Code != sherr.Internal {
		t.Errorf("Code = %d, want %d", we.Code, sherr.Internal)
	}
	if we.Context == "" {
		t.Error("Context is empty, want the original error text preserved")
	}
}

func TestWireErrorPassesThroughClassified(t *testing.T) {
	orig := sherr.New(sherr.ImageNotFound, "no default image", "cisco_iosv")
	if got := wireError(orig); got != orig {
		t.Errorf("wireError() rewrapped an already-classified error: %+v", got)
	}
	if wireError(nil) != nil {
		t.Error("wireError(nil) != nil")
	}
}

func TestRequestFrameDecoding(t *testing.T) {
	raw := `{"type":"rpc_request","id":"abc","method":"inspect","params":{"lab_id":"1a2b3c4d","token":"x"}}`
	var req Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("unmarshal request frame: %v", err)
	}
	if req.Type != frameRPCRequest || req.ID != "abc" || req.Method != "inspect" {
		t.Errorf("decoded frame = %+v", req)
	}

	var p struct {
		LabID string `json:"lab_id"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	if p.LabID != "1a2b3c4d" {
		t.Errorf("params lab_id = %q", p.LabID)
	}
}

func TestStatusEventWireShape(t *testing.T) {
	ev := StatusEvent{
		Type:      frameStatus,
		Message:   "cloning disk images",
		Timestamp: "2026-08-01T00:00:00Z",
		Kind:      StatusProgress,
		Phase:     "storage",
		Progress:  &ProgressInfo{CurrentPhase: "storage", PhaseNumber: 6, TotalPhases: 9},
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != "status" || decoded["kind"] != "progress" {
		t.Errorf("frame = %s", data)
	}
	prog, ok := decoded["progress"].(map[string]interface{})
	if !ok {
		t.Fatalf("progress missing from frame %s", data)
	}
	if prog["phase_number"] != float64(6) || prog["total_phases"] != float64(9) {
		t.Errorf("progress = %+v", prog)
	}

	// Frames without progress omit the key entirely.
	data, _ = json.Marshal(StatusEvent{Type: frameStatus, Message: "done", Kind: StatusDone, Timestamp: "2026-08-01T00:00:00Z"})
	decoded = nil
	json.Unmarshal(data, &decoded)
	if _, present := decoded["progress"]; present {
		t.Errorf("empty progress serialized in frame %s", data)
	}
}
