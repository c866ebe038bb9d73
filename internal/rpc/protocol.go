package rpc

import (
	"encoding/json"
	"errors"

	"github.com/bwks/sherpa/internal/sherr"
)

// Frame type discriminators.
const (
	frameRPCRequest  = "rpc_request"
	frameRPCResponse = "rpc_response"
	frameStatus      = "status"
	frameLog         = "log"
)

// Status event kinds.
const (
	StatusProgress = "progress"
	StatusDone     = "done"
	StatusInfo     = "info"
	StatusWaiting  = "waiting"
)

// Request is an inbound {"type":"rpc_request", ...} frame.
type Request struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// wireError recovers the wire-level {code, message, context} triple from
// err. Anything reaching the RPC boundary unclassified is wrapped under
// sherr.Internal rather than silently misreported under some other
// class's code.
func wireError(err error) *sherr.Error {
	if err == nil {
		return nil
	}
	var se *sherr.Error
	if errors.As(err, &se) {
		return se
	}
	return sherr.Wrap(sherr.Internal, "internal error", err)
}

// Response is the outbound {"type":"rpc_response", id, result?, error?}
// frame matched back to a Request by ID.
type Response struct {
	Type   string       `json:"type"`
	ID     string       `json:"id"`
	Result interface{}  `json:"result,omitempty"`
	Error  *sherr.Error `json:"error,omitempty"`
}

func newResponse(id string, result interface{}, err error) Response {
	if err != nil {
		return Response{Type: frameRPCResponse, ID: id, Error: wireError(err)}
	}
	return Response{Type: frameRPCResponse, ID: id, Result: result}
}

// ProgressInfo names a request's position within its phase sequence.
type ProgressInfo struct {
	CurrentPhase string `json:"current_phase"`
	PhaseNumber  int    `json:"phase_number"`
	TotalPhases  int    `json:"total_phases"`
}

// StatusEvent is a server-initiated {"type":"status", ...} frame. Every
// status frame carrying a Progress referencing request X is written
// before X's Response frame on the same connection; dispatch.go enforces
// the ordering by draining a request's progress channel before it ever
// builds the response frame.
type StatusEvent struct {
	Type      string        `json:"type"`
	Message   string        `json:"message"`
	Timestamp string        `json:"timestamp"`
	Kind      string        `json:"kind"`
	Phase     string        `json:"phase,omitempty"`
	Progress  *ProgressInfo `json:"progress,omitempty"`
}

// LogEvent is a server-initiated {"type":"log", ...} frame, broadcast to
// every connection that has set subscribed_logs.
type LogEvent struct {
	Type      string                 `json:"type"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Timestamp string                 `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
}
