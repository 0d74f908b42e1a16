// Package rpc exposes the supervision core's control surface over gRPC:
// GetHealth, GetStatus (server-streaming), and Start/Stop/Restart (unary),
// wire-encoded with a JSON codec instead of generated protobuf messages.
package rpc

// HealthRequest is the (empty) GetHealth request.
type HealthRequest struct{}

// HealthResponse is the (empty) GetHealth response; its presence alone
// signals liveness.
type HealthResponse struct{}

// StatusRequest is the (empty) GetStatus request; the stream itself
// carries the snapshots.
type StatusRequest struct{}

// StatusResponse mirrors one subscriber.Snapshot entry for the wire.
type StatusResponse struct {
	Programs []ProgramState `json:"programs"`
}

// ProgramState is the wire form of one program's name and state tag.
type ProgramState struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// ControlRequest is the unary request shared by Start/Stop/Restart.
type ControlRequest struct {
	ProgramExpr string `json:"program_expr"`
}

// ControlResponse maps each matched program name to its result.
type ControlResponse struct {
	Results map[string]ControlResult `json:"results"`
}

// ControlResult is one program's outcome, mirroring fsm.Result on the wire.
type ControlResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}
