package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"

	"overseerd/internal/fsm"
	"overseerd/internal/subscriber"
	"overseerd/internal/supervisor"
)

// Server implements the four control-surface operations over a Bridge.
// It is registered against a *grpc.Server via ServiceDesc, so the actual
// RPC machinery (framing, streaming, cancellation propagation) is real
// grpc-go, not hand-rolled.
type Server struct {
	bridge *supervisor.Bridge
}

// NewServer constructs a Server over bridge.
func NewServer(bridge *supervisor.Bridge) *Server {
	return &Server{bridge: bridge}
}

// GetHealth is a liveness probe: it always succeeds once the server is
// registered and serving.
func (s *Server) GetHealth(ctx context.Context, req *HealthRequest) (*HealthResponse, error) {
	return &HealthResponse{}, nil
}

// GetStatus streams snapshots to the caller: the latest broadcast one
// immediately on subscription (queued by subscriber.Registry.Register
// once any snapshot has been broadcast), then one after every tick and
// every control event, until the stream context is cancelled.
func (s *Server) GetStatus(req *StatusRequest, stream grpc.ServerStream) error {
	sub := s.bridge.Subscribe()
	defer s.bridge.Unsubscribe(sub)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-sub.Recv():
			if !ok {
				return nil
			}
			if err := stream.SendMsg(toWireStatus(snap)); err != nil {
				return err
			}
		}
	}
}

func toWireStatus(snap subscriber.Snapshot) *StatusResponse {
	out := &StatusResponse{Programs: make([]ProgramState, 0, len(snap))}
	for _, p := range snap {
		out.Programs = append(out.Programs, ProgramState{Name: p.Name, State: p.State})
	}
	return out
}

// Start, Stop, and Restart dispatch the corresponding fsm.Event against
// req.ProgramExpr and translate the per-program results onto the wire.
func (s *Server) Start(ctx context.Context, req *ControlRequest) (*ControlResponse, error) {
	return s.control(ctx, fsm.EventStart, req)
}

func (s *Server) Stop(ctx context.Context, req *ControlRequest) (*ControlResponse, error) {
	return s.control(ctx, fsm.EventStop, req)
}

func (s *Server) Restart(ctx context.Context, req *ControlRequest) (*ControlResponse, error) {
	return s.control(ctx, fsm.EventRestart, req)
}

func (s *Server) control(ctx context.Context, ev fsm.Event, req *ControlRequest) (*ControlResponse, error) {
	results, err := s.bridge.Control(ctx, ev, req.ProgramExpr)
	if err != nil {
		if errors.Is(err, supervisor.ErrNoMatch) {
			return nil, notFoundError(err)
		}
		return nil, err
	}
	out := &ControlResponse{Results: make(map[string]ControlResult, len(results))}
	for name, r := range results {
		out.Results[name] = ControlResult{OK: r.OK, Message: r.Message}
	}
	return out, nil
}
