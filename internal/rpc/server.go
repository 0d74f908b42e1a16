package rpc

import (
	"context"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"overseerd/internal/supervisor"
)

// Listen builds a *grpc.Server with the control-surface service
// registered over the JSON codec and serves on lis until ctx is
// cancelled, at which point it stops gracefully.
func Listen(ctx context.Context, lis net.Listener, bridge *supervisor.Bridge, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	srv := grpc.NewServer()
	srv.RegisterService(&ServiceDesc, NewServer(bridge))

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	log.Info("rpc server listening", zap.String("addr", lis.Addr().String()))
	return srv.Serve(lis)
}
