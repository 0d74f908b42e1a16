// Command overseerd is the process-supervision daemon: it loads a list of
// program specs from a YAML config file, runs one FSM per program under a
// single tick loop, and exposes a grpc control/status surface plus a
// Prometheus metrics endpoint.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"overseerd/internal/config"
	"overseerd/internal/fsm"
	"overseerd/internal/logging"
	"overseerd/internal/metrics"
	"overseerd/internal/program"
	"overseerd/internal/rpc"
	"overseerd/internal/subscriber"
	"overseerd/internal/supervisor"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		grpcAddr    string
		metricsAddr string
		debug       bool
	)

	cmd := &cobra.Command{
		Use:   "overseerd",
		Short: "Supervise a set of long-running processes and expose control/status over grpc",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, grpcAddr, metricsAddr, debug)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the YAML program-spec document (required)")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", ":7711", "address for the grpc control/status server")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":7712", "address for the Prometheus metrics endpoint")
	cmd.Flags().BoolVar(&debug, "debug", false, "use a development (console) logger instead of production JSON logging")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func run(configPath, grpcAddr, metricsAddr string, debug bool) error {
	log, err := logging.New(debug)
	if err != nil {
		return fmt.Errorf("overseerd: build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	specs, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("overseerd: load config: %w", err)
	}
	if len(specs) == 0 {
		return fmt.Errorf("overseerd: config %s declares no programs", configPath)
	}

	metricsReg := metrics.New()

	fsms := make([]*fsm.FSM, 0, len(specs))
	for _, spec := range specs {
		name := spec.Name
		ctx := program.New(spec, log.Named("program").With(zap.String("program", name)))
		ctx.OnSigkill = func() { metricsReg.RecordSigkill(name) }

		f := fsm.New(ctx, log.Named("fsm").With(zap.String("program", name)))
		f.OnRestart = func() { metricsReg.RecordRestart(name) }

		fsms = append(fsms, f)
	}

	reg := subscriber.New(log.Named("subscriber"))
	loop := supervisor.New(fsms, reg, log.Named("loop")).WithMetrics(metricsReg)
	bridge := supervisor.NewBridge(loop, reg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	grpcListener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("overseerd: listen %s: %w", grpcAddr, err)
	}

	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux(metricsReg)}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := loop.Run(gCtx)
		if gCtx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error { return rpc.Listen(gCtx, grpcListener, bridge, log.Named("rpc")) })
	g.Go(func() error {
		log.Info("metrics server listening", zap.String("addr", metricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		return metricsServer.Close()
	})
	g.Go(func() error {
		<-gCtx.Done()
		for _, f := range fsms {
			f.Context().Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("overseerd: %w", err)
	}
	return nil
}

func metricsMux(m *metrics.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}
