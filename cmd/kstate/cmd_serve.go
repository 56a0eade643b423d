package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/danielpatrickdp/knowledge-state/internal/jobs"
	"github.com/danielpatrickdp/knowledge-state/internal/orchestrator"
)

var serveFlags struct {
	enqueueAll bool
	once       bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll pending course jobs and run them",
	Long: `Runs the job worker: claims PENDING jobs, drives them through the pipeline and
ends them DONE, ERROR or NOTPROCESSED. Exposes gRPC health on serve.health_addr and
Prometheus metrics on serve.metrics_addr. Stops on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.BoolVar(&serveFlags.enqueueAll, "enqueue-all", false, "queue every known course before polling")
	f.BoolVar(&serveFlags.once, "once", false, "drain pending jobs and exit")
}

func runServe(cmd *cobra.Command, _ []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.openSource(); err != nil {
		return err
	}
	if err := e.openState(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if serveFlags.enqueueAll {
		courses, err := e.src.Courses(ctx)
		if err != nil {
			return err
		}
		for _, c := range courses {
			if err := e.jobs.Enqueue(c[0], c[1]); err != nil {
				return err
			}
		}
		e.log.Info("queued courses", "count", len(courses))
	}

	worker := orchestrator.NewWorker(orchestrator.New(e.cfg.Pipeline, e.log), e.src, e.store, e.jobs, e.log)
	if serveFlags.once {
		n, err := drain(ctx, worker)
		fmt.Fprintf(cmd.OutOrStdout(), "processed %d jobs\n", n)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	lis, err := net.Listen("tcp", e.cfg.Serve.HealthAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", e.cfg.Serve.HealthAddr, err)
	}
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	g.Go(func() error {
		e.log.Info("health server listening", "addr", lis.Addr().String())
		return srv.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		hs.Shutdown()
		srv.GracefulStop()
		return nil
	})

	if addr := e.cfg.Serve.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		hsrv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			e.log.Info("metrics server listening", "addr", addr)
			if err := hsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hsrv.Shutdown(shutdown)
		})
	}

	g.Go(func() error {
		e.log.Info("worker polling", "interval", e.cfg.Serve.PollInterval)
		err := worker.Loop(gctx, e.cfg.Serve.PollInterval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	e.log.Info("serve stopped")
	return nil
}

// drain runs pending jobs until none is left.
func drain(ctx context.Context, w *orchestrator.Worker) (int, error) {
	n := 0
	for ctx.Err() == nil {
		_, err := w.RunOnce(ctx)
		if errors.Is(err, jobs.ErrNoJob) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, ctx.Err()
}
