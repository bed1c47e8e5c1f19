package main

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// detectionService is the health service name reported next to the overall
// server status
const detectionService = "driveguard.Detection"

// healthReporter tracks whether the detection loop is running. A nil
// reporter ignores updates.
type healthReporter struct {
	server *health.Server
}

func newHealthReporter() *healthReporter {
	h := &healthReporter{server: health.NewServer()}
	h.serving(false)
	return h
}

func (h *healthReporter) serving(ok bool) {
	if h == nil {
		return
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(detectionService, status)
}

// handleGRPCServer starts the gRPC health server on addr and stops it when
// ctx is cancelled
func handleGRPCServer(ctx context.Context, addr string, wg *sync.WaitGroup, errc chan error, logger *zap.SugaredLogger) *healthReporter {
	reporter := newHealthReporter()

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, reporter.server)
	reflection.Register(srv)

	wg.Add(1)
	go func() {
		defer wg.Done()

		lis, err := net.Listen("tcp", addr)
		if err != nil {
			errc <- err
			return
		}

		go func() {
			logger.Infof("gRPC health server listening on %q", addr)
			if err := srv.Serve(lis); err != nil {
				errc <- err
			}
		}()

		<-ctx.Done()
		logger.Infof("shutting down gRPC server at %q", addr)
		reporter.server.Shutdown()
		srv.GracefulStop()
	}()
	return reporter
}
