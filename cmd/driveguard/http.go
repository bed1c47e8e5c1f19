package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"driveguard/internal/api"
	"driveguard/internal/auth"
	"driveguard/internal/logging"
)

// handleHTTPServer starts configures and starts a HTTP server on the given
// address. It shuts down the server when ctx is cancelled.
func handleHTTPServer(ctx context.Context, addr string, server *api.Server, authenticator *auth.Authenticator, wg *sync.WaitGroup, errc chan error, logger *zap.SugaredLogger, debug bool) {
	var dbg io.Writer
	if debug {
		dbg = os.Stdout
	}
	handler := server.Handler(authenticator, dbg)

	// Start HTTP server using default configuration, change the code to
	// configure the server as required by your service.
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second * 60,
		ErrorLog:          logging.StdLog(logger, "http"),
	}
	for _, m := range server.Mounts {
		logger.Infof("HTTP %q mounted on %s %s", m.Method, m.Verb, m.Pattern)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		// Start HTTP server in a separate goroutine.
		go func() {
			logger.Infof("HTTP server listening on %q", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errc <- err
			}
		}()

		<-ctx.Done()
		logger.Infof("shutting down HTTP server at %q", addr)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := srv.Shutdown(ctx)
		if err != nil {
			logger.Warnf("failed to shutdown: %v", err)
		}
	}()
}
