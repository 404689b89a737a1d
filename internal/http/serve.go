// Package http runs the emulator's HTTP server.
package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
)

// ShutdownTimeout bounds how long in-flight requests may take once shutdown begins.
const ShutdownTimeout = 5 * time.Second

// ListenAndServe listens on address and calls Serve.
func ListenAndServe(ctx context.Context, logger logr.Logger, address string, handler http.Handler) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return Serve(ctx, logger, listener, handler)
}

// Serve is a blocking call that serves handler on listener until ctx is cancelled, then attempts
// a graceful shutdown. If graceful shutdown fails it forces the server closed and returns an
// error. Serve closes listener.
func Serve(ctx context.Context, logger logr.Logger, listener net.Listener, handler http.Handler) error {
	server := http.Server{
		Handler: handler,

		// Mitigate Slowloris attacks. Metadata clients send a handful of headers so 20 seconds
		// is generous.
		// https://en.wikipedia.org/wiki/Slowloris_(computer_security)
		ReadHeaderTimeout: 20 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Listening", "address", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errChan:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	//nolint:contextcheck // The parent context is already done.
	if err := server.Shutdown(ctx); err != nil {
		server.Close()

		if errors.Is(err, context.DeadlineExceeded) {
			return errors.New("timed out waiting for graceful shutdown")
		}
		return err
	}

	return nil
}
