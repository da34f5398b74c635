package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"tellmewhen/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// Serve listens on addr until ctx is cancelled, then shuts the server down
// gracefully. Request contexts derive from ctx, so open websocket streams end
// with it.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *logging.Logger) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, listener, handler, logger)
}

func ServeListener(ctx context.Context, listener net.Listener, handler http.Handler, logger *logging.Logger) error {
	logger = logging.OrNop(logger).Component("api")
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	logger.Info("http server listening", logging.Fields{"addr": listener.Addr().String()})

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
		logger.Warn("http server shutdown incomplete", logging.ErrorFields(err, nil))
	}
	<-errCh
	logger.Info("http server stopped", nil)
	return nil
}
