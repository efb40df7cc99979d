package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"vodpipe/internal/config"
	"vodpipe/internal/logging"
)

// shutdownGrace bounds how long in-flight requests may finish on shutdown.
const shutdownGrace = 10 * time.Second

type apiServer struct {
	bind   string
	logger *slog.Logger
	server *http.Server
}

func newAPIServer(cfg *config.Config, handler http.Handler, logger *slog.Logger) *apiServer {
	readTimeout := time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	return &apiServer{
		bind:   cfg.Server.Bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       readTimeout,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// serve blocks until ctx ends, then shuts the server down gracefully. A nil
// listener binds the configured address.
func (s *apiServer) serve(ctx context.Context, listener net.Listener) error {
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", s.bind)
		if err != nil {
			return fmt.Errorf("api listen: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(listener)
	}()
	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.String(logging.FieldEventType, "api_listening"),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logging.WarnWithContext(s.logger, "api shutdown incomplete", "api_shutdown_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "long uploads were cut off"),
		)
	}
	return nil
}
