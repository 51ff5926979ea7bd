package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/remotecpp-dev/remotecpp/internal/hostapi"
	"github.com/remotecpp-dev/remotecpp/internal/logging"
	"github.com/remotecpp-dev/remotecpp/internal/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RunServe speaks the host protocol on stdin and stdout until stdin closes
// or the process is interrupted.
func RunServe(cmd *cobra.Command, args []string) (err error) {
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	metricsAddr, err := OptionalStringFlag(cmd, "metrics-addr")
	if err != nil {
		return err
	}
	if metricsAddr == "" {
		metricsAddr = env.cfg.MetricsAddr
	}

	server := hostapi.NewServer(cmd.OutOrStdout(), env.logger)
	sess, err := openSession(env, server)
	if err != nil {
		return err
	}
	server.Register(sess)
	defer func() {
		if closeErr := sess.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		_ = logging.Sync()
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		shutdown, err := serveMetrics(metricsAddr, env.logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	env.logger.Info("serving host protocol",
		zap.String("host", env.cfg.SSH.Host),
		zap.String("root", sess.Root()),
	)
	return server.Serve(ctx, cmd.InOrStdin())
}

func serveMetrics(addr string, logger *zap.Logger) (func(), error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           logging.Middleware(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	// Report bind failures before serving.
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("failed to serve metrics on %s: %w", addr, err)
		}
	case <-time.After(100 * time.Millisecond):
	}
	logger.Info("metrics listening", zap.String("addr", addr))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics shutdown failed", zap.Error(err))
		}
	}, nil
}
