package cli

import (
	"fmt"

	"github.com/remotecpp-dev/remotecpp/internal/config"
	"github.com/remotecpp-dev/remotecpp/internal/logging"
	"github.com/remotecpp-dev/remotecpp/internal/session"
	"github.com/remotecpp-dev/remotecpp/internal/surface"
	"github.com/remotecpp-dev/remotecpp/internal/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newTransport builds the transport for cfg. Tests replace it.
var newTransport = func(cfg config.Config, logger *zap.Logger) transport.Transport {
	return transport.NewSSH(transport.SSHConfig{
		Program:    cfg.SSH.Program,
		SCPProgram: cfg.SSH.SCPProgram,
		Host:       cfg.SSH.Host,
		Port:       cfg.SSH.Port,
		Options:    cfg.SSH.Options,
	}, logger)
}

type environment struct {
	cfg        config.Config
	configPath string
	logger     *zap.Logger
}

// loadEnvironment reads the config selected by the global flags, applies
// flag overrides and initializes logging.
func loadEnvironment(cmd *cobra.Command) (environment, error) {
	explicit, err := OptionalStringFlag(cmd, "config")
	if err != nil {
		return environment{}, err
	}
	path, err := config.Locate(explicit)
	if err != nil {
		return environment{}, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return environment{}, err
	}

	overrides := map[string]*string{
		"root":      &cfg.Root,
		"host":      &cfg.SSH.Host,
		"log-level": &cfg.Log.Level,
	}
	for name, target := range overrides {
		value, err := OptionalStringFlag(cmd, name)
		if err != nil {
			return environment{}, err
		}
		if value != "" {
			*target = value
		}
	}

	if err := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		return environment{}, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger := logging.L()
	if path != "" {
		logger.Debug("loaded config", zap.String("path", path))
	}
	return environment{cfg: cfg, configPath: path, logger: logger}, nil
}

// openSession starts a session for env delivering surface updates to host.
func openSession(env environment, host surface.Host) (*session.Session, error) {
	statePath, err := env.cfg.StatePath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state path: %w", err)
	}
	mirrorDir, err := env.cfg.MirrorDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve mirror directory: %w", err)
	}
	return session.New(session.Options{
		Config:    env.cfg,
		Transport: newTransport(env.cfg, env.logger),
		Host:      host,
		StatePath: statePath,
		MirrorDir: mirrorDir,
		Logger:    env.logger,
	})
}

// withSession runs fn with a session that discards surface updates and
// closes it afterwards.
func withSession(cmd *cobra.Command, fn func(env environment, sess *session.Session) error) (err error) {
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	sess, err := openSession(env, nil)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := sess.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		_ = logging.Sync()
	}()
	return fn(env, sess)
}
