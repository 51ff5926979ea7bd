package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// sshUnavailableStatus is the exit status ssh uses for its own errors.
const sshUnavailableStatus = 255

type SSHConfig struct {
	Program    string
	SCPProgram string
	Host       string
	Port       int
	Options    []string
}

type SSH struct {
	cfg     SSHConfig
	logger  *zap.Logger
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func NewSSH(cfg SSHConfig, logger *zap.Logger) *SSH {
	if cfg.Program == "" {
		cfg.Program = "ssh"
	}
	if cfg.SCPProgram == "" {
		cfg.SCPProgram = "scp"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSH{cfg: cfg, logger: logger, command: exec.CommandContext}
}

func (s *SSH) Host() string {
	return s.cfg.Host
}

func (s *SSH) Run(ctx context.Context, commandLine string, w io.Writer) (*Result, error) {
	args := s.sshArgs()
	args = append(args, commandLine)

	var stderr bytes.Buffer
	cmd := s.command(ctx, s.cfg.Program, args...)
	if w == nil {
		w = io.Discard
	}
	cmd.Stdout = w
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	s.logger.Debug("running remote command",
		zap.String("host", s.cfg.Host),
		zap.String("command", commandLine),
	)

	start := time.Now()
	err := cmd.Run()
	result := &Result{Stderr: stderr.Bytes(), Duration: time.Since(start)}
	if err == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		return result, fmt.Errorf("remote command interrupted: %w", ctxErr)
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return result, &UnavailableError{Host: s.cfg.Host, Op: "run", Err: err}
	}
	result.ExitCode = exitErr.ExitCode()
	if result.ExitCode == sshUnavailableStatus {
		return result, &UnavailableError{Host: s.cfg.Host, Op: "run", Err: stderrError(result.Stderr, err)}
	}
	return result, &CommandError{ExitCode: result.ExitCode, Stderr: result.Stderr}
}

func (s *SSH) CopyToRemote(ctx context.Context, localPath, remotePath string) error {
	return s.copy(ctx, "push", localPath, s.remoteSpec(remotePath))
}

func (s *SSH) CopyFromRemote(ctx context.Context, remotePath, localPath string) error {
	return s.copy(ctx, "pull", s.remoteSpec(remotePath), localPath)
}

func (s *SSH) copy(ctx context.Context, op, src, dst string) error {
	args := s.scpArgs()
	args = append(args, src, dst)

	var stderr bytes.Buffer
	cmd := s.command(ctx, s.cfg.SCPProgram, args...)
	cmd.Stderr = &stderr
	s.logger.Debug("copying file", zap.String("op", op), zap.String("src", src), zap.String("dst", dst))

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("copy interrupted: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() != sshUnavailableStatus {
			return &CommandError{ExitCode: exitErr.ExitCode(), Stderr: stderr.Bytes()}
		}
		return &UnavailableError{Host: s.cfg.Host, Op: op, Err: stderrError(stderr.Bytes(), err)}
	}
	return nil
}

func (s *SSH) sshArgs() []string {
	args := []string{"-o", "BatchMode=yes"}
	if s.cfg.Port > 0 {
		args = append(args, "-p", strconv.Itoa(s.cfg.Port))
	}
	args = append(args, s.cfg.Options...)
	return append(args, s.cfg.Host)
}

func (s *SSH) scpArgs() []string {
	args := []string{"-q", "-o", "BatchMode=yes"}
	if s.cfg.Port > 0 {
		args = append(args, "-P", strconv.Itoa(s.cfg.Port))
	}
	return append(args, s.cfg.Options...)
}

func (s *SSH) remoteSpec(remotePath string) string {
	return s.cfg.Host + ":" + remotePath
}

func stderrError(stderr []byte, err error) error {
	msg := bytes.TrimSpace(stderr)
	if len(msg) == 0 {
		return err
	}
	return fmt.Errorf("%w: %s", err, msg)
}
