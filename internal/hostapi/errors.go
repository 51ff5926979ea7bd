package hostapi

import (
	"errors"
	"os"

	"github.com/remotecpp-dev/remotecpp/internal/resolve"
	"github.com/remotecpp-dev/remotecpp/internal/scheduler"
	"github.com/remotecpp-dev/remotecpp/internal/session"
	"github.com/remotecpp-dev/remotecpp/internal/transport"
)

// Error codes reported to the host.
const (
	CodeBusy                 = "busy"
	CodeTransportUnavailable = "transport_unavailable"
	CodeRemoteCommandFailed  = "remote_command_failed"
	CodeTimeout              = "timeout"
	CodeIndexNotReady        = "index_not_ready"
	CodeNotFound             = "not_found"
	CodeInvalidRequest       = "invalid_request"
	CodeInternal             = "internal"
)

// Classify maps err to a stable error code.
func Classify(err error) string {
	var (
		busy      *scheduler.BusyError
		notReady  *resolve.IndexNotReadyError
		noInclude *session.NoIncludeError
		invalid   *InvalidRequestError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &invalid):
		return CodeInvalidRequest
	case errors.As(err, &busy):
		return CodeBusy
	case transport.IsUnavailable(err):
		return CodeTransportUnavailable
	case errors.Is(err, scheduler.ErrTimeout):
		return CodeTimeout
	case transport.IsCommandFailed(err):
		return CodeRemoteCommandFailed
	case errors.As(err, &notReady):
		return CodeIndexNotReady
	case errors.Is(err, session.ErrNoEntry), errors.As(err, &noInclude), errors.Is(err, os.ErrNotExist):
		return CodeNotFound
	default:
		return CodeInternal
	}
}
