package domain

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// Session errors. Each wraps an errdefs class so transports can map them
// without string matching.
var (
	ErrInvalidScenario          = fmt.Errorf("invalid scenario: %w", errdefs.ErrInvalidArgument)
	ErrUnauthorized             = fmt.Errorf("unauthorized: %w", errdefs.ErrPermissionDenied)
	ErrNotConnected             = fmt.Errorf("session not connected: %w", errdefs.ErrFailedPrecondition)
	ErrAlreadyConnected         = fmt.Errorf("session already connected: %w", errdefs.ErrAlreadyExists)
	ErrOracleUnavailable        = fmt.Errorf("response oracle unavailable: %w", errdefs.ErrUnavailable)
	ErrTranscriptionUnavailable = fmt.Errorf("transcription unavailable: %w", errdefs.ErrUnavailable)
	ErrInvalidTurn              = fmt.Errorf("invalid turn: %w", errdefs.ErrInvalidArgument)
	ErrSessionEnded             = fmt.Errorf("session ended: %w", errdefs.ErrFailedPrecondition)
	ErrSessionNotFound          = fmt.Errorf("session not found: %w", errdefs.ErrNotFound)
	ErrScenarioNotFound         = fmt.Errorf("scenario not found: %w", errdefs.ErrNotFound)
	ErrInvalidRequest           = fmt.Errorf("invalid request: %w", errdefs.ErrInvalidArgument)
	ErrReportPending            = fmt.Errorf("report pending: %w", errdefs.ErrFailedPrecondition)
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidScenario, "invalid_scenario"},
	{ErrUnauthorized, "unauthorized"},
	{ErrSessionEnded, "session_ended"},
	{ErrNotConnected, "not_connected"},
	{ErrAlreadyConnected, "already_connected"},
	{ErrOracleUnavailable, "oracle_unavailable"},
	{ErrTranscriptionUnavailable, "transcription_unavailable"},
	{ErrInvalidTurn, "invalid_turn"},
	{ErrSessionNotFound, "session_not_found"},
	{ErrScenarioNotFound, "scenario_not_found"},
	{ErrInvalidRequest, "invalid_request"},
	{ErrReportPending, "report_pending"},
}

// ErrorCode returns the stable wire code for err, or "internal".
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "internal"
}

// IsConnectionFatal reports whether err must close the client transport
// rather than being surfaced as a single-turn error.
func IsConnectionFatal(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrSessionEnded) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrAlreadyConnected)
}
