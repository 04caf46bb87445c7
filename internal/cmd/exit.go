package cmd

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/namelens/ratelane/internal/core"
	apperrors "github.com/namelens/ratelane/internal/errors"
)

// requestFailure is returned by commands whose scheduled request completed
// without success. The result has already been rendered.
type requestFailure struct {
	result *core.RequestResult
}

func (f *requestFailure) Error() string {
	return statusSummary(f.result)
}

// ExitCodeFor picks the foundry exit code for an error returned by a command.
// Upstream failures (rate limits, 5xx, transport errors) map to
// ExitExternalServiceUnavailable so scripts can tell them from usage errors.
func ExitCodeFor(err error) foundry.ExitCode {
	if err == nil {
		return foundry.ExitFailure
	}

	var failure *requestFailure
	if stderrors.As(err, &failure) {
		return exitCodeForErrorCode(failure.result.ErrorCode)
	}

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) {
		return exitCodeForErrorCode(envelope.Code)
	}

	if stderrors.Is(err, fs.ErrNotExist) {
		return foundry.ExitFileNotFound
	}
	return foundry.ExitFailure
}

func exitCodeForErrorCode(code string) foundry.ExitCode {
	switch code {
	case apperrors.CodeRateLimited, apperrors.CodeExternalService, apperrors.CodeTimeout, apperrors.CodeUnavailable:
		return foundry.ExitExternalServiceUnavailable
	case apperrors.CodeUnauthorized, apperrors.CodeConfigInvalid:
		return foundry.ExitConfigInvalid
	default:
		return foundry.ExitFailure
	}
}

// ExitWithCode logs err with the exit code metadata and exits.
// logger may be nil for failures before logger initialization.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		os.Exit(int(exitCode))
	}

	if logger == nil {
		writeFatal(msg, err)
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		os.Exit(info.Code)
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_category", info.Category),
	}
	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("correlation_id", envelope.CorrelationID))
		if envelope.Context != nil {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
		if original, ok := envelope.Original.(error); ok && original != nil {
			err = original
		}
	}
	var failure *requestFailure
	if stderrors.As(err, &failure) {
		fields = append(fields,
			zap.String("method", failure.result.Method),
			zap.String("path", failure.result.Path),
			zap.Int("status", failure.result.Status))
	}

	fields = append(fields, zap.Error(err))
	logger.Error(msg, fields...)
	os.Exit(info.Code)
}

// ExitWithCodeStderr writes to stderr without a logger and exits.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		writeFatal(msg, err)
		os.Exit(int(exitCode))
	}

	writeFatal(msg, err)
	fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
	os.Exit(info.Code)
}

func writeFatal(msg string, err error) {
	var envelope *errors.ErrorEnvelope
	switch {
	case err == nil:
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
	case stderrors.As(err, &envelope):
		fmt.Fprintf(os.Stderr, "FATAL: %s [%s]: %s (correlation: %s)\n",
			msg, envelope.Code, envelope.Message, envelope.CorrelationID)
	default:
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	}
}
