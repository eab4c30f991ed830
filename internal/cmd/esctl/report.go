package esctl

import (
	"errors"
	"fmt"

	"github.com/gtriggiano/es-cqrs-utils/internal/platform/config"
	apperrors "github.com/gtriggiano/es-cqrs-utils/internal/platform/errors"
	"github.com/gtriggiano/es-cqrs-utils/internal/platform/errors/i18n"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/status"
)

// exitCodeBase offsets gRPC status codes so they do not collide with the
// generic failure and usage exit codes.
const exitCodeBase = 10

// Describe renders err for a terminal. Coded errors show their localized
// message, gRPC status and reason ahead of the full error chain.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		return err.Error()
	}
	st, _ := status.FromError(apperrors.ToStatus(err, i18n.BaseLocale))
	message := appErr.UserMessage(i18n.BaseLocale)
	reason := string(appErr.Code)
	for _, detail := range st.Details() {
		switch d := detail.(type) {
		case *errdetails.LocalizedMessage:
			if d.GetMessage() != "" {
				message = d.GetMessage()
			}
		case *errdetails.ErrorInfo:
			reason = d.GetReason()
		}
	}
	return fmt.Sprintf("%s [%s %s] (%v)", message, st.Code(), reason, err)
}

// ExitCode maps err to a process exit status. Coded errors exit with
// exitCodeBase plus their gRPC status code; anything else exits with
// config.ExitFailure.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		return config.ExitFailure
	}
	return exitCodeBase + int(appErr.Code.GRPCCode())
}
