package aggregate

import (
	"fmt"

	apperrors "github.com/gtriggiano/es-cqrs-utils/internal/platform/errors"
	"github.com/gtriggiano/es-cqrs-utils/internal/services/eventsource/domain/event"
)

// LoadingError wraps a failure to rebuild an aggregate. kind is empty when
// the failure is not tied to a single event.
func LoadingError(typeName, stream, id string, kind event.Kind, cause error) error {
	metadata := map[string]string{
		"aggregate_type": typeName,
		"stream":         stream,
		"aggregate_id":   id,
	}
	message := fmt.Sprintf("load %s from %s", typeName, stream)
	if kind != "" {
		metadata["event_kind"] = string(kind)
		message = fmt.Sprintf("load %s from %s: replay %s", typeName, stream, kind)
	}
	return apperrors.WrapWithMetadata(apperrors.CodeAggregateLoading, message, metadata, cause)
}
