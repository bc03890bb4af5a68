package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Details returns the marker label and a short operator hint for err.
func Details(err error) (marker string, hint string) {
	switch {
	case err == nil:
		return "", ""
	case errors.Is(err, ErrNotFound):
		return "not_found", "item is no longer present at the source"
	case errors.Is(err, ErrValidation):
		return "validation", "inspect the item contents"
	case errors.Is(err, ErrConfiguration):
		return "configuration", "check config.toml"
	case errors.Is(err, ErrTimeout):
		return "timeout", "destination or source did not respond in time"
	case errors.Is(err, ErrExternalTool):
		return "external", "check the remote service logs"
	default:
		return "transient", "retried on the next pickup"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
