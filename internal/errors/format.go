package errors

import (
	"fmt"
	"strings"
)

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	e, ok := err.(*Error)
	if !ok {
		e = Wrap(KindInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", e.Message))
	if e.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", e.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Kind: %s\n", e.Kind))
	if e.CorrelationID != "" {
		sb.WriteString(fmt.Sprintf("  Correlation: %s\n", e.CorrelationID))
	}
	return sb.String()
}

// FormatForLog returns key-value pairs suitable for slog attributes.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}

	e, ok := err.(*Error)
	if !ok {
		return map[string]any{"error": err.Error()}
	}

	result := map[string]any{
		"error_kind": string(e.Kind),
		"message":    e.Message,
		"retryable":  e.Retryable,
	}
	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}
	if e.Suggestion != "" {
		result["suggestion"] = e.Suggestion
	}
	if e.CorrelationID != "" {
		result["correlation_id"] = e.CorrelationID
	}
	for k, v := range e.Details {
		result["detail_"+k] = v
	}
	return result
}
