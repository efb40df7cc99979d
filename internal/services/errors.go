package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrTransient     = errors.New("transient process error")
	ErrPermanent     = errors.New("permanent process error")
	ErrStorage       = errors.New("storage error")
	ErrCatalogWrite  = errors.New("catalog write error")
	ErrCancelled     = errors.New("cancelled")
	ErrNotFound      = errors.New("not found")
	ErrConfiguration = errors.New("configuration error")
	ErrBusy          = errors.New("pipeline busy")
)

// ErrorKind is the stable classification name emitted in logs and API payloads.
type ErrorKind string

const (
	ErrorKindValidation    ErrorKind = "validation"
	ErrorKindTransient     ErrorKind = "transient"
	ErrorKindPermanent     ErrorKind = "permanent"
	ErrorKindStorage       ErrorKind = "storage"
	ErrorKindCatalogWrite  ErrorKind = "catalog_write"
	ErrorKindCancelled     ErrorKind = "cancelled"
	ErrorKindNotFound      ErrorKind = "not_found"
	ErrorKindConfiguration ErrorKind = "configuration"
	ErrorKindBusy          ErrorKind = "busy"
	ErrorKindUnknown       ErrorKind = "unknown"
)

// StageError carries the stage context attached by Wrap so failure reports can
// name the failing stage without parsing the message.
type StageError struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Hint      string
	Cause     error
}

func (e *StageError) Error() string {
	detail := buildDetail(e.Stage, e.Operation, e.Message)
	if e.Marker != nil {
		detail = fmt.Sprintf("%s: %s", e.Marker, detail)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", detail, e.Cause)
	}
	return detail
}

// Unwrap exposes both the marker and the cause to errors.Is / errors.As.
func (e *StageError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Marker != nil {
		out = append(out, e.Marker)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// Wrap builds an error that includes stage context while tagging it with the
// provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &StageError{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Cause:     err,
	}
}

// WithHint attaches a remediation hint to err without changing its
// classification.
func WithHint(err error, hint string) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		clone := *se
		clone.Hint = strings.TrimSpace(hint)
		return &clone
	}
	return &StageError{Hint: strings.TrimSpace(hint), Cause: err}
}

// ErrorDetails is the flattened view of a classified error.
type ErrorDetails struct {
	Kind      ErrorKind
	Stage     string
	Operation string
	Message   string
	Hint      string
	Cause     error
}

// Details extracts classification and context from err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{Kind: ErrorKindUnknown}
	}
	details := ErrorDetails{Kind: KindOf(err)}
	var se *StageError
	if errors.As(err, &se) {
		details.Hint = se.Hint
		se = withContext(se)
		details.Stage = se.Stage
		details.Operation = se.Operation
		details.Message = se.Message
		details.Cause = se.Cause
		if details.Hint == "" {
			details.Hint = se.Hint
		}
	}
	if details.Message == "" {
		details.Message = strings.TrimSpace(err.Error())
	}
	return details
}

// KindOf maps err onto the taxonomy. Cancellation wins over everything else
// so a cancelled job is never reported as failed.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindUnknown
	case errors.Is(err, ErrCancelled):
		return ErrorKindCancelled
	case errors.Is(err, ErrValidation):
		return ErrorKindValidation
	case errors.Is(err, ErrCatalogWrite):
		return ErrorKindCatalogWrite
	case errors.Is(err, ErrStorage):
		return ErrorKindStorage
	case errors.Is(err, ErrPermanent):
		return ErrorKindPermanent
	case errors.Is(err, ErrTransient):
		return ErrorKindTransient
	case errors.Is(err, ErrNotFound):
		return ErrorKindNotFound
	case errors.Is(err, ErrConfiguration):
		return ErrorKindConfiguration
	case errors.Is(err, ErrBusy):
		return ErrorKindBusy
	default:
		return ErrorKindUnknown
	}
}

// Retryable reports whether err was classified as transient.
func Retryable(err error) bool {
	return KindOf(err) == ErrorKindTransient
}

// UserMessage renders the user-safe failure text: the stage-level message and
// hint only, never the wrapped cause.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	details := Details(err)
	msg := string(details.Kind) + " failure"
	var se *StageError
	if errors.As(err, &se) {
		se = withContext(se)
		msg = buildDetail(se.Stage, "", se.Message)
	}
	if details.Hint != "" {
		msg += " (" + details.Hint + ")"
	}
	return msg
}

// withContext skips hint-only wrappers so the stage that actually failed is
// reported.
func withContext(se *StageError) *StageError {
	for se.Stage == "" && se.Message == "" && se.Cause != nil {
		var next *StageError
		if !errors.As(se.Cause, &next) {
			break
		}
		se = next
	}
	return se
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
