// Package notifications publishes job outcome alerts to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers always hold a usable Service. Which outcomes are sent is controlled
// by the notify_* switches in the [notifications] config section.
package notifications
