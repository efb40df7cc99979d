package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"vodpipe/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrPermanent, "transcoding_hls", "encode 720p", "encoder rejected input", base)
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"transcoding_hls", "encode 720p", "encoder rejected input", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestKindOfMapping(t *testing.T) {
	cases := []struct {
		err  error
		want services.ErrorKind
	}{
		{services.Wrap(services.ErrValidation, "intake", "", "bad title", nil), services.ErrorKindValidation},
		{services.Wrap(services.ErrTransient, "probe", "", "timeout", nil), services.ErrorKindTransient},
		{services.Wrap(services.ErrPermanent, "probe", "", "corrupt", nil), services.ErrorKindPermanent},
		{services.Wrap(services.ErrStorage, "publish", "", "disk full", nil), services.ErrorKindStorage},
		{services.Wrap(services.ErrCatalogWrite, "catalog", "", "tx failed", nil), services.ErrorKindCatalogWrite},
		{fmt.Errorf("outer: %w", services.ErrCancelled), services.ErrorKindCancelled},
		{errors.New("plain"), services.ErrorKindUnknown},
		{nil, services.ErrorKindUnknown},
	}
	for _, tc := range cases {
		if got := services.KindOf(tc.err); got != tc.want {
			t.Fatalf("KindOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "stage", "op", "msg", context.DeadlineExceeded)
	if !services.Retryable(err) {
		t.Fatalf("expected nil marker to classify as transient, got %s", services.KindOf(err))
	}
}

func TestWithHintKeepsClassification(t *testing.T) {
	err := services.Wrap(services.ErrPermanent, "extracting_metadata", "probe", "unsupported codec", errors.New("exit 1"))
	hinted := services.WithHint(err, "re-encode the source to H.264")
	if !errors.Is(hinted, services.ErrPermanent) {
		t.Fatalf("expected permanent marker to survive, got %v", hinted)
	}
	details := services.Details(hinted)
	if details.Hint != "re-encode the source to H.264" {
		t.Fatalf("unexpected hint %q", details.Hint)
	}
	if details.Stage != "extracting_metadata" {
		t.Fatalf("unexpected stage %q", details.Stage)
	}

	plain := services.WithHint(errors.New("raw"), "retry later")
	if services.KindOf(plain) != services.ErrorKindUnknown {
		t.Fatalf("expected hint on plain error to stay unclassified, got %s", services.KindOf(plain))
	}
}

func TestUserMessageOmitsCause(t *testing.T) {
	cause := errors.New("/var/tmp/secret/path: Invalid data found when processing input")
	err := services.WithHint(
		services.Wrap(services.ErrPermanent, "extracting_metadata", "ffprobe", "source could not be decoded", cause),
		"upload a playable video file",
	)
	msg := services.UserMessage(err)
	if strings.Contains(msg, "secret") {
		t.Fatalf("user message leaked cause: %q", msg)
	}
	if !strings.Contains(msg, "extracting_metadata") || !strings.Contains(msg, "upload a playable video file") {
		t.Fatalf("user message missing stage or hint: %q", msg)
	}
	if services.UserMessage(nil) != "" {
		t.Fatal("expected empty message for nil error")
	}
}

func TestHintWrapperOverStageErrorReportsInnerStage(t *testing.T) {
	inner := services.Wrap(services.ErrStorage, "moving_to_final_storage", "rename", "publish failed", nil)
	outer := services.WithHint(fmt.Errorf("job: %w", inner), "check storage_dir permissions")
	details := services.Details(outer)
	if details.Stage != "moving_to_final_storage" {
		t.Fatalf("expected inner stage, got %q", details.Stage)
	}
	if details.Kind != services.ErrorKindStorage {
		t.Fatalf("expected storage kind, got %s", details.Kind)
	}
}
