package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCodeAndMessage(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeStorageFailure, cause, "journal write failed", WithMetadata("driver", "mysql"))

	wrapped := fmt.Errorf("record: %w", err)
	if CodeOf(wrapped) != CodeStorageFailure {
		t.Fatalf("unexpected code %s", CodeOf(wrapped))
	}
	if MessageOf(wrapped) != "journal write failed" {
		t.Fatalf("unexpected message %q", MessageOf(wrapped))
	}
	if !stdErrors.Is(wrapped, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if !stdErrors.Is(wrapped, New(CodeStorageFailure, "")) {
		t.Fatal("expected errors.Is to match by code")
	}
	if got := err.Metadata()["driver"]; got != "mysql" {
		t.Fatalf("unexpected metadata %q", got)
	}
	if !RetryableError(wrapped) {
		t.Fatal("storage failures default to retryable")
	}
}

func TestRegisterOverridesDefaults(t *testing.T) {
	const code Code = "TEST_REGISTERED"
	Register(code, Attributes{Message: "registered default", Severity: SeverityWarning})

	err := New(code, "")
	if err.Message() != "registered default" {
		t.Fatalf("unexpected default message %q", err.Message())
	}
	if err.Severity() != SeverityWarning {
		t.Fatalf("unexpected severity %s", err.Severity())
	}
	if New(code, "", WithSeverity(SeverityCritical)).Severity() != SeverityCritical {
		t.Fatal("expected severity override")
	}
}

func TestMessageOfPlainError(t *testing.T) {
	if MessageOf(stdErrors.New("plain")) != "plain" {
		t.Fatal("plain errors fall back to Error()")
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatal("plain errors map to UNKNOWN")
	}
}
