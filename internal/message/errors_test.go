package message

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidationErrorMessageIsSorted(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"to": "required", "subject": "required"}}
	want := "validation failed: subject: required; to: required"
	if err.Error() != want {
		t.Fatalf("got %q, expected %q", err.Error(), want)
	}
}

func TestIsPermanent(t *testing.T) {
	cause := errors.New("rejected")
	permanent := fmt.Errorf("send: %w", &TransportError{Provider: "ses", StatusCode: 400, Permanent: true, Err: cause})
	transient := &TransportError{Provider: "ses", StatusCode: 503, Err: cause}

	if !IsPermanent(permanent) {
		t.Fatalf("expected wrapped permanent error to be permanent")
	}
	if IsPermanent(transient) {
		t.Fatalf("expected 503 to be transient")
	}
	if !errors.Is(permanent, cause) {
		t.Fatalf("expected cause to unwrap")
	}
}
