package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", New(CodeVerificationFailed, "bad signature"))
	if !stdErrors.Is(err, New(CodeVerificationFailed, "")) {
		t.Fatalf("expected errors.Is to match by code")
	}
	if stdErrors.Is(err, New(CodeTimeout, "")) {
		t.Fatalf("unexpected match against different code")
	}
	if CodeOf(err) != CodeVerificationFailed {
		t.Fatalf("unexpected code %s", CodeOf(err))
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("uncoded errors should report UNKNOWN")
	}
}

func TestHTTPStatusOf(t *testing.T) {
	cases := map[Code]int{
		CodeVerificationFailed:  http.StatusUnauthorized,
		CodeUnsupportedPlatform: http.StatusBadRequest,
		CodeConnectorDisabled:   http.StatusConflict,
		CodeDispatchInternal:    http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := HTTPStatusOf(New(code, "")); got != want {
			t.Fatalf("%s: expected %d, got %d", code, want, got)
		}
	}
	if HTTPStatusOf(nil) != http.StatusOK {
		t.Fatalf("nil error should map to 200")
	}
	if HTTPStatusOf(stdErrors.New("plain")) != http.StatusInternalServerError {
		t.Fatalf("plain error should map to 500")
	}
}

func TestWrapKeepsCauseAndMetadata(t *testing.T) {
	err := Wrap(CodeConnectorExecutionFailed, stdErrors.New("boom"), "", WithMetadata("connector", "zoom"))
	if err.Metadata()["connector"] != "zoom" {
		t.Fatalf("metadata missing")
	}
	if err.Message() != "connector execution failed" {
		t.Fatalf("expected default message, got %q", err.Message())
	}
	if stdErrors.Unwrap(err).Error() != "boom" {
		t.Fatalf("cause not preserved")
	}
	if err.Error() != "[CONNECTOR_EXECUTION_FAILED] connector execution failed: boom" {
		t.Fatalf("unexpected text %q", err.Error())
	}
}

func TestAlertingCodes(t *testing.T) {
	if !CodeDispatchInternal.Attributes().Alert || CodeVerificationFailed.Attributes().Alert {
		t.Fatalf("only internal failures should alert")
	}
	if Code("MISSING").Attributes() != CodeUnknown.Attributes() {
		t.Fatalf("unregistered code should fall back to UNKNOWN")
	}
}
