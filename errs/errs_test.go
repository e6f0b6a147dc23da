package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesScopeAndCode(t *testing.T) {
	err := New(
		"market/execute",
		CodePriceMismatch,
		WithMessage("listed price is 1000"),
		WithCause(errors.New("caller offered 900")),
	)

	out := err.Error()
	if !strings.Contains(out, "scope=market/execute") {
		t.Fatalf("expected scope marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=price_mismatch") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, `message="listed price is 1000"`) {
		t.Fatalf("expected message in error string: %s", out)
	}
	if !strings.Contains(out, `cause="caller offered 900"`) {
		t.Fatalf("expected cause in error string: %s", out)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("token transfer returned false")
	err := New("market/execute", CodeTransferFailed, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to match wrapped cause")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("engine: %w", New("market/cancel", CodeNotPublished))
	if !errors.Is(err, New("", CodeNotPublished)) {
		t.Fatalf("expected code-only sentinel to match")
	}
	if errors.Is(err, New("", CodeUnauthorized)) {
		t.Fatalf("did not expect unauthorized to match not_published")
	}
	if errors.Is(err, New("market/create", CodeNotPublished)) {
		t.Fatalf("did not expect mismatched scope to match")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(nil); got != "" {
		t.Fatalf("expected empty code for nil error, got %q", got)
	}
	if got := CodeOf(errors.New("plain")); got != CodeInternal {
		t.Fatalf("expected internal code for foreign error, got %q", got)
	}
	wrapped := fmt.Errorf("store: %w", New("market/store", CodeConflict))
	if got := CodeOf(wrapped); got != CodeConflict {
		t.Fatalf("expected conflict code, got %q", got)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{CodeInvalid, http.StatusUnprocessableEntity},
		{CodeExpired, http.StatusUnprocessableEntity},
		{CodePriceMismatch, http.StatusUnprocessableEntity},
		{CodeStaleOwner, http.StatusUnprocessableEntity},
		{CodeUnauthorized, http.StatusForbidden},
		{CodeNotPublished, http.StatusNotFound},
		{CodeNotFound, http.StatusNotFound},
		{CodeConflict, http.StatusConflict},
		{CodeTransferFailed, http.StatusPaymentRequired},
		{CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(New("market/test", tc.code)); got != tc.want {
			t.Fatalf("code %s: expected status %d, got %d", tc.code, tc.want, got)
		}
	}
	if got := HTTPStatus(nil); got != http.StatusOK {
		t.Fatalf("expected 200 for nil error, got %d", got)
	}
}
