package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	err := Wrap(CodeNoRoute, "jupiter: no route for pair", fmt.Errorf("status 400"))
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected wrapped error to match ErrNoRoute")
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatalf("did not expect match with ErrTimeout")
	}

	outer := fmt.Errorf("quote: %w", err)
	if !errors.Is(outer, ErrNoRoute) {
		t.Fatalf("expected fmt-wrapped error to match ErrNoRoute")
	}
	if CodeOf(outer) != CodeNoRoute {
		t.Fatalf("expected code no_route got %s", CodeOf(outer))
	}
}

func TestUserMessageHidesCause(t *testing.T) {
	err := Wrap(CodeRPCUnavailable, "provider unavailable", fmt.Errorf(`{"error":"internal node secret"}`))
	msg := UserMessage(err)
	if strings.Contains(msg, "secret") {
		t.Fatalf("user message leaked provider body: %q", msg)
	}
	if msg != userMessages[CodeRPCUnavailable] {
		t.Fatalf("unexpected message %q", msg)
	}

	if got := UserMessage(fmt.Errorf("boom")); got != userMessages[CodeInternal] {
		t.Fatalf("expected internal message for untyped error, got %q", got)
	}
	if got := UserMessage(Validation("amount must be positive")); got != "amount must be positive" {
		t.Fatalf("expected validation message passthrough, got %q", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	if HTTPStatus(ErrNotFound) != http.StatusNotFound {
		t.Fatalf("not found should map to 404")
	}
	if HTTPStatus(Wrap(CodeTimeout, "rpc", nil)) != http.StatusGatewayTimeout {
		t.Fatalf("timeout should map to 504")
	}
	if HTTPStatus(fmt.Errorf("plain")) != http.StatusInternalServerError {
		t.Fatalf("untyped error should map to 500")
	}
}

func TestLogLevel(t *testing.T) {
	cases := []struct {
		err  error
		want slog.Level
	}{
		{ErrInsufficientFunds, slog.LevelInfo},
		{Wrap(CodeNoRoute, "quote", nil), slog.LevelInfo},
		{Validation("bad amount"), slog.LevelInfo},
		{Wrap(CodeBroadcast, "send transaction", fmt.Errorf("program error")), slog.LevelWarn},
		{ErrRPCUnavailable, slog.LevelWarn},
		{fmt.Errorf("plain"), slog.LevelError},
	}
	for _, tc := range cases {
		if got := LogLevel(tc.err); got != tc.want {
			t.Fatalf("LogLevel(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}
