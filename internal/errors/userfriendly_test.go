package errors

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
	"testing"

	"github.com/tonylturner/eipscan/internal/cip/codec"
	"github.com/tonylturner/eipscan/internal/cip/protocol"
	"github.com/tonylturner/eipscan/internal/enip"
)

func TestUserFriendlyError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      UserFriendlyError
		contains []string
	}{
		{
			name:     "message only",
			err:      UserFriendlyError{Message: "something broke"},
			contains: []string{"something broke"},
		},
		{
			name: "all fields",
			err: UserFriendlyError{
				Message: "connection failed",
				Reason:  "timeout",
				Hint:    "check network",
				Try:     "ping host",
				Err:     fmt.Errorf("dial tcp: timeout"),
			},
			contains: []string{"connection failed", "Reason: timeout", "Hint: check network", "Try: ping host", "Details: dial tcp: timeout"},
		},
		{
			name: "no reason",
			err: UserFriendlyError{
				Message: "failed",
				Hint:    "hint here",
			},
			contains: []string{"failed", "Hint: hint here"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("Error() = %q, want to contain %q", msg, s)
				}
			}
		})
	}
}

func TestUserFriendlyError_ErrorOmitsEmptyFields(t *testing.T) {
	msg := UserFriendlyError{Message: "msg"}.Error()
	if strings.Contains(msg, "Reason:") || strings.Contains(msg, "Hint:") || strings.Contains(msg, "Try:") || strings.Contains(msg, "Details:") {
		t.Errorf("Error() = %q, should not contain empty fields", msg)
	}
}

func TestUserFriendlyError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("root cause")
	err := UserFriendlyError{Message: "wrapper", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("Unwrap should return the inner error")
	}

	var nilErr UserFriendlyError
	if nilErr.Unwrap() != nil {
		t.Error("Unwrap on nil Err should return nil")
	}
}

func TestWrapNetworkError(t *testing.T) {
	if WrapNetworkError(nil, "10.0.0.1", 44818) != nil {
		t.Error("nil error should stay nil")
	}

	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{"context deadline", fmt.Errorf("register session: %w", context.DeadlineExceeded), "timeout"},
		{"timeout text", fmt.Errorf("dial tcp: i/o timeout"), "timeout"},
		{"refused errno", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), "refused"},
		{"refused text", fmt.Errorf("connection refused"), "refused"},
		{"unreachable", fmt.Errorf("dial: %w", syscall.EHOSTUNREACH), "route"},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), "reset"},
		{"generic", fmt.Errorf("something else"), "Network communication failed"},
		{"encapsulation status", &enip.StatusError{Command: 0x0065, Status: 0x0001}, "0x0001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapNetworkError(tt.err, "10.0.0.1", 44818)
			var ufe UserFriendlyError
			if !errors.As(err, &ufe) {
				t.Fatalf("WrapNetworkError() = %T", err)
			}
			if !strings.Contains(ufe.Message, "10.0.0.1:44818") {
				t.Errorf("message should contain address, got %q", ufe.Message)
			}
			if !strings.Contains(ufe.Reason, tt.reason) {
				t.Errorf("reason = %q, want to contain %q", ufe.Reason, tt.reason)
			}
			if !errors.Is(err, tt.err) {
				t.Error("wrapped error should unwrap to the cause")
			}
		})
	}
}

func TestWrapCIPError(t *testing.T) {
	if WrapCIPError(nil, "read") != nil {
		t.Error("nil error should stay nil")
	}

	tests := []struct {
		name   string
		err    error
		reason string
		hint   string
	}{
		{
			name:   "attribute not supported",
			err:    fmt.Errorf("get attribute: %w", &protocol.StatusError{Status: 0x14, Text: "attribute not supported"}),
			reason: "0x14",
			hint:   "does not exist",
		},
		{
			name:   "connection failure",
			err:    &protocol.StatusError{Kind: protocol.KindExtended, Status: 0x01, ExtStatuses: []uint16{0x0109}},
			reason: "0x01",
			hint:   "extended status",
		},
		{
			name:   "unlisted status",
			err:    &protocol.StatusError{Status: 0x2A},
			reason: "0x2A",
			hint:   "may not support",
		},
		{
			name:   "short reply",
			err:    fmt.Errorf("identity: %w", codec.ErrSourceTooShort),
			reason: "malformed",
		},
		{
			name:   "timeout",
			err:    fmt.Errorf("timeout waiting for response"),
			reason: "timeout",
		},
		{
			name:   "generic",
			err:    fmt.Errorf("something"),
			reason: "CIP protocol error occurred",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ufe := WrapCIPError(tt.err, "GetAttributeSingle").(UserFriendlyError)
			if !strings.Contains(ufe.Message, "GetAttributeSingle") {
				t.Errorf("message should contain operation, got %q", ufe.Message)
			}
			if !strings.Contains(ufe.Reason, tt.reason) {
				t.Errorf("reason = %q, want to contain %q", ufe.Reason, tt.reason)
			}
			if tt.hint != "" && !strings.Contains(ufe.Hint, tt.hint) {
				t.Errorf("hint = %q, want to contain %q", ufe.Hint, tt.hint)
			}
		})
	}
}

func TestIsCIPError(t *testing.T) {
	cipErr := fmt.Errorf("read: %w", &protocol.StatusError{Status: 0x14})
	if !IsCIPError(cipErr) {
		t.Error("wrapped CIP status should be detected")
	}
	if IsCIPError(&enip.StatusError{Status: 0x0001}) {
		t.Error("encapsulation status is not a CIP status")
	}
	if IsCIPError(context.DeadlineExceeded) {
		t.Error("timeout is not a CIP status")
	}
}

func TestWrapConfigError(t *testing.T) {
	if WrapConfigError(nil, "config.yaml") != nil {
		t.Error("nil error should stay nil")
	}

	t.Run("invalid field", func(t *testing.T) {
		ufe := WrapConfigError(fmt.Errorf("io[0]: rpi must be positive"), "eipscan.yaml").(UserFriendlyError)
		if !strings.Contains(ufe.Message, "eipscan.yaml") {
			t.Errorf("message should contain config path, got %q", ufe.Message)
		}
		if ufe.Reason != "io[0]: rpi must be positive" {
			t.Errorf("reason should be inner error message, got %q", ufe.Reason)
		}
		if !strings.Contains(ufe.Try, "config validate") {
			t.Errorf("try should suggest validation, got %q", ufe.Try)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		ufe := WrapConfigError(fmt.Errorf("read config: %w", fs.ErrNotExist), "eipscan.yaml").(UserFriendlyError)
		if !strings.Contains(ufe.Hint, "config init") {
			t.Errorf("hint should suggest config init, got %q", ufe.Hint)
		}
	})
}
