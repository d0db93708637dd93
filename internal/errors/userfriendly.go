package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/tonylturner/eipscan/internal/cip/protocol"
	"github.com/tonylturner/eipscan/internal/enip"
)

// UserFriendlyError provides user-friendly error messages with context and hints
type UserFriendlyError struct {
	Message string
	Reason  string
	Hint    string
	Try     string
	Err     error
}

func (e UserFriendlyError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Message)
	if e.Reason != "" {
		buf.WriteString("\n  Reason: " + e.Reason)
	}
	if e.Hint != "" {
		buf.WriteString("\n  Hint: " + e.Hint)
	}
	if e.Try != "" {
		buf.WriteString("\n  Try: " + e.Try)
	}
	if e.Err != nil {
		buf.WriteString("\n  Details: " + e.Err.Error())
	}
	return buf.String()
}

func (e UserFriendlyError) Unwrap() error {
	return e.Err
}

// WrapNetworkError wraps network errors with user-friendly context
func WrapNetworkError(err error, ip string, port int) error {
	if err == nil {
		return nil
	}
	var encap *enip.StatusError
	if errors.As(err, &encap) {
		return UserFriendlyError{
			Message: fmt.Sprintf("Device at %s:%d rejected the request", ip, port),
			Reason:  fmt.Sprintf("Encapsulation status 0x%04X", encap.Status),
			Hint:    "The device speaks EtherNet/IP but refused this command or session",
			Try:     fmt.Sprintf("eipscan identity --ip %s --port %d --log-level debug", ip, port),
			Err:     err,
		}
	}
	return UserFriendlyError{
		Message: fmt.Sprintf("Failed to communicate with device at %s:%d", ip, port),
		Reason:  extractNetworkReason(err),
		Hint:    "Device may not be a CIP/EtherNet-IP device, or there may be a network connectivity issue",
		Try:     "eipscan discover --wait 2s",
		Err:     err,
	}
}

// WrapCIPError wraps CIP protocol errors with user-friendly context
func WrapCIPError(err error, operation string) error {
	if err == nil {
		return nil
	}
	reason, hint := extractCIPReason(err)
	return UserFriendlyError{
		Message: fmt.Sprintf("CIP operation failed: %s", operation),
		Reason:  reason,
		Hint:    hint,
		Try:     "eipscan catalog list",
		Err:     err,
	}
}

// IsCIPError reports whether err carries a CIP general status from the device.
func IsCIPError(err error) bool {
	var status *protocol.StatusError
	return errors.As(err, &status)
}

// WrapConfigError wraps configuration errors with user-friendly context
func WrapConfigError(err error, configPath string) error {
	if err == nil {
		return nil
	}
	hint := "Fix the listed field and run validation again"
	if errors.Is(err, os.ErrNotExist) {
		hint = "Create a starting configuration with: eipscan config init"
	}
	return UserFriendlyError{
		Message: fmt.Sprintf("Configuration error in %s", configPath),
		Reason:  err.Error(),
		Hint:    hint,
		Try:     fmt.Sprintf("eipscan config validate --config %s", configPath),
		Err:     err,
	}
}

func extractNetworkReason(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return "Connection timeout - device may be offline or unreachable"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "Connection refused - device may not be listening on this port"
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return "No route to host - network routing issue or device unreachable"
	case errors.Is(err, syscall.ECONNRESET):
		return "Connection reset - device closed the connection unexpectedly"
	}

	// Errors that crossed a process boundary only keep their text.
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "Connection timeout - device may be offline or unreachable"
	}
	if strings.Contains(errStr, "connection refused") {
		return "Connection refused - device may not be listening on this port"
	}
	if strings.Contains(errStr, "no route to host") {
		return "No route to host - network routing issue or device unreachable"
	}
	if strings.Contains(errStr, "connection reset") {
		return "Connection reset - device closed the connection unexpectedly"
	}

	return "Network communication failed"
}

func extractCIPReason(err error) (reason, hint string) {
	const defaultHint = "The device may not support this operation, or the CIP path may be incorrect"

	var status *protocol.StatusError
	if errors.As(err, &status) {
		reason = fmt.Sprintf("Device returned CIP status 0x%02X (%s)", status.Status, status.Text)
		switch status.Status {
		case 0x01:
			return reason, "The connection parameters were refused; check the extended status, RPI and assembly sizes"
		case 0x05, 0x16:
			return reason, "The class or instance does not exist on this device"
		case 0x08:
			return reason, "The object does not implement this service"
		case 0x0E:
			return reason, "The attribute is read-only"
		case 0x14:
			return reason, "The attribute does not exist on this object"
		case 0x15, 0x13:
			return reason, "The value has the wrong size for this attribute"
		}
		return reason, defaultHint
	}

	errStr := err.Error()
	if strings.Contains(errStr, "too short") || strings.Contains(errStr, "decode") {
		return "Received invalid or malformed response from device", defaultHint
	}
	if strings.Contains(errStr, "timeout") {
		return "Device did not respond within timeout period", defaultHint
	}

	return "CIP protocol error occurred", defaultHint
}
