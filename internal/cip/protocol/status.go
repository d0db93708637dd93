package protocol

import (
	"fmt"
	"strings"

	"github.com/tonylturner/eipscan/internal/cip/spec"
)

// StatusResolver maps an extended status to a description.
type StatusResolver func(uint16) string

// StatusKind distinguishes general from extended status failures.
type StatusKind int

const (
	KindGeneral StatusKind = iota
	KindExtended
)

func (k StatusKind) String() string {
	if k == KindExtended {
		return "extended"
	}
	return "general"
}

// StatusError is a non-success reply from a CIP object.
type StatusError struct {
	Kind        StatusKind
	Service     ServiceCode
	Status      uint8
	ExtStatuses []uint16
	Text        string
	ExtText     []string
}

func (e *StatusError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "0x%02X: %s", e.Status, e.Text)
	for i, ext := range e.ExtStatuses {
		text := "unknown"
		if i < len(e.ExtText) {
			text = e.ExtText[i]
		}
		fmt.Fprintf(&b, "\n0x%04X: %s", ext, text)
	}
	return b.String()
}

// HasExtStatus reports whether ext is among the extended statuses.
func (e *StatusError) HasExtStatus(ext uint16) bool {
	for _, v := range e.ExtStatuses {
		if v == ext {
			return true
		}
	}
	return false
}

// ErrorFrom returns nil for a successful reply and a *StatusError otherwise.
// When resolver is nil and the general status is a connection failure, the
// Connection Manager table is used for the extended statuses.
func ErrorFrom(resp MessageRouterResponse, resolver StatusResolver) error {
	if resp.Success() {
		return nil
	}
	err := &StatusError{
		Kind:    KindGeneral,
		Service: resp.Service.Request(),
		Status:  resp.Status,
		Text:    spec.GeneralStatusText(resp.Status),
	}
	if len(resp.ExtStatuses) == 0 {
		return err
	}
	if resolver == nil && resp.Status == spec.StatusConnectionFailure {
		resolver = spec.ConnectionManagerStatusText
	}
	err.Kind = KindExtended
	err.ExtStatuses = append([]uint16(nil), resp.ExtStatuses...)
	err.ExtText = make([]string, len(resp.ExtStatuses))
	for i, ext := range resp.ExtStatuses {
		if resolver != nil {
			err.ExtText[i] = resolver(ext)
		} else {
			err.ExtText[i] = "unknown"
		}
	}
	return err
}

// ResolverFor returns the extended status resolver for a service, or nil.
func ResolverFor(service ServiceCode) StatusResolver {
	switch service.Request() {
	case ForwardOpen, LargeForwardOpen, ForwardClose:
		return spec.ConnectionManagerStatusText
	default:
		return nil
	}
}
