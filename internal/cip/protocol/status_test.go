package protocol

import (
	"errors"
	"testing"
)

func TestErrorFromSuccess(t *testing.T) {
	if err := ErrorFrom(MessageRouterResponse{Service: 0x8E}, nil); err != nil {
		t.Errorf("ErrorFrom() = %v, want nil", err)
	}
}

func TestErrorFromGeneral(t *testing.T) {
	err := ErrorFrom(MessageRouterResponse{Service: 0x8E, Status: 0x14}, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("ErrorFrom() = %T, want *StatusError", err)
	}
	if se.Kind != KindGeneral {
		t.Errorf("Kind = %s, want general", se.Kind)
	}
	if se.Service != GetAttributeSingle {
		t.Errorf("Service = %s", se.Service)
	}
	if got := err.Error(); got != "0x14: Attribute not supported" {
		t.Errorf("Error() = %q", got)
	}
}

func TestErrorFromConnectionFailure(t *testing.T) {
	resp := MessageRouterResponse{Service: 0xD4, Status: 0x01, ExtStatuses: []uint16{0x0100}}
	err := ErrorFrom(resp, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("ErrorFrom() = %T, want *StatusError", err)
	}
	if se.Kind != KindExtended {
		t.Errorf("Kind = %s, want extended", se.Kind)
	}
	want := "0x01: Connection failure\n0x0100: Connection in use or duplicate forward open"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !se.HasExtStatus(0x0100) {
		t.Error("HasExtStatus(0x0100) = false")
	}
}

func TestErrorFromCustomResolver(t *testing.T) {
	resolver := func(ext uint16) string { return "vendor" }
	err := ErrorFrom(MessageRouterResponse{Status: 0x1F, ExtStatuses: []uint16{0x0042}}, resolver)
	if got := err.Error(); got != "0x1F: Vendor specific error\n0x0042: vendor" {
		t.Errorf("Error() = %q", got)
	}

	err = ErrorFrom(MessageRouterResponse{Status: 0x1F, ExtStatuses: []uint16{0x0042}}, nil)
	if got := err.Error(); got != "0x1F: Vendor specific error\n0x0042: unknown" {
		t.Errorf("Error() without resolver = %q", got)
	}
}

func TestResolverFor(t *testing.T) {
	tests := []struct {
		service ServiceCode
		hasCM   bool
	}{
		{ForwardOpen, true},
		{LargeForwardOpen | ReplyBit, true},
		{ForwardClose, true},
		{GetAttributeSingle, false},
	}
	for _, tt := range tests {
		r := ResolverFor(tt.service)
		if (r != nil) != tt.hasCM {
			t.Errorf("ResolverFor(%s) != nil is %v, want %v", tt.service, r != nil, tt.hasCM)
			continue
		}
		if r != nil && r(0x0111) != "RPI not supported" {
			t.Errorf("ResolverFor(%s)(0x0111) = %q", tt.service, r(0x0111))
		}
	}
}
