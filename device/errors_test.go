package device

import (
	"errors"
	"fmt"
	"testing"
)

func TestDeviceErrorMessage(t *testing.T) {
	err := NewConnectionFailedError("Connect", KindUSB, ReasonPortBusy, errors.New("resource in use"))
	want := "Connect: connection failed (port-busy): resource in use"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}

	bare := NewNotConnectedError("Send")
	if bare.Error() != "Send: not connected" {
		t.Errorf("Unexpected message: %q", bare.Error())
	}
}

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"unavailable", NewUnavailableError("Probe", KindBLE, ReasonAdapterOff), IsUnavailableError, true},
		{"connection failed", NewConnectionFailedError("Connect", KindUSB, "", nil), IsConnectionFailedError, true},
		{"not connected", NewNotConnectedError("Send"), IsNotConnectedError, true},
		{"timeout", NewTimeoutError("Receive"), IsTimeoutError, true},
		{"wrong code", NewTimeoutError("Receive"), IsNotConnectedError, false},
		{"plain error", errors.New("boom"), IsTimeoutError, false},
		{"nil", nil, IsTimeoutError, false},
	}

	for _, tt := range tests {
		if got := tt.check(tt.err); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestErrorPredicatesThroughWrapping(t *testing.T) {
	inner := NewTimeoutError("Receive")
	wrapped := fmt.Errorf("test connection: %w", inner)

	if !IsTimeoutError(wrapped) {
		t.Errorf("Expected predicate to see through wrapping")
	}
	if GetErrorCode(wrapped) != ErrCodeTimeout {
		t.Errorf("Expected code %d, got %d", ErrCodeTimeout, GetErrorCode(wrapped))
	}
}

func TestErrorReason(t *testing.T) {
	err := NewUnavailableError("Probe", KindUSB, ReasonNoSuchDevice)
	if got := ErrorReason(err); got != ReasonNoSuchDevice {
		t.Errorf("Expected reason %q, got %q", ReasonNoSuchDevice, got)
	}
	if got := ErrorReason(errors.New("boom")); got != "" {
		t.Errorf("Expected empty reason for plain error, got %q", got)
	}
}

func TestDeviceErrorIs(t *testing.T) {
	a := NewTimeoutError("Receive")
	b := NewTimeoutError("TestConnection")
	if !errors.Is(a, b) {
		t.Errorf("Expected errors with the same code to match via errors.Is")
	}
	if errors.Is(a, NewNotConnectedError("Send")) {
		t.Errorf("Expected different codes not to match")
	}
}
