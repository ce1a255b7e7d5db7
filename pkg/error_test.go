package pkg

import (
	"errors"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	// Verify all sentinel errors are distinct
	errs := []error{
		ErrTimeout,
		ErrTransportFailed,
		ErrNoSpace,
		ErrCancelled,
		ErrDuplicateDeviceID,
		ErrDuplicateDriver,
		ErrBusIDExhausted,
		ErrNotRunning,
		ErrAlreadyRunning,
		ErrUnknownDevice,
		ErrUnknownBus,
		ErrNoDriverBound,
		ErrPayloadTooLarge,
		ErrShortWrite,
	}

	for i, err1 := range errs {
		if err1 == nil {
			t.Errorf("error %d is nil", i)
			continue
		}
		for j, err2 := range errs {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("error %d and %d are equal", i, j)
			}
		}
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err     error
		wantMsg string
	}{
		{ErrTimeout, "timeout"},
		{ErrTransportFailed, "transport write failed"},
		{ErrNoSpace, "detail buffer too small"},
		{ErrCancelled, "cancelled"},
		{ErrDuplicateDeviceID, "duplicate device id"},
		{ErrDuplicateDriver, "duplicate driver"},
		{ErrBusIDExhausted, "bus id exhausted"},
		{ErrNotRunning, "not running"},
		{ErrAlreadyRunning, "already running"},
		{ErrUnknownDevice, "unknown device"},
		{ErrUnknownBus, "unknown bus"},
		{ErrNoDriverBound, "no driver bound"},
		{ErrPayloadTooLarge, "payload too large"},
		{ErrShortWrite, "short write"},
	}

	for _, tt := range tests {
		t.Run(tt.wantMsg, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("error.Error() = %v, want %v", got, tt.wantMsg)
			}
		})
	}
}

func TestPeerError(t *testing.T) {
	err := &PeerError{Code: 0x02}

	want := "peer error: code=0x02"
	if got := err.Error(); got != want {
		t.Errorf("PeerError.Error() = %v, want %v", got, want)
	}

	pe, ok := AsPeerError(err)
	if !ok {
		t.Fatal("AsPeerError() ok = false, want true")
	}
	if pe.Code != 0x02 {
		t.Errorf("AsPeerError() code = %#02x, want 0x02", pe.Code)
	}

	if _, ok := AsPeerError(ErrTimeout); ok {
		t.Error("AsPeerError(ErrTimeout) ok = true, want false")
	}
}

func TestPeerErrorWrapped(t *testing.T) {
	inner := &PeerError{Code: 0x7f}
	wrapped := errors.Join(errors.New("control failed"), inner)

	pe, ok := AsPeerError(wrapped)
	if !ok {
		t.Fatal("AsPeerError() ok = false for wrapped error, want true")
	}
	if pe.Code != 0x7f {
		t.Errorf("AsPeerError() code = %#02x, want 0x7f", pe.Code)
	}
}
