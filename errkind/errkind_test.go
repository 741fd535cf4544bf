package errkind

import (
	"errors"
	"fmt"
	"testing"

	pkgerrors "github.com/pkg/errors"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "with cause",
			err:  New(MonitorStatus, "flash_data", errors.New("status=1")),
			want: "flash_data: monitor_status: status=1",
		},
		{
			name: "without cause",
			err:  New(WiringOrPort, "sync", nil),
			want: "sync: wiring_or_port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsFindsKindThroughWrapping(t *testing.T) {
	base := New(ProtocolFraming, "flash_begin", errors.New("short frame"))
	wrapped := pkgerrors.Wrap(base, "write image at 0x1000")
	wrapped = fmt.Errorf("attempt 1: %w", wrapped)

	if !Is(wrapped, ProtocolFraming) {
		t.Fatalf("expected Is(wrapped, ProtocolFraming) to be true")
	}
	if Is(wrapped, MonitorStatus) {
		t.Fatalf("expected Is(wrapped, MonitorStatus) to be false")
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := New(Aborted, "read_flash", cause)
	if errors.Unwrap(err) != cause {
		t.Fatalf("Unwrap did not return the wrapped cause")
	}
}

func TestKindString(t *testing.T) {
	if got := ImageLoad.String(); got != "image_load" {
		t.Errorf("ImageLoad.String() = %q", got)
	}
	if got := Kind(99).String(); got != "kind(99)" {
		t.Errorf("unknown Kind.String() = %q", got)
	}
}
