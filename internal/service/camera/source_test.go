package camera

import (
	"errors"
	"testing"
)

func TestParseDeviceID(t *testing.T) {
	tests := []struct {
		input    string
		expected interface{}
	}{
		{"0", 0},
		{"2", 2},
		{" 3 ", 3},
		{"/dev/video2", "/dev/video2"},
		{"rtsp://10.0.0.5/stream", "rtsp://10.0.0.5/stream"},
	}

	for _, tt := range tests {
		got := parseDeviceID(tt.input)
		if got != tt.expected {
			t.Errorf("parseDeviceID(%q) = %#v, expected %#v", tt.input, got, tt.expected)
		}
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{Closed, "closed"},
		{OpenStreaming, "streaming"},
		{Failed, "failed"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %q, expected %q", tt.state, got, tt.expected)
		}
	}
}

func TestDevice_ClosedRejectsReads(t *testing.T) {
	d := &Device{deviceID: "0", state: Closed, limit: DefaultFailureLimit}

	if _, err := d.ReadFrame(); err == nil {
		t.Fatal("Expected error reading from a closed device")
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close on closed device returned %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
}

func TestDevice_FailsAfterLimit(t *testing.T) {
	d := &Device{deviceID: "0", limit: 3, state: OpenStreaming}

	for i := 1; i < 3; i++ {
		if err := d.missedFrame(); !errors.Is(err, ErrEndOfStream) {
			t.Fatalf("miss %d: expected ErrEndOfStream, got %v", i, err)
		}
		if d.State() != OpenStreaming {
			t.Fatalf("miss %d: expected device still streaming, got %s", i, d.State())
		}
	}

	if err := d.missedFrame(); !errors.Is(err, ErrDeviceFailed) {
		t.Fatalf("Expected ErrDeviceFailed on third miss, got %v", err)
	}
	if d.State() != Failed {
		t.Errorf("Expected Failed state, got %s", d.State())
	}

	if _, err := d.ReadFrame(); !errors.Is(err, ErrDeviceFailed) {
		t.Errorf("Expected ReadFrame on failed device to return ErrDeviceFailed, got %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close on failed device returned %v", err)
	}
	if d.State() != Failed {
		t.Errorf("Expected Close to keep Failed state, got %s", d.State())
	}
}

func TestDevice_GoodFrameResetsFailures(t *testing.T) {
	d := &Device{deviceID: "0", limit: 3, state: OpenStreaming}

	d.missedFrame()
	d.missedFrame()
	d.frameRead()

	for i := 1; i < 3; i++ {
		if err := d.missedFrame(); !errors.Is(err, ErrEndOfStream) {
			t.Fatalf("miss %d after reset: expected ErrEndOfStream, got %v", i, err)
		}
	}
	if d.State() != OpenStreaming {
		t.Errorf("Expected device still streaming after reset, got %s", d.State())
	}
}
