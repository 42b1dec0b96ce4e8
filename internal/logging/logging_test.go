package logging

import "testing"

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := New("debug", format)
		if err != nil {
			t.Fatalf("New(debug, %s): %v", format, err)
		}
		if !logger.Core().Enabled(-1) {
			t.Fatalf("%s logger should enable debug", format)
		}
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("loud", "json"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
