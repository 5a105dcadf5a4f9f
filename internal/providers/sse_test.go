package providers

import (
	"io"
	"strings"
	"testing"
)

func TestSSEReader(t *testing.T) {
	input := "event: message_start\ndata: {\"a\":1}\n\n" +
		": keepalive comment\n\n" +
		"data: first\ndata: second\n\n" +
		"data: trailing"

	r := newSSEReader(strings.NewReader(input))

	ev, data, err := r.readEvent()
	if err != nil {
		t.Fatal(err)
	}
	if ev != "message_start" || string(data) != `{"a":1}` {
		t.Errorf("event 1 = (%q, %q)", ev, data)
	}

	// Multi-line data fields join with a newline.
	ev, data, err = r.readEvent()
	if err != nil {
		t.Fatal(err)
	}
	if ev != "" || string(data) != "first\nsecond" {
		t.Errorf("event 2 = (%q, %q)", ev, data)
	}

	// A final event without a trailing blank line is still delivered.
	_, data, err = r.readEvent()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "trailing" {
		t.Errorf("event 3 data = %q", data)
	}

	if _, _, err := r.readEvent(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestSSEReaderCRLF(t *testing.T) {
	r := newSSEReader(strings.NewReader("data: hello\r\n\r\n"))
	_, data, err := r.readEvent()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("data = %q; want hello", data)
	}
}
