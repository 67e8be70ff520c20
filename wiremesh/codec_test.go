package wiremesh

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("the quick brown fox jumps over the lazy dog")

	if err := encodeFrame(&buf, payload); err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}

	got, err := decodeFrame(&buf, 1<<20)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestDecodeFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := encodeFrame(&buf, nil); err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}
	got, err := decodeFrame(&buf, 1<<20)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d bytes, want 0", len(got))
	}
}

func TestDecodeFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	if err := encodeFrame(&buf, make([]byte, 100)); err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}
	_, err := decodeFrame(&buf, 10)
	if KindOf(err) != KindFrameTooLarge {
		t.Fatalf("got %v, want FrameTooLarge", err)
	}
}

func TestDecodeFrameEOF(t *testing.T) {
	var buf bytes.Buffer
	_, err := decodeFrame(&buf, 1<<20)
	if err != ErrEof {
		t.Fatalf("got %v, want ErrEof", err)
	}
}

func TestDecodeFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := encodeFrame(&buf, []byte("hello world")); err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:6])
	_, err := decodeFrame(truncated, 1<<20)
	if KindOf(err) != KindTruncated {
		t.Fatalf("got %v, want Truncated", err)
	}
}
