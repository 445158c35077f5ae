package buffer

import (
	"bytes"
	"testing"
)

func TestAppendRetrieveRoundTrip(t *testing.T) {
	b := New()
	payload := bytes.Repeat([]byte("x"), 5000)
	b.Append(payload)
	if got := b.ReadableBytes(); got != len(payload) {
		t.Fatalf("ReadableBytes() = %d, want %d", got, len(payload))
	}
	first := b.RetrieveBytes(100)
	if !bytes.Equal(first, payload[:100]) {
		t.Fatalf("first 100 bytes mismatch")
	}
	rest := b.RetrieveAllString()
	if rest != string(payload[100:]) {
		t.Fatalf("remainder mismatch")
	}
	if b.ReadableBytes() != 0 {
		t.Fatalf("ReadableBytes() = %d after RetrieveAll, want 0", b.ReadableBytes())
	}
}

func TestRetrieveAllResetsToPrependReserve(t *testing.T) {
	b := New()
	b.AppendString("hello")
	b.Retrieve(5)
	if b.ReadableBytes() != 0 {
		t.Fatalf("expected empty buffer")
	}
	if b.PrependableBytes() != CheapPrepend {
		t.Fatalf("PrependableBytes() = %d, want %d", b.PrependableBytes(), CheapPrepend)
	}
}

func TestPrepend(t *testing.T) {
	b := New()
	b.AppendString("world")
	b.Prepend([]byte("hello "))
	if got := string(b.Peek()); got != "hello world" {
		t.Fatalf("Peek() = %q, want %q", got, "hello world")
	}
}

func TestGrowBeyondInitialCapacity(t *testing.T) {
	b := New()
	big := bytes.Repeat([]byte("y"), InitialSize*10)
	b.Append(big)
	if !bytes.Equal(b.Peek(), big) {
		t.Fatalf("grown buffer content mismatch")
	}
}

func TestFixedBufferOverflowIsDropped(t *testing.T) {
	fb := NewFixedBuffer(8)
	fb.Append([]byte("1234"))
	fb.Append([]byte("567890")) // does not fit in remaining 4 bytes
	if fb.String() != "1234" {
		t.Fatalf("String() = %q, want %q", fb.String(), "1234")
	}
	fb.Reset()
	if fb.Len() != 0 {
		t.Fatalf("Len() = %d after Reset, want 0", fb.Len())
	}
}
