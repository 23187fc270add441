package supervisor

import (
	"fmt"
	"testing"

	"go.uber.org/zap"
)

func TestRingBufferReadNewestFirst(t *testing.T) {
	b := newRingBuffer(3)
	b.append("a")
	b.append("b")
	b.append("c")

	got := b.read(0)
	want := []string{"c", "b", "a"}
	if len(got) != len(want) {
		t.Fatalf("read(0) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("read(0) = %v, want %v", got, want)
		}
	}
}

func TestRingBufferWrapsAtCapacity(t *testing.T) {
	b := newRingBuffer(2)
	b.append("a")
	b.append("b")
	b.append("c") // overwrites "a"

	got := b.read(0)
	want := []string{"c", "b"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("read(0) after wrap = %v, want %v", got, want)
	}
}

func TestRingBufferReadLimitsLines(t *testing.T) {
	b := newRingBuffer(5)
	for i := 0; i < 5; i++ {
		b.append(fmt.Sprintf("line%d", i))
	}
	got := b.read(2)
	if len(got) != 2 {
		t.Fatalf("read(2) returned %d lines, want 2", len(got))
	}
	if got[0] != "line4" || got[1] != "line3" {
		t.Fatalf("read(2) = %v, want [line4 line3]", got)
	}
}

func TestRingBufferEmptyReadsNil(t *testing.T) {
	b := newRingBuffer(4)
	if got := b.read(0); got != nil {
		t.Fatalf("read(0) on empty buffer = %v, want nil", got)
	}
}

func TestRingLogSinkRetainsPerName(t *testing.T) {
	sink := newRingLogSink(zap.NewNop(), 10)
	sink.Emit(LogInfo, "svc-a", StreamOut, "hello")
	sink.Emit(LogError, "svc-b", StreamErr, "boom")

	a := sink.Lines("svc-a", 0)
	if len(a) != 1 || a[0] != "out: hello" {
		t.Fatalf("svc-a lines = %v, want [\"out: hello\"]", a)
	}
	b := sink.Lines("svc-b", 0)
	if len(b) != 1 || b[0] != "err: boom" {
		t.Fatalf("svc-b lines = %v, want [\"err: boom\"]", b)
	}
	if got := sink.Lines("nonexistent", 0); got != nil {
		t.Fatalf("lines for unknown name = %v, want nil", got)
	}
}
