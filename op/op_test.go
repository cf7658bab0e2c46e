package op

import (
	"errors"
	"fmt"
	"net/netip"
	"testing"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/core/buffer"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		op      Operation
		wantErr bool
	}{
		{"nil", nil, true},
		{"nop", Nop{}, false},
		{"read without buffer", Read{Fd: 3}, true},
		{"read", Read{Fd: 3, Buf: buffer.New(8)}, false},
		{"write without buffer", Write{Fd: 3}, true},
		{"write_at negative offset", WriteAt{Fd: 3, Buf: buffer.New(1), Offset: -1}, true},
		{"read_at", ReadAt{Fd: 3, Buf: buffer.New(1), Offset: 10}, false},
		{"connect without addr", Connect{Fd: 3}, true},
		{"connect", Connect{Fd: 3, Addr: netip.MustParseAddrPort("127.0.0.1:80")}, false},
		{"close", Close{Fd: 3}, false},
		{"readv without buffers", ReadVectored{Fd: 3}, true},
		{"readv nil buffer", ReadVectored{Fd: 3, Bufs: []api.IoBufMut{buffer.New(1), nil}}, true},
		{"readv", ReadVectored{Fd: 3, Bufs: []api.IoBufMut{buffer.New(1), buffer.New(2)}}, false},
		{"preadv negative offset", ReadVectoredAt{Fd: 3, Bufs: []api.IoBufMut{buffer.New(1)}, Offset: -2}, true},
		{"writev too many buffers", WriteVectored{Fd: 3, Bufs: make([]api.IoBuf, MaxVectors+1)}, true},
		{"pwritev", WriteVectoredAt{Fd: 3, Bufs: []api.IoBuf{buffer.From([]byte("x"))}, Offset: 9}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.op)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, api.ErrInvalidArgument) {
				t.Fatalf("Validate() error %v does not match ErrInvalidArgument", err)
			}
		})
	}
}

func TestBufferAccessors(t *testing.T) {
	rb := buffer.New(4)
	wb := buffer.From([]byte("x"))
	if ReadBuffer(Recv{Buf: rb}) != rb {
		t.Error("ReadBuffer(Recv) mismatch")
	}
	if WriteBuffer(Send{Buf: wb}) != wb {
		t.Error("WriteBuffer(Send) mismatch")
	}
	if Buffer(Close{Fd: 1}) != nil {
		t.Error("Buffer(Close) should be nil")
	}
	if Buffer(WriteAt{Buf: wb}) != wb {
		t.Error("Buffer(WriteAt) mismatch")
	}
}

func TestCustodyHelpers(t *testing.T) {
	b := buffer.New(4)
	o := Read{Fd: 1, Buf: b}
	if err := Acquire(o); err != nil {
		t.Fatal(err)
	}
	if err := Acquire(ReadAt{Fd: 2, Buf: b}); !errors.Is(err, api.ErrBufferInFlight) {
		t.Fatalf("Acquire on in-flight buffer = %v", err)
	}
	Release(o)
	if b.InFlight() {
		t.Fatal("buffer still in flight")
	}
	// Ops without buffers are always acquirable.
	if err := Acquire(Nop{}); err != nil {
		t.Fatal(err)
	}
}

func TestCompletionCancelled(t *testing.T) {
	c := Completion{Key: 7, Op: Nop{}, Err: fmt.Errorf("read: %w", api.ErrCancelled)}
	if !c.Cancelled() {
		t.Fatal("wrapped ErrCancelled not detected")
	}
	if (Completion{Op: Nop{}}).Cancelled() {
		t.Fatal("successful completion reported cancelled")
	}
	if KindFsync.String() != "fsync" || Kind(200).String() != "unknown" {
		t.Fatal("Kind.String mismatch")
	}
}

func TestFillSpreadsAcrossVectors(t *testing.T) {
	a, b, c := buffer.New(3), buffer.New(0), buffer.New(4)
	o := ReadVectored{Fd: 1, Bufs: []api.IoBufMut{a, b, c}}
	copy(a.Writable(), "abc")
	copy(c.Writable(), "de")
	Fill(o, 5)
	if string(a.Bytes()) != "abc" || b.Len() != 0 || string(c.Bytes()) != "de" {
		t.Fatalf("filled %q %q %q", a.Bytes(), b.Bytes(), c.Bytes())
	}
	Fill(o, 1)
	if a.Len() != 1 || c.Len() != 0 {
		t.Fatalf("short fill left lengths %d, %d", a.Len(), c.Len())
	}
	r := buffer.New(2)
	Fill(Read{Fd: 1, Buf: r}, 10)
	if r.Len() != 2 {
		t.Fatalf("fill past capacity: len %d", r.Len())
	}
}

func TestAcquireVectorRollsBack(t *testing.T) {
	a, b := buffer.New(1), buffer.New(1)
	held := buffer.New(1)
	if err := held.Acquire(); err != nil {
		t.Fatal(err)
	}
	o := WriteVectored{Fd: 1, Bufs: []api.IoBuf{a, b, held}}
	if err := Acquire(o); !errors.Is(err, api.ErrBufferInFlight) {
		t.Fatalf("Acquire = %v, want ErrBufferInFlight", err)
	}
	if a.InFlight() || b.InFlight() {
		t.Fatal("partial acquire not rolled back")
	}
	if len(Buffers(o)) != 3 || len(ReadBuffers(o)) != 0 {
		t.Fatal("vector accessors mismatch")
	}
	if KindWriteVectoredAt.String() != "pwritev" {
		t.Fatalf("KindWriteVectoredAt = %s", KindWriteVectoredAt)
	}
}
