package fake

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/core/buffer"
	"github.com/momentics/hioload-aio/op"
)

func TestDriverReadWaitsForFeed(t *testing.T) {
	d := NewDriver()
	buf := buffer.New(8)
	key, err := d.Submit(op.Read{Fd: 3, Buf: buf})
	if err != nil {
		t.Fatal(err)
	}
	if comps, _ := d.Poll(0); len(comps) != 0 {
		t.Fatalf("read completed without data: %v", comps)
	}
	if !buf.InFlight() {
		t.Fatal("buffer not in flight")
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		d.Feed(3, []byte("hello"))
	}()
	comps, err := d.Poll(-1)
	if err != nil || len(comps) != 1 {
		t.Fatalf("Poll = %v, %v", comps, err)
	}
	c := comps[0]
	if c.Key != key || c.N != 5 || string(buf.Bytes()) != "hello" || buf.InFlight() {
		t.Fatalf("unexpected completion %v buf=%q", c, buf.Bytes())
	}
}

func TestDriverCancelPending(t *testing.T) {
	d := NewDriver()
	key, _ := d.Submit(op.Recv{Fd: 4, Buf: buffer.New(4)})
	d.Cancel(key)
	d.Cancel(key)
	comps, _ := d.Poll(-1)
	if len(comps) != 1 || !comps[0].Cancelled() {
		t.Fatalf("comps = %v", comps)
	}
	if d.Pending() != 0 {
		t.Fatalf("Pending = %d", d.Pending())
	}
}

func TestDriverShortWritesAndFiles(t *testing.T) {
	d := NewDriver()
	d.LimitWrites(5, 2)
	d.SetFile(6, []byte("0123"))
	d.Submit(op.Write{Fd: 5, Buf: buffer.From([]byte("abc"))})
	d.Submit(op.WriteAt{Fd: 6, Buf: buffer.From([]byte("xy")), Offset: 3})
	d.Submit(op.ReadAt{Fd: 6, Buf: buffer.New(10), Offset: 1})
	comps, err := d.Poll(0)
	if err != nil || len(comps) != 3 {
		t.Fatalf("Poll = %v, %v", comps, err)
	}
	if comps[0].N != 2 || string(d.Written(5)) != "ab" {
		t.Fatalf("short write: n=%d written=%q", comps[0].N, d.Written(5))
	}
	if string(d.File(6)) != "012xy" {
		t.Fatalf("file = %q", d.File(6))
	}
	if got := op.ReadBuffer(comps[2].Op).Bytes(); string(got) != "12xy" {
		t.Fatalf("ReadAt = %q", got)
	}
}

func TestDriverAcceptFailAndBreak(t *testing.T) {
	d := NewDriver()
	peer := netip.MustParseAddrPort("10.0.0.1:4000")
	d.Dial(7, 42, peer)
	d.Submit(op.Accept{Fd: 7})
	boom := errors.New("boom")
	d.FailNext(8, boom)
	d.Submit(op.Nop{})
	d.Submit(op.Fsync{Fd: 8})
	comps, _ := d.Poll(0)
	if len(comps) != 3 {
		t.Fatalf("comps = %v", comps)
	}
	if a := comps[0].Op.(op.Accept); comps[0].N != 42 || a.Peer != peer {
		t.Fatalf("accept = %v peer=%v", comps[0], a.Peer)
	}
	if !errors.Is(comps[2].Err, boom) {
		t.Fatalf("fsync err = %v", comps[2].Err)
	}

	d.Break(boom)
	if _, err := d.Poll(0); !errors.Is(err, api.ErrDriverFatal) || !errors.Is(err, boom) {
		t.Fatalf("Poll after Break = %v", err)
	}
	if _, err := d.Submit(op.Nop{}); !errors.Is(err, api.ErrDriverFatal) {
		t.Fatalf("Submit after Break = %v", err)
	}
}

func TestDriverCustodyAndClose(t *testing.T) {
	d := NewDriver()
	buf := buffer.New(4)
	if _, err := d.Submit(op.Read{Fd: 1, Buf: buf}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Submit(op.Read{Fd: 2, Buf: buf}); !errors.Is(err, api.ErrBufferInFlight) {
		t.Fatalf("double submit err = %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if buf.InFlight() {
		t.Fatal("Close did not release buffer")
	}
	if _, err := d.Submit(op.Nop{}); !errors.Is(err, api.ErrDriverClosed) {
		t.Fatalf("Submit after Close = %v", err)
	}
}

func TestDriverVectoredOps(t *testing.T) {
	d := NewDriver()
	d.SetFile(6, []byte("0123456"))
	d.Feed(3, []byte("scatter"))
	a, b := buffer.New(3), buffer.New(8)
	d.Submit(op.ReadVectored{Fd: 3, Bufs: []api.IoBufMut{a, b}})
	d.Submit(op.WriteVectored{Fd: 4, Bufs: []api.IoBuf{buffer.From([]byte("ga")), buffer.From([]byte("ther"))}})
	d.Submit(op.WriteVectoredAt{Fd: 6, Bufs: []api.IoBuf{buffer.From([]byte("x")), buffer.From([]byte("yz"))}, Offset: 5})
	fa, fb := buffer.New(2), buffer.New(2)
	d.Submit(op.ReadVectoredAt{Fd: 6, Bufs: []api.IoBufMut{fa, fb}, Offset: 4})
	comps, err := d.Poll(0)
	if err != nil || len(comps) != 4 {
		t.Fatalf("Poll = %v, %v", comps, err)
	}
	if comps[0].N != 7 || string(a.Bytes()) != "sca" || string(b.Bytes()) != "tter" {
		t.Fatalf("readv: n=%d %q %q", comps[0].N, a.Bytes(), b.Bytes())
	}
	if comps[1].N != 6 || string(d.Written(4)) != "gather" {
		t.Fatalf("writev: n=%d written=%q", comps[1].N, d.Written(4))
	}
	if string(d.File(6)) != "01234xyz" {
		t.Fatalf("file = %q", d.File(6))
	}
	if comps[3].N != 4 || string(fa.Bytes()) != "4x" || string(fb.Bytes()) != "yz" {
		t.Fatalf("preadv: n=%d %q %q", comps[3].N, fa.Bytes(), fb.Bytes())
	}
}
