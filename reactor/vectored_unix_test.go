//go:build unix

package reactor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/momentics/hioload-aio/api"
	"github.com/momentics/hioload-aio/core/buffer"
	"github.com/momentics/hioload-aio/op"
)

func contents(bufs []*buffer.Owned) []string {
	out := make([]string, len(bufs))
	for i, b := range bufs {
		out[i] = string(b.Bytes())
	}
	return out
}

func TestVectoredPipeRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, d *Driver) {
		r, w := pipe(t)
		src := []api.IoBuf{
			buffer.From([]byte("hello, ")),
			buffer.New(0),
			buffer.From([]byte("vectored")),
		}
		if _, err := d.Submit(op.WriteVectored{Fd: w, Bufs: src}); err != nil {
			t.Fatal(err)
		}
		if c := collect(t, d, 1)[0]; c.Err != nil || c.N != 15 {
			t.Fatalf("writev: N=%d err=%v", c.N, c.Err)
		}

		dst := []*buffer.Owned{buffer.New(4), buffer.New(0), buffer.New(64), buffer.New(8)}
		bufs := make([]api.IoBufMut, len(dst))
		for i, b := range dst {
			bufs[i] = b
		}
		if _, err := d.Submit(op.ReadVectored{Fd: r, Bufs: bufs}); err != nil {
			t.Fatal(err)
		}
		c := collect(t, d, 1)[0]
		if c.Err != nil || c.N != 15 {
			t.Fatalf("readv: N=%d err=%v", c.N, c.Err)
		}
		if diff := cmp.Diff([]string{"hell", "", "o, vectored", ""}, contents(dst)); diff != "" {
			t.Fatalf("scatter mismatch (-want +got):\n%s", diff)
		}
		for i, b := range dst {
			if b.InFlight() {
				t.Fatalf("buffer %d still in flight", i)
			}
		}
	})
}

func TestVectoredAtFile(t *testing.T) {
	forEachBackend(t, func(t *testing.T, d *Driver) {
		f, err := os.Create(filepath.Join(t.TempDir(), "vec"))
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		fd := api.Handle(f.Fd())

		src := []api.IoBuf{buffer.From([]byte("ab")), buffer.From([]byte("cd"))}
		if _, err := d.Submit(op.WriteVectoredAt{Fd: fd, Bufs: src, Offset: 2}); err != nil {
			t.Fatal(err)
		}
		if c := collect(t, d, 1)[0]; c.Err != nil || c.N != 4 {
			t.Fatalf("pwritev: N=%d err=%v", c.N, c.Err)
		}

		dst := []*buffer.Owned{buffer.New(3), buffer.New(8)}
		if _, err := d.Submit(op.ReadVectoredAt{Fd: fd, Bufs: []api.IoBufMut{dst[0], dst[1]}, Offset: 1}); err != nil {
			t.Fatal(err)
		}
		c := collect(t, d, 1)[0]
		if c.Err != nil || c.N != 5 {
			t.Fatalf("preadv: N=%d err=%v", c.N, c.Err)
		}
		if diff := cmp.Diff([]string{"\x00ab", "cd"}, contents(dst)); diff != "" {
			t.Fatalf("scatter mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestVectoredSubmitRollsBackCustody(t *testing.T) {
	forEachBackend(t, func(t *testing.T, d *Driver) {
		r, _ := pipe(t)
		a, b := buffer.New(4), buffer.New(4)
		if _, err := d.Submit(op.ReadVectored{Fd: r, Bufs: []api.IoBufMut{a, b, a}}); err == nil {
			t.Fatal("submit with a repeated buffer succeeded")
		}
		if a.InFlight() || b.InFlight() {
			t.Fatal("rejected submission left a buffer in flight")
		}
		if d.Pending() != 0 {
			t.Fatalf("Pending = %d", d.Pending())
		}
	})
}

func TestSkipVecs(t *testing.T) {
	vecs := [][]byte{[]byte("ab"), nil, []byte("cde")}
	tests := []struct {
		n    int
		want []string
	}{
		{0, []string{"ab", "", "cde"}},
		{1, []string{"b", "", "cde"}},
		{2, []string{"cde"}},
		{4, []string{"e"}},
		{5, []string{}},
	}
	for _, tt := range tests {
		got := []string{}
		for _, v := range skipVecs(vecs, tt.n) {
			got = append(got, string(v))
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("skipVecs(%d) mismatch (-want +got):\n%s", tt.n, diff)
		}
	}
	if string(vecs[0]) != "ab" {
		t.Fatalf("skipVecs modified its input: %q", vecs[0])
	}
}
