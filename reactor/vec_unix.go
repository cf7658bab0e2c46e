//go:build unix

// File: reactor/vec_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import "github.com/momentics/hioload-aio/api"

func writableVecs(bufs []api.IoBufMut) [][]byte {
	out := make([][]byte, len(bufs))
	for i, b := range bufs {
		out[i] = b.Writable()
	}
	return out
}

func readableVecs(bufs []api.IoBuf) [][]byte {
	out := make([][]byte, len(bufs))
	for i, b := range bufs {
		out[i] = b.Bytes()
	}
	return out
}

func vecLen(vecs [][]byte) int {
	n := 0
	for _, v := range vecs {
		n += len(v)
	}
	return n
}

// skipVecs drops the first n bytes of vecs. The result shares memory with
// vecs but never modifies it.
func skipVecs(vecs [][]byte, n int) [][]byte {
	for len(vecs) > 0 && n >= len(vecs[0]) {
		n -= len(vecs[0])
		vecs = vecs[1:]
	}
	if n == 0 || len(vecs) == 0 {
		return vecs
	}
	out := make([][]byte, len(vecs))
	copy(out, vecs)
	out[0] = out[0][n:]
	return out
}
