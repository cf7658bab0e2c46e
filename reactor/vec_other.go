//go:build unix && !linux

// File: reactor/vec_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// x/sys exposes no readv family here, so vectored transfers run one buffer
// at a time. A short transfer ends the call like a short readv would.

package reactor

import "golang.org/x/sys/unix"

func readv(fd int, bufs [][]byte) (int, error) {
	return eachVec(bufs, func(b []byte) (int, error) { return unix.Read(fd, b) })
}

func writev(fd int, bufs [][]byte) (int, error) {
	return eachVec(bufs, func(b []byte) (int, error) { return unix.Write(fd, b) })
}

func preadv(fd int, bufs [][]byte, off int64) (int, error) {
	return eachVec(bufs, func(b []byte) (int, error) {
		n, err := unix.Pread(fd, b, off)
		if n > 0 {
			off += int64(n)
		}
		return n, err
	})
}

func pwritev(fd int, bufs [][]byte, off int64) (int, error) {
	return eachVec(bufs, func(b []byte) (int, error) {
		n, err := unix.Pwrite(fd, b, off)
		if n > 0 {
			off += int64(n)
		}
		return n, err
	})
}

// eachVec reports an error only when nothing was transferred.
func eachVec(bufs [][]byte, fn func([]byte) (int, error)) (int, error) {
	total := 0
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		n, err := fn(b)
		if n > 0 {
			total += n
		}
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return 0, err
		}
		if n < len(b) {
			break
		}
	}
	return total, nil
}
