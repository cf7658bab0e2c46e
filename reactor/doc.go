// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the completion driver: one submission/poll
// interface over io_uring (Linux), IOCP (Windows) and readiness polling (any
// unix). A Driver is owned by a single goroutine; it is not safe for
// concurrent use.
package reactor
