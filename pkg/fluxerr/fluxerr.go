// Package fluxerr defines the sentinel error kinds shared across the core.
//
// The original C implementation reports failures through errno. This port
// keeps error *values* as plain Go errors returned from every fallible call,
// but preserves the handful of errno kinds callers actually branch on as
// sentinels so that `errors.Is(err, fluxerr.ErrNoData)` reads the same way
// a C caller's `errno == ENODATA` would.
package fluxerr

import "errors"

var (
	// ErrInval indicates a malformed argument (EINVAL).
	ErrInval = errors.New("invalid argument")
	// ErrNoEnt indicates a lookup failed to find its target (ENOENT).
	ErrNoEnt = errors.New("no such entry")
	// ErrExist indicates a create collided with an existing entry (EEXIST).
	ErrExist = errors.New("entry already exists")
	// ErrProto indicates a wire-format or protocol violation (EPROTO).
	ErrProto = errors.New("protocol error")
	// ErrWouldBlock indicates a non-blocking operation had nothing to do (EAGAIN/EWOULDBLOCK).
	ErrWouldBlock = errors.New("operation would block")
	// ErrNoData indicates a streaming RPC or iterator is exhausted (ENODATA).
	ErrNoData = errors.New("no more data")
	// ErrNoSys indicates the operation is not implemented by this connector (ENOSYS).
	ErrNoSys = errors.New("not implemented")
	// ErrPerm indicates the caller's credentials do not authorize the operation (EPERM).
	ErrPerm = errors.New("operation not permitted")
	// ErrTimedOut indicates a bounded wait expired (ETIMEDOUT).
	ErrTimedOut = errors.New("operation timed out")
	// ErrOverflow indicates a fixed-size resource (e.g. the matchtag pool) is exhausted (EOVERFLOW).
	ErrOverflow = errors.New("resource overflow")
	// ErrNoMem indicates an allocation failed (ENOMEM).
	ErrNoMem = errors.New("out of memory")
)
