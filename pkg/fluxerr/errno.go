package fluxerr

import "errors"

// Errno codes matching the POSIX values named in §7, used only where an
// error must cross the wire as the message header's int32 errnum field
// (responses, control messages). Application code should compare errors
// with errors.Is against the sentinels in fluxerr.go, not against these
// numbers.
const (
	EINVAL    int32 = 22
	ENOENT    int32 = 2
	EEXIST    int32 = 17
	EPROTO    int32 = 71
	EAGAIN    int32 = 11
	ENODATA   int32 = 61
	ENOSYS    int32 = 38
	EPERM     int32 = 1
	ETIMEDOUT int32 = 110
	ENOMEM    int32 = 12
	EOVERFLOW int32 = 75
)

var errnoToErr = map[int32]error{
	EINVAL:    ErrInval,
	ENOENT:    ErrNoEnt,
	EEXIST:    ErrExist,
	EPROTO:    ErrProto,
	EAGAIN:    ErrWouldBlock,
	ENODATA:   ErrNoData,
	ENOSYS:    ErrNoSys,
	EPERM:     ErrPerm,
	ETIMEDOUT: ErrTimedOut,
	ENOMEM:    ErrNoMem,
	EOVERFLOW: ErrOverflow,
}

var errToErrno = map[error]int32{
	ErrInval:      EINVAL,
	ErrNoEnt:      ENOENT,
	ErrExist:      EEXIST,
	ErrProto:      EPROTO,
	ErrWouldBlock: EAGAIN,
	ErrNoData:     ENODATA,
	ErrNoSys:      ENOSYS,
	ErrPerm:       EPERM,
	ErrTimedOut:   ETIMEDOUT,
	ErrNoMem:      ENOMEM,
	ErrOverflow:   EOVERFLOW,
}

// Errno maps a sentinel error to its wire errno code, 0 if err is nil, or
// EINVAL if err doesn't match a known sentinel (the response still needs a
// nonzero code to signal failure).
func Errno(err error) int32 {
	if err == nil {
		return 0
	}
	for sentinel, code := range errToErrno {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return EINVAL
}

// FromErrno maps a wire errno code back to a sentinel error, or a generic
// wrapped error if the code isn't one of the recognized kinds.
func FromErrno(code int32) error {
	if code == 0 {
		return nil
	}
	if err, ok := errnoToErr[code]; ok {
		return err
	}
	return errors.New("remote error")
}
