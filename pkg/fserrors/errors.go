// pkg/fserrors/errors.go

// Package fserrors holds the error kinds raised by the extent storage layer.
// Call sites wrap them with github.com/pkg/errors so that errors.Is and
// errors.Cause keep matching the kind while the message carries context.
package fserrors

import (
	"syscall"

	"github.com/pkg/errors"
)

var (
	// ErrOutOfSpace means the bitmap could not supply the requested clusters.
	// Whatever was grabbed during the call has been returned before this surfaces.
	ErrOutOfSpace = errors.New("out of disk space")

	// ErrCorruptExtentMap means a VCN fell outside every known run, or an
	// extent's declared VCN span disagrees with the sum of its run lengths.
	ErrCorruptExtentMap = errors.New("corrupt extent map")

	// ErrDecompressionShortfall means a compression unit inflated to fewer
	// bytes than the attribute's initialized length requires.
	ErrDecompressionShortfall = errors.New("decompression returned too little data")

	// ErrInvalidOperation is a caller contract violation, e.g. writing raw
	// clusters into a sparse run.
	ErrInvalidOperation = errors.New("invalid operation")
)

func OutOfSpace(format string, args ...interface{}) error {
	return errors.Wrapf(ErrOutOfSpace, format, args...)
}

func CorruptExtentMap(format string, args ...interface{}) error {
	return errors.Wrapf(ErrCorruptExtentMap, format, args...)
}

func DecompressionShortfall(format string, args ...interface{}) error {
	return errors.Wrapf(ErrDecompressionShortfall, format, args...)
}

func InvalidOperation(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidOperation, format, args...)
}

// ToErrno maps an error kind to the errno a filesystem front end should report.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	switch errors.Cause(err) {
	case ErrOutOfSpace:
		return syscall.ENOSPC
	case ErrCorruptExtentMap, ErrDecompressionShortfall:
		return syscall.EIO
	case ErrInvalidOperation:
		return syscall.EINVAL
	}
	if errno, ok := errors.Cause(err).(syscall.Errno); ok {
		return errno
	}
	return syscall.EIO
}
