package vold

import "github.com/pkg/errors"

var (
	// ErrDeviceUnavailable is returned when the device node is missing or
	// cannot be read. Only a later attach notification retries it.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrTableAbsent is returned when no partition table is found.
	ErrTableAbsent = errors.New("no partition table found")

	// ErrTableCorrupt is returned when a partition table is present but
	// cannot be decoded.
	ErrTableCorrupt = errors.New("partition table corrupt")

	// ErrInvalidLayout is returned when a requested partition layout does
	// not fit the disk. The disk is left untouched.
	ErrInvalidLayout = errors.New("invalid partition layout")

	// ErrWriteFailed is returned when writing a partition table failed. The
	// table on disk is in an unknown state.
	ErrWriteFailed = errors.New("partition table write failed")

	// ErrVolumeOp is returned when a single volume operation failed.
	ErrVolumeOp = errors.New("volume operation failed")

	// ErrAlreadyCreated is returned by Create on a disk that was created.
	ErrAlreadyCreated = errors.New("disk already created")

	// ErrNoMetadata is returned by operations that need the disk size
	// before ReadMetadata succeeded.
	ErrNoMetadata = errors.New("disk metadata not read")

	// ErrDestroyed is returned by operations on a destroyed disk.
	ErrDestroyed = errors.New("disk destroyed")

	// ErrVolumeDestroyed is returned by operations on a stale volume handle.
	ErrVolumeDestroyed = errors.New("volume destroyed")

	// ErrDiskNotFound is returned by the Manager for unknown disk ids.
	ErrDiskNotFound = errors.New("disk not found")
)
