package vold

// DiskInfo is the identity of a disk as handed to a System.
type DiskInfo struct {
	// ID is the disk id, see DiskID.
	ID string

	// Device is the kernel device number of the whole disk.
	Device Device

	// EventPath is the device path carried by the attach event, relative
	// to the sysfs root (/devices/...).
	EventPath string

	// SysPath is the absolute sysfs directory of the disk.
	SysPath string

	// DevPath is the device node.
	DevPath string
}

// Metadata is the geometry and description of a disk.
type Metadata struct {
	// Size is the size of the disk in bytes.
	Size uint64 `json:"size"`

	// SectorSize is the logical sector size in bytes.
	SectorSize uint `json:"sectorSize"`

	// Label is the user visible vendor or manufacturer string.
	Label string `json:"label"`
}

// System provides the device level operations a Disk needs. The linux
// package implements it against sysfs and device nodes. mockos implements it
// in memory for tests.
type System interface {
	// DevicePath returns the device node for a device number.
	DevicePath(dev Device) (string, error)

	// ReadMetadata reads size and label of the disk. It returns an error
	// wrapping ErrDeviceUnavailable if the device node cannot be opened.
	ReadMetadata(disk DiskInfo) (Metadata, error)

	// ReadTable reads the partition table on devPath. sectorSize is the
	// logical sector size, 0 to probe. Errors wrap ErrTableAbsent,
	// ErrTableCorrupt or ErrDeviceUnavailable.
	ReadTable(devPath string, sectorSize uint) (Table, error)

	// WriteTable replaces the partition table on devPath, which is size
	// bytes long, with table. Errors wrap ErrWriteFailed or ErrInvalidLayout.
	WriteTable(devPath string, size uint64, table Table) error

	// Present reports whether devPath still exists.
	Present(devPath string) bool

	// PartitionDevice returns the device number of partition n of disk.
	PartitionDevice(disk DiskInfo, n uint) (Device, error)
}
