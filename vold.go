// Package vold is the physical disk layer of a storage volume daemon.
//
// A Disk is built from a kernel device-add notification. It reads the
// device geometry, parses the on-disk partition table and creates one Volume
// per recognized partition. The Manager keeps the set of Disks in sync with
// kernel add, change and remove events and routes partition commands to the
// Disk they target.
package vold

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Device is a kernel block device number.
type Device struct {
	Major uint32 `json:"major" yaml:"major"`
	Minor uint32 `json:"minor" yaml:"minor"`
}

// NewDevice splits a dev_t style number into a Device.
func NewDevice(dev uint64) Device {
	return Device{Major: unix.Major(dev), Minor: unix.Minor(dev)}
}

// ParseDevice parses the "major:minor" form found in sysfs dev files.
func ParseDevice(s string) (Device, error) {
	toks := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(toks) != 2 {
		return Device{}, errors.Errorf("invalid device number %q", s)
	}

	major, err := strconv.ParseUint(toks[0], 10, 32)
	if err != nil {
		return Device{}, errors.Wrapf(err, "invalid major in %q", s)
	}

	minor, err := strconv.ParseUint(toks[1], 10, 32)
	if err != nil {
		return Device{}, errors.Wrapf(err, "invalid minor in %q", s)
	}

	return Device{Major: uint32(major), Minor: uint32(minor)}, nil
}

// Dev returns the packed device number.
func (d Device) Dev() uint64 {
	return unix.Mkdev(d.Major, d.Minor)
}

// IsZero is true for the unset device 0:0.
func (d Device) IsZero() bool {
	return d.Major == 0 && d.Minor == 0
}

// Partition returns the device number of partition n of a disk whose
// partitions use consecutive minors.
func (d Device) Partition(n uint) Device {
	return Device{Major: d.Major, Minor: d.Minor + uint32(n)}
}

func (d Device) String() string {
	return fmt.Sprintf("%d:%d", d.Major, d.Minor)
}

// idSuffix is the "major,minor" form used in disk and volume ids.
func (d Device) idSuffix() string {
	return fmt.Sprintf("%d,%d", d.Major, d.Minor)
}

// DiskID returns the stable id for the disk with the given device number.
func DiskID(d Device) string {
	return "disk:" + d.idSuffix()
}

// VolumeID returns the id of a volume of type t on device d.
func VolumeID(t VolumeType, d Device) string {
	return t.String() + ":" + d.idSuffix()
}
