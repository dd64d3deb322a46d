//go:build linux

package linux

import (
	"fmt"
	"os"
	"path"
	"strconv"

	"github.com/pkg/errors"
	"machinerun.io/vold"
)

const (
	// mmcMajor is the block major of MMC and SD cards.
	mmcMajor = 179

	// mmcDefaultMinors is the mmcblk perdev_minors default.
	mmcDefaultMinors = 8

	// defaultMinors is the minor range of sd and virtio disks.
	defaultMinors = 16
)

// mmcVendors maps the MMC/SD card manufacturer id to a label.
//
//nolint:gochecknoglobals
var mmcVendors = map[uint64]string{
	0x000003: "SanDisk",
	0x00001b: "Samsung",
	0x000028: "Lexar",
	0x000074: "Transcend",
}

// devicePath resolves the device node of dev through /sys/dev/block.
func (s *System) devicePath(dev vold.Device) (string, error) {
	uevent, err := readUevent(path.Join(s.sysRoot, "dev/block", dev.String()))
	if err != nil {
		return "", errors.Wrapf(vold.ErrDeviceUnavailable, "%s: %s", dev, err)
	}

	name := uevent["DEVNAME"]
	if name == "" {
		return "", errors.Wrapf(vold.ErrDeviceUnavailable, "%s has no DEVNAME", dev)
	}

	return path.Join(s.devRoot, name), nil
}

// readLabel returns the manufacturer of the disk at sysPath. MMC cards
// report a numeric manfid, everything else a vendor string.
func readLabel(sysPath string) string {
	if id, err := readSysfsUint(sysPath, "device/manfid"); err == nil {
		if name, ok := mmcVendors[id]; ok {
			return name
		}

		return ""
	}

	if vendor, err := readSysfsString(sysPath, "device/vendor"); err == nil {
		return vendor
	}

	return ""
}

// readSize returns the size in bytes of the disk at sysPath. The sysfs size
// attribute always counts 512 byte sectors.
func readSize(sysPath string) (uint64, error) {
	sectors, err := readSysfsUint(sysPath, "size")
	if err != nil {
		return 0, err
	}

	return sectors * vold.SectorSize512, nil
}

func readSectorSize(sysPath string) uint {
	v, err := readSysfsUint(sysPath, "queue/logical_block_size")
	if err != nil || v == 0 {
		return vold.SectorSize512
	}

	return uint(v)
}

// maxMinors returns the number of minors reserved per disk for major.
func (s *System) maxMinors(major uint32) uint {
	key := fmt.Sprintf("minors:%d", major)
	if v, ok := s.cache.Get(key); ok {
		return v.(uint)
	}

	n := uint(defaultMinors)

	if major == mmcMajor {
		n = mmcDefaultMinors

		if v, err := readSysfsUint(s.sysRoot, "module/mmcblk/parameters/perdev_minors"); err == nil && v > 0 {
			n = uint(v)
		}
	}

	s.cache.SetDefault(key, n)

	return n
}

// findPartitionDevice looks for the sysfs child of the disk at sysPath with
// partition number n.
func findPartitionDevice(sysPath string, n uint) (vold.Device, bool) {
	entries, err := os.ReadDir(sysPath)
	if err != nil {
		return vold.Device{}, false
	}

	want := strconv.FormatUint(uint64(n), 10)

	for _, entry := range entries {
		dir := path.Join(sysPath, entry.Name())

		num, err := readSysfsString(dir, "partition")
		if err != nil || num != want {
			continue
		}

		content, err := readSysfsString(dir, "dev")
		if err != nil {
			continue
		}

		if dev, err := vold.ParseDevice(content); err == nil {
			return dev, true
		}
	}

	return vold.Device{}, false
}

// kernelName returns the kernel name of a device node, e.g. sda for /dev/sda.
func kernelName(devPath string) string {
	return path.Base(devPath)
}
