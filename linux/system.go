//go:build linux

package linux

import (
	"os"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"machinerun.io/vold"
	"machinerun.io/vold/ptable"
)

const (
	cacheExpiration = 5 * time.Minute
	cacheCleanup    = 10 * time.Minute
)

// System is the vold.System of a Linux host. Metadata comes from sysfs,
// partition tables are read and written on the device node.
type System struct {
	sysRoot string
	devRoot string
	log     logrus.FieldLogger
	cache   *cache.Cache

	// settle waits for udev to process the events of a table write.
	settle func() error
}

// NewSystem returns a System rooted at the sysfs and /dev directories of cfg.
func NewSystem(cfg vold.Config, log logrus.FieldLogger) *System {
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &System{
		sysRoot: cfg.SysRoot,
		devRoot: cfg.DevRoot,
		log:     log,
		cache:   cache.New(cacheExpiration, cacheCleanup),
		settle:  udevSettle,
	}
}

// DevicePath implements vold.System.
func (s *System) DevicePath(dev vold.Device) (string, error) {
	return s.devicePath(dev)
}

// ReadMetadata implements vold.System. The size is taken from sysfs, or from
// the node itself for image files.
func (s *System) ReadMetadata(info vold.DiskInfo) (vold.Metadata, error) {
	fp, err := os.Open(info.DevPath)
	if err != nil {
		// ENOMEDIUM will occur on an empty sd reader.
		return vold.Metadata{}, errors.Wrapf(vold.ErrDeviceUnavailable, "open %s: %s", info.DevPath, err)
	}
	defer fp.Close()

	md := vold.Metadata{
		SectorSize: readSectorSize(info.SysPath),
		Label:      readLabel(info.SysPath),
	}

	md.Size, err = readSize(info.SysPath)
	if err != nil {
		if md.Size, err = getFileSize(fp); err != nil {
			return vold.Metadata{}, errors.Wrapf(vold.ErrDeviceUnavailable, "size of %s: %s", info.DevPath, err)
		}
	}

	if md.Size == 0 {
		return vold.Metadata{}, errors.Wrapf(vold.ErrDeviceUnavailable, "%s has no medium", info.DevPath)
	}

	if md.Label == "" {
		if udInfo, err := s.udevInfo(kernelName(info.DevPath)); err == nil {
			md.Label = udInfo.Properties["ID_VENDOR"]
		}
	}

	return md, nil
}

// udevInfo returns the cached udev database entry of kname.
func (s *System) udevInfo(kname string) (UdevInfo, error) {
	key := "udev:" + kname
	if v, ok := s.cache.Get(key); ok {
		return v.(UdevInfo), nil
	}

	info, err := GetUdevInfo(kname)
	if err != nil {
		return info, err
	}

	s.cache.SetDefault(key, info)

	return info, nil
}

// ReadTable implements vold.System.
func (s *System) ReadTable(devPath string, sectorSize uint) (vold.Table, error) {
	fp, err := os.Open(devPath)
	if err != nil {
		return vold.Table{}, errors.Wrapf(vold.ErrDeviceUnavailable, "open %s: %s", devPath, err)
	}
	defer fp.Close()

	return ptable.Read(fp, sectorSize)
}

// WriteTable implements vold.System. The node is locked while the table is
// written. Block devices then get their partitions re-read by the kernel.
func (s *System) WriteTable(devPath string, size uint64, table vold.Table) error {
	fp, err := os.OpenFile(devPath, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrapf(vold.ErrWriteFailed, "open %s: %s", devPath, err)
	}
	defer fp.Close()

	if err := unix.Flock(int(fp.Fd()), unix.LOCK_EX); err != nil {
		return errors.Wrapf(vold.ErrWriteFailed, "failed to lock %s: %s", devPath, err)
	}

	if err := ptable.Write(fp, size, table); err != nil {
		return err
	}

	if err := fp.Sync(); err != nil {
		return errors.Wrapf(vold.ErrWriteFailed, "sync %s: %s", devPath, err)
	}

	info, err := fp.Stat()
	if err != nil {
		return errors.Wrapf(vold.ErrWriteFailed, "failed to stat %s: %s", devPath, err)
	}

	if info.Mode()&os.ModeDevice == 0 {
		return nil
	}

	if err := unix.IoctlSetInt(int(fp.Fd()), unix.BLKRRPART, 0); err != nil {
		// the new table is on disk, the kernel picks it up on the next attach
		s.log.Warnf("re-read partition table of %s: %s", devPath, err)
	}

	// release the lock before udev probes the new partitions
	fp.Close()

	if err := s.settle(); err != nil {
		s.log.Warnf("udev settle after writing %s: %s", devPath, err)
	}

	return nil
}

// Present implements vold.System.
func (s *System) Present(devPath string) bool {
	return pathExists(devPath)
}

// PartitionDevice implements vold.System. The partition is looked up in
// sysfs; partitions the kernel has not announced yet get the next minor
// after the disk as long as it is in the disk's minor range.
func (s *System) PartitionDevice(disk vold.DiskInfo, n uint) (vold.Device, error) {
	if dev, ok := findPartitionDevice(disk.SysPath, n); ok {
		return dev, nil
	}

	if n >= s.maxMinors(disk.Device.Major) {
		return vold.Device{}, errors.Errorf("partition %d of %s is beyond the minor range", n, disk.Device)
	}

	return disk.Device.Partition(n), nil
}
