//go:build linux

package linux

import (
	"os"
	"path"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"machinerun.io/vold"
)

//nolint:gochecknoglobals
var defaultFsType = map[vold.VolumeType]string{
	vold.VolumePublic:  "vfat",
	vold.VolumePrivate: "ext4",
}

//nolint:gochecknoglobals
var mkfsArgs = map[string][]string{
	"vfat":  {"mkfs.vfat", "-F", "32"},
	"exfat": {"mkfs.exfat"},
	"ext4":  {"mkfs.ext4", "-F", "-q"},
}

// linkDir is the directory below the mount root holding a link per mounted
// volume, named by vold.VolumeSpec.LinkName.
const linkDir = "by-link"

// VolumeFactory builds Volumes that mount partitions below a mount root.
type VolumeFactory struct {
	sys       *System
	mountRoot string
	log       logrus.FieldLogger
}

// NewVolumeFactory returns a factory mounting below cfg.MountRoot.
func NewVolumeFactory(cfg vold.Config, sys *System, log logrus.FieldLogger) *VolumeFactory {
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &VolumeFactory{sys: sys, mountRoot: cfg.MountRoot, log: log}
}

// NewVolume implements vold.VolumeFactory. The device node is resolved when
// the volume is first used, the kernel may not have created it yet.
func (f *VolumeFactory) NewVolume(spec vold.VolumeSpec) (vold.Volume, error) {
	return &Volume{
		spec:       spec,
		sys:        f.sys,
		mountPoint: path.Join(f.mountRoot, strings.ReplaceAll(spec.ID, ":", "-")),
		linkDir:    path.Join(f.mountRoot, linkDir),
		log:        f.log.WithField("volume", spec.ID),
	}, nil
}

// Volume is a partition mounted with mount(2).
type Volume struct {
	spec       vold.VolumeSpec
	sys        *System
	mountPoint string
	linkDir    string
	log        logrus.FieldLogger

	mu     sync.Mutex
	fsType string
}

// ID implements vold.Volume.
func (v *Volume) ID() string { return v.spec.ID }

// Type implements vold.Volume.
func (v *Volume) Type() vold.VolumeType { return v.spec.Type }

// MountPoint returns the directory the volume is mounted on.
func (v *Volume) MountPoint() string { return v.mountPoint }

func (v *Volume) devPath() (string, error) {
	return v.sys.DevicePath(v.spec.Device)
}

// probeFsType asks blkid for the filesystem on devPath.
func probeFsType(devPath string) string {
	out, _, rc := runCommandWithOutputErrorRc("blkid", "-o", "value", "-s", "TYPE", devPath)
	if rc != 0 {
		return ""
	}

	return strings.TrimSpace(string(out))
}

// Mount implements vold.Volume.
func (v *Volume) Mount() error {
	dev, err := v.devPath()
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.fsType == "" {
		v.fsType = probeFsType(dev)
	}

	if v.fsType == "" {
		return errors.Errorf("no filesystem found on %s", dev)
	}

	if err := os.MkdirAll(v.mountPoint, 0o700); err != nil {
		return errors.Wrapf(err, "create mount point %s", v.mountPoint)
	}

	flags := uintptr(unix.MS_NODEV | unix.MS_NOSUID)
	if v.spec.Type == vold.VolumePublic {
		flags |= unix.MS_NOEXEC
	}

	if err := unix.Mount(dev, v.mountPoint, v.fsType, flags, ""); err != nil {
		return errors.Wrapf(err, "mount %s (%s) on %s", dev, v.fsType, v.mountPoint)
	}

	v.log.Infof("mounted %s on %s", dev, v.mountPoint)

	if v.spec.LinkName != "" {
		if err := linkVolume(v.linkDir, v.spec.LinkName, v.mountPoint); err != nil {
			v.log.Warnf("link %s: %s", v.spec.LinkName, err)
		}
	}

	return nil
}

// Unmount implements vold.Volume.
func (v *Volume) Unmount() error {
	if err := unix.Unmount(v.mountPoint, 0); err != nil {
		return errors.Wrapf(err, "unmount %s", v.mountPoint)
	}

	if v.spec.LinkName != "" {
		if err := unlinkVolume(v.linkDir, v.spec.LinkName, v.mountPoint); err != nil {
			v.log.Warnf("unlink %s: %s", v.spec.LinkName, err)
		}
	}

	if err := os.Remove(v.mountPoint); err != nil && !os.IsNotExist(err) {
		v.log.Warnf("remove mount point: %s", err)
	}

	return nil
}

// Format implements vold.Volume.
func (v *Volume) Format(fsType string) error {
	if fsType == "" {
		fsType = defaultFsType[v.spec.Type]
	}

	args, ok := mkfsArgs[fsType]
	if !ok {
		return errors.Errorf("unsupported filesystem %q", fsType)
	}

	dev, err := v.devPath()
	if err != nil {
		return err
	}

	if err := runCommand(append(append([]string{}, args...), dev)...); err != nil {
		return err
	}

	v.mu.Lock()
	v.fsType = fsType
	v.mu.Unlock()

	v.log.Infof("formatted %s as %s", dev, fsType)

	return nil
}

// linkVolume points dir/name at target. A link left behind by an earlier
// device number of the same volume is replaced.
func linkVolume(dir, name, target string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}

	link := path.Join(dir, name)
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return err
	}

	return os.Symlink(target, link)
}

// unlinkVolume removes dir/name only while it still points at target.
func unlinkVolume(dir, name, target string) error {
	link := path.Join(dir, name)

	dest, err := os.Readlink(link)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	if dest != target {
		return nil
	}

	return os.Remove(link)
}
