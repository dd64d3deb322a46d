package vold

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// VolumeType is the kind of a volume.
type VolumeType int

const (
	// VolumePublic is removable storage exposed directly to the user.
	VolumePublic VolumeType = iota

	// VolumePrivate is adoptable storage merged into internal storage.
	VolumePrivate
)

func (t VolumeType) String() string {
	if t == VolumePrivate {
		return "private"
	}

	return "public"
}

// MarshalJSON encodes the type as its name.
func (t VolumeType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

//go:generate mockgen -destination mocks/mock_volume.go machinerun.io/vold Volume

// Volume is a mountable unit created for a partition or a whole disk. Its
// implementation lives outside this package and is built by a VolumeFactory.
type Volume interface {
	// ID returns the volume id.
	ID() string

	// Type returns the volume type.
	Type() VolumeType

	// Mount mounts the volume.
	Mount() error

	// Unmount unmounts the volume.
	Unmount() error

	// Format creates a filesystem of type fsType, empty for the default of
	// the volume type.
	Format(fsType string) error
}

// VolumeSpec describes the volume a VolumeFactory should build.
type VolumeSpec struct {
	// ID is the volume id, see VolumeID.
	ID string

	// DiskID is the id of the owning disk.
	DiskID string

	// Type is the type of volume.
	Type VolumeType

	// Device is the partition (or whole disk) device number.
	Device Device

	// PartGUID is the unique partition GUID of a private volume.
	PartGUID GUID

	// PartName is set for a volume bound to a fixed partition name.
	PartName string

	// LinkName is the stable name of the volume, see VolumeLinkName.
	LinkName string
}

// VolumeLinkName names the volume on partition partIndex of a disk after the
// disk nickname, "usb-1" for the first partition of the usb disk. Unlike the
// volume id it survives the kernel picking new device numbers on replug.
func VolumeLinkName(nickname string, partIndex uint) string {
	if nickname == "" {
		nickname = "disk"
	}

	return nickname + "-" + strconv.FormatUint(uint64(partIndex), 10)
}

// VolumeFactory builds Volumes.
type VolumeFactory interface {
	NewVolume(spec VolumeSpec) (Volume, error)
}

// VolumeFactoryFunc adapts a function to a VolumeFactory.
type VolumeFactoryFunc func(VolumeSpec) (Volume, error)

// NewVolume calls f(spec).
func (f VolumeFactoryFunc) NewVolume(spec VolumeSpec) (Volume, error) {
	return f(spec)
}

// VolumeState is the lifecycle state of a VolumeRef.
type VolumeState int

const (
	// VolumeStateUnmounted - created and not mounted.
	VolumeStateUnmounted VolumeState = iota

	// VolumeStateMounting - a mount (and possibly a first use format) is running.
	VolumeStateMounting

	// VolumeStateMounted - mounted.
	VolumeStateMounted

	// VolumeStateDestroying - teardown started, mounts in flight must abort.
	VolumeStateDestroying

	// VolumeStateDestroyed - the handle is stale.
	VolumeStateDestroyed
)

func (s VolumeState) String() string {
	return []string{"unmounted", "mounting", "mounted", "destroying", "destroyed"}[s]
}

// VolumeRef is the handle the rest of the daemon holds for a volume owned by
// a Disk. Once the Disk destroys the volume every operation on the handle
// fails with ErrVolumeDestroyed.
type VolumeRef struct {
	vol    Volume
	spec   VolumeSpec
	notify func(Event)

	mu          sync.Mutex
	state       VolumeState
	needsFormat bool
	lastErr     error
}

func newVolumeRef(vol Volume, spec VolumeSpec, needsFormat bool, notify func(Event)) *VolumeRef {
	if notify == nil {
		notify = func(Event) {}
	}

	return &VolumeRef{
		vol:         vol,
		spec:        spec,
		notify:      notify,
		needsFormat: needsFormat,
	}
}

// ID returns the volume id.
func (v *VolumeRef) ID() string {
	return v.vol.ID()
}

// Type returns the volume type.
func (v *VolumeRef) Type() VolumeType {
	return v.vol.Type()
}

// Spec returns the spec the volume was built from.
func (v *VolumeRef) Spec() VolumeSpec {
	return v.spec
}

// State returns the current lifecycle state.
func (v *VolumeRef) State() VolumeState {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.state
}

// Valid is false once the owning disk destroyed the volume.
func (v *VolumeRef) Valid() bool {
	s := v.State()
	return s != VolumeStateDestroying && s != VolumeStateDestroyed
}

// NeedsFormat is true until the first use format of a volume created right
// after partitioning has run.
func (v *VolumeRef) NeedsFormat() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.needsFormat
}

// LastError returns the outcome of the last operation, nil on success.
func (v *VolumeRef) LastError() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.lastErr
}

func (v *VolumeRef) setState(s VolumeState) {
	v.state = s
	v.notify(Event{Code: VolumeStateChanged, ID: v.vol.ID(), Value: s.String()})
}

// Mount mounts the volume, running the first use format first if needed. A
// destroy that starts while the mount is running wins: the volume is
// unmounted again and ErrVolumeDestroyed is returned.
func (v *VolumeRef) Mount() error {
	v.mu.Lock()
	switch v.state {
	case VolumeStateDestroying, VolumeStateDestroyed:
		v.mu.Unlock()
		return errors.Wrapf(ErrVolumeDestroyed, "mount %s", v.vol.ID())
	case VolumeStateMounted, VolumeStateMounting:
		v.mu.Unlock()
		return nil
	case VolumeStateUnmounted:
	}

	format := v.needsFormat
	v.setState(VolumeStateMounting)
	v.mu.Unlock()

	if format {
		if err := v.vol.Format(""); err != nil {
			return v.failMount(errors.Wrapf(ErrVolumeOp, "format %s: %s", v.vol.ID(), err))
		}
	}

	if err := v.vol.Mount(); err != nil {
		return v.failMount(errors.Wrapf(ErrVolumeOp, "mount %s: %s", v.vol.ID(), err))
	}

	v.mu.Lock()
	if v.state == VolumeStateDestroying || v.state == VolumeStateDestroyed {
		v.mu.Unlock()
		// teardown raced us; it skipped the unmount because we were mounting.
		_ = v.vol.Unmount()

		return errors.Wrapf(ErrVolumeDestroyed, "mount %s", v.vol.ID())
	}

	v.needsFormat = false
	v.lastErr = nil
	v.setState(VolumeStateMounted)
	v.mu.Unlock()

	return nil
}

func (v *VolumeRef) failMount(err error) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.lastErr = err

	if v.state == VolumeStateMounting {
		v.setState(VolumeStateUnmounted)
	}

	return err
}

// Unmount unmounts a mounted volume. Unmounting an unmounted volume is a no-op
// and unmounting one that is still mounting fails with ErrVolumeOp.
func (v *VolumeRef) Unmount() error {
	v.mu.Lock()
	switch v.state {
	case VolumeStateDestroying, VolumeStateDestroyed:
		v.mu.Unlock()
		return errors.Wrapf(ErrVolumeDestroyed, "unmount %s", v.vol.ID())
	case VolumeStateMounting:
		v.mu.Unlock()
		return errors.Wrapf(ErrVolumeOp, "unmount %s: mount in progress", v.vol.ID())
	case VolumeStateUnmounted:
		v.mu.Unlock()
		return nil
	case VolumeStateMounted:
	}
	v.mu.Unlock()

	err := v.vol.Unmount()

	v.mu.Lock()
	defer v.mu.Unlock()

	if err != nil {
		v.lastErr = errors.Wrapf(ErrVolumeOp, "unmount %s: %s", v.vol.ID(), err)
		return v.lastErr
	}

	v.lastErr = nil

	if v.state == VolumeStateMounted {
		v.setState(VolumeStateUnmounted)
	}

	return nil
}

// Format formats an unmounted volume.
func (v *VolumeRef) Format(fsType string) error {
	v.mu.Lock()
	state := v.state
	switch state {
	case VolumeStateDestroying, VolumeStateDestroyed:
		v.mu.Unlock()
		return errors.Wrapf(ErrVolumeDestroyed, "format %s", v.vol.ID())
	case VolumeStateMounted, VolumeStateMounting:
		v.mu.Unlock()
		return errors.Wrapf(ErrVolumeOp, "format %s: volume is %s", v.vol.ID(), state)
	case VolumeStateUnmounted:
	}
	v.mu.Unlock()

	err := v.vol.Format(fsType)

	v.mu.Lock()
	defer v.mu.Unlock()

	if err != nil {
		v.lastErr = errors.Wrapf(ErrVolumeOp, "format %s: %s", v.vol.ID(), err)
		return v.lastErr
	}

	v.lastErr = nil
	v.needsFormat = false

	return nil
}

// destroy marks the handle stale and unmounts the volume if it was mounted.
// Only the first call does any work.
func (v *VolumeRef) destroy() error {
	v.mu.Lock()
	prev := v.state

	if prev == VolumeStateDestroying || prev == VolumeStateDestroyed {
		v.mu.Unlock()
		return nil
	}

	v.setState(VolumeStateDestroying)
	v.mu.Unlock()

	var err error
	if prev == VolumeStateMounted {
		if uerr := v.vol.Unmount(); uerr != nil {
			err = errors.Wrapf(ErrVolumeOp, "unmount %s: %s", v.vol.ID(), uerr)
		}
	}

	v.mu.Lock()
	v.lastErr = err
	v.setState(VolumeStateDestroyed)
	v.mu.Unlock()

	return err
}
