package vold

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DiskState is the lifecycle state of a Disk.
type DiskState int

const (
	// StateUncreated - built from an attach event, Create not yet called.
	StateUncreated DiskState = iota

	// StateCreated - Create ran. The volume set reflects the last table read.
	StateCreated

	// StatePartitioned - a partition command wrote a new table.
	StatePartitioned

	// StateDestroying - Destroy is tearing the disk down.
	StateDestroying

	// StateDestroyed - terminal.
	StateDestroyed
)

func (s DiskState) String() string {
	return []string{"uncreated", "created", "partitioned", "destroying", "destroyed"}[s]
}

// DiskStatus is the health of a disk as reported to clients.
type DiskStatus int

const (
	// StatusUnknown - nothing has been read yet.
	StatusUnknown DiskStatus = iota

	// StatusUsable - the table was read and yielded at least one volume.
	StatusUsable

	// StatusUnformatted - no usable table. Partition commands recover it.
	StatusUnformatted

	// StatusError - the last read or write failed, see LastError.
	StatusError
)

func (s DiskStatus) String() string {
	return []string{"unknown", "usable", "unformatted", "error"}[s]
}

// DiskParams are the attributes of a device attach notification.
type DiskParams struct {
	// Device is the kernel device number of the whole disk.
	Device Device

	// EventPath is the sysfs device path carried by the event.
	EventPath string

	// SysPath is the absolute sysfs directory. Defaults to /sys + EventPath.
	SysPath string

	// DevPath is the device node. Resolved through the System when empty.
	DevPath string

	// Nickname is the user facing name of the disk source.
	Nickname string

	// PartName is the fixed partition name of single partition media.
	PartName string

	// Flags classify the disk.
	Flags DiskFlags
}

// Options are the collaborators and tunables of a Disk.
type Options struct {
	System   System
	Volumes  VolumeFactory
	Notifier Notifier
	Log      logrus.FieldLogger

	// Removals receives the remove event of the presence monitor. When nil
	// the disk destroys itself on removal.
	Removals chan<- DeviceEvent

	// PollInterval is the presence polling interval.
	PollInterval time.Duration

	// MinPartitionSize is the smallest partition a layout may create.
	MinPartitionSize uint64
}

// Disk is one physical block device and the volumes on it.
//
// Create, the partition commands and Destroy are expected to be called from
// a single control path. Destroy may additionally be called at any time from
// the presence monitor; the volume list and state are guarded by a mutex that
// is never held across device I/O.
type Disk struct {
	id        string
	device    Device
	eventPath string
	sysPath   string
	nickname  string
	partName  string
	flags     DiskFlags

	sys          System
	factory      VolumeFactory
	notifier     Notifier
	log          logrus.FieldLogger
	removals     chan<- DeviceEvent
	pollInterval time.Duration
	minPartSize  uint64

	mu              sync.Mutex
	devPath         string
	size            uint64
	sectorSize      uint
	label           string
	hasMetadata     bool
	volumes         []*VolumeRef
	justPartitioned bool
	created         bool
	state           DiskState
	status          DiskStatus
	lastErr         error
	monitor         *Monitor
}

// NewDisk builds a Disk for an attach notification. Nothing is read until
// Create is called.
func NewDisk(params DiskParams, opts Options) *Disk {
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}

	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}

	if opts.MinPartitionSize == 0 {
		opts.MinPartitionSize = DefaultMinPartitionSize
	}

	sysPath := params.SysPath
	if sysPath == "" && params.EventPath != "" {
		sysPath = "/sys" + params.EventPath
	}

	id := DiskID(params.Device)

	return &Disk{
		id:           id,
		device:       params.Device,
		eventPath:    params.EventPath,
		sysPath:      sysPath,
		nickname:     params.Nickname,
		partName:     params.PartName,
		flags:        params.Flags,
		devPath:      params.DevPath,
		sys:          opts.System,
		factory:      opts.Volumes,
		notifier:     opts.Notifier,
		log:          opts.Log.WithField("disk", id),
		removals:     opts.Removals,
		pollInterval: opts.PollInterval,
		minPartSize:  opts.MinPartitionSize,
	}
}

// ID returns the disk id.
func (d *Disk) ID() string { return d.id }

// Device returns the device number of the disk.
func (d *Disk) Device() Device { return d.device }

// EventPath returns the device path of the attach event.
func (d *Disk) EventPath() string { return d.eventPath }

// SysPath returns the sysfs directory of the disk.
func (d *Disk) SysPath() string { return d.sysPath }

// Nickname returns the user facing name of the disk source.
func (d *Disk) Nickname() string { return d.nickname }

// PartName returns the fixed partition name, empty for table driven disks.
func (d *Disk) PartName() string { return d.partName }

// Flags returns the classification flags.
func (d *Disk) Flags() DiskFlags { return d.flags }

// DevPath returns the device node of the disk.
func (d *Disk) DevPath() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.devPath
}

// Size returns the size in bytes. It is only meaningful after ReadMetadata.
func (d *Disk) Size() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.size
}

// SectorSize returns the logical sector size.
func (d *Disk) SectorSize() uint {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.sectorSize
}

// Label returns the vendor label.
func (d *Disk) Label() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.label
}

// State returns the lifecycle state.
func (d *Disk) State() DiskState {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.state
}

// Status returns the disk health.
func (d *Disk) Status() DiskStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.status
}

// LastError returns the error behind StatusError.
func (d *Disk) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.lastErr
}

// Created is true once Create was called.
func (d *Disk) Created() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.created
}

// JustPartitioned is true between a table write and the table read that
// follows it.
func (d *Disk) JustPartitioned() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.justPartitioned
}

// Volumes returns a snapshot of the volumes in creation order.
func (d *Disk) Volumes() []*VolumeRef {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]*VolumeRef{}, d.volumes...)
}

func (d *Disk) info() DiskInfo {
	return DiskInfo{
		ID:        d.id,
		Device:    d.device,
		EventPath: d.eventPath,
		SysPath:   d.sysPath,
		DevPath:   d.DevPath(),
	}
}

// monitoredBy reports whether m is the running presence monitor of the disk.
func (d *Disk) monitoredBy(m *Monitor) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return m != nil && d.monitor == m
}

func (d *Disk) destroyed() bool {
	return d.state == StateDestroying || d.state == StateDestroyed
}

func (d *Disk) setError(err error) {
	d.mu.Lock()
	d.status = StatusError
	d.lastErr = err
	d.mu.Unlock()
}

// Create reads the metadata and the partition table and builds the volumes.
// A read failure leaves the disk registered in a degraded state. Only
// ErrDeviceUnavailable from the metadata read is returned.
func (d *Disk) Create() error {
	d.mu.Lock()
	if d.created {
		d.mu.Unlock()
		return errors.Wrapf(ErrAlreadyCreated, "create %s", d.id)
	}

	if d.destroyed() {
		d.mu.Unlock()
		return errors.Wrapf(ErrDestroyed, "create %s", d.id)
	}

	d.created = true
	d.state = StateCreated
	d.mu.Unlock()

	d.NotifyEvent(DiskCreated, d.flags.String())

	if err := d.resolveDevPath(); err != nil {
		d.setError(err)
		d.log.Warnf("create: %s", err)

		return err
	}

	d.startMonitor()

	if err := d.ReadMetadata(); err != nil {
		d.log.Warnf("create: %s", err)
		return err
	}

	if err := d.ReadPartitions(); err != nil {
		d.log.Warnf("create: %s", err)
	}

	return nil
}

func (d *Disk) resolveDevPath() error {
	if d.DevPath() != "" {
		return nil
	}

	p, err := d.sys.DevicePath(d.device)
	if err != nil {
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = errors.Wrapf(ErrDeviceUnavailable, "%s: %s", d.device, err)
		}

		return err
	}

	d.mu.Lock()
	d.devPath = p
	d.mu.Unlock()

	return nil
}

func (d *Disk) startMonitor() {
	if !d.flags.PollsPresence() {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.monitor != nil || d.destroyed() {
		return
	}

	var own chan DeviceEvent

	out := d.removals
	if out == nil {
		own = make(chan DeviceEvent, 1)
		out = own
	}

	d.monitor = StartMonitor(context.Background(), d.device, d.devPath, d.pollInterval,
		d.sys.Present, out, d.log)

	if own != nil {
		go d.destroyOnRemoval(own, d.monitor.Done())
	}
}

// destroyOnRemoval is the removal handler of a disk without a Manager.
func (d *Disk) destroyOnRemoval(removals <-chan DeviceEvent, done <-chan struct{}) {
	select {
	case <-removals:
		if err := d.Destroy(); err != nil {
			d.log.Warnf("destroy after removal: %s", err)
		}
	case <-done:
		select {
		case <-removals:
			if err := d.Destroy(); err != nil {
				d.log.Warnf("destroy after removal: %s", err)
			}
		default:
		}
	}
}

// Destroy tears the disk down: it stops the presence monitor, destroys the
// volumes in reverse creation order and marks the disk destroyed. Only the
// first call does any work, later and concurrent calls return nil. Volume
// errors are aggregated in a *multierror.Error.
func (d *Disk) Destroy() error {
	d.mu.Lock()
	if d.destroyed() {
		d.mu.Unlock()
		return nil
	}

	d.state = StateDestroying
	mon := d.monitor
	d.monitor = nil
	vols := d.volumes
	d.volumes = nil
	d.mu.Unlock()

	if mon != nil {
		mon.Stop()
	}

	err := d.destroyVolumes(vols)

	d.mu.Lock()
	d.state = StateDestroyed
	d.mu.Unlock()

	d.log.Infof("destroyed, %d volumes", len(vols))
	d.NotifyEvent(DiskDestroyed)

	return err
}

// ReadMetadata reads size, sector size and label of the disk.
func (d *Disk) ReadMetadata() error {
	d.mu.Lock()
	if d.destroyed() {
		d.mu.Unlock()
		return errors.Wrapf(ErrDestroyed, "read metadata of %s", d.id)
	}
	d.mu.Unlock()

	// a disk whose node was missing at create gets it resolved here
	if err := d.resolveDevPath(); err != nil {
		d.setError(err)
		return err
	}

	d.startMonitor()

	md, err := d.sys.ReadMetadata(d.info())
	if err != nil {
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = errors.Wrapf(ErrDeviceUnavailable, "%s: %s", d.id, err)
		}

		d.setError(err)

		return err
	}

	if md.SectorSize == 0 {
		md.SectorSize = SectorSize512
	}

	d.mu.Lock()
	d.size = md.Size
	d.sectorSize = md.SectorSize
	d.label = md.Label
	d.hasMetadata = true
	d.mu.Unlock()

	d.log.WithFields(logrus.Fields{
		"size":  humanize.IBytes(md.Size),
		"label": md.Label,
	}).Debug("read metadata")

	d.NotifyEvent(DiskSizeChanged, fmt.Sprintf("%d", md.Size))
	d.NotifyEvent(DiskLabelChanged, md.Label)
	d.NotifyEvent(DiskSysPathChanged, d.sysPath)

	return nil
}

// ReadPartitions replaces the volume set with one volume per recognized
// partition of the on-disk table. A disk with a fixed partition name gets
// exactly one public volume bound to that name. An absent or corrupt table
// leaves the disk unformatted with no volumes and is not an error.
func (d *Disk) ReadPartitions() error {
	d.mu.Lock()
	if d.destroyed() {
		d.mu.Unlock()
		return errors.Wrapf(ErrDestroyed, "read partitions of %s", d.id)
	}

	if !d.hasMetadata {
		d.mu.Unlock()
		return errors.Wrapf(ErrNoMetadata, "read partitions of %s", d.id)
	}

	devPath := d.devPath
	sectorSize := d.sectorSize
	d.mu.Unlock()

	if err := d.destroyAllVolumes(); err != nil {
		d.log.Warnf("read partitions: %s", err)
	}

	var err error
	if d.partName != "" {
		err = d.readFixedPartition(devPath, sectorSize)
	} else {
		err = d.readTable(devPath, sectorSize)
	}

	d.mu.Lock()
	d.justPartitioned = false

	switch {
	case err != nil:
		d.status = StatusError
		d.lastErr = err
	case len(d.volumes) == 0:
		d.status = StatusUnformatted
		d.lastErr = nil
	default:
		d.status = StatusUsable
		d.lastErr = nil
	}
	d.mu.Unlock()

	d.NotifyEvent(DiskScanned)

	return err
}

func (d *Disk) readFixedPartition(devPath string, sectorSize uint) error {
	num := uint(1)

	if table, err := d.sys.ReadTable(devPath, sectorSize); err == nil {
		if p, ok := table.FindByName(d.partName); ok {
			num = p.Number
		}
	}

	dev, err := d.sys.PartitionDevice(d.info(), num)
	if err != nil {
		return errors.Wrapf(ErrDeviceUnavailable, "partition %d of %s: %s", num, d.id, err)
	}

	_, err = d.createVolume(VolumeSpec{
		ID:       VolumeID(VolumePublic, dev),
		DiskID:   d.id,
		Type:     VolumePublic,
		Device:   dev,
		PartName: d.partName,
		LinkName: d.volLinkName(num),
	})

	return err
}

func (d *Disk) readTable(devPath string, sectorSize uint) error {
	table, err := d.sys.ReadTable(devPath, sectorSize)

	switch {
	case errors.Is(err, ErrTableAbsent):
		d.log.Infof("no partition table on %s", devPath)
		return nil
	case errors.Is(err, ErrTableCorrupt):
		d.log.Warnf("unreadable partition table on %s: %s", devPath, err)
		return nil
	case err != nil:
		return err
	}

	table.Sort()

	for _, p := range table.Partitions {
		vtype, ok := p.VolumeType()
		if !ok {
			d.log.Debugf("skipping partition %d of type %s", p.Number, p.Type)
			continue
		}

		dev, err := d.sys.PartitionDevice(d.info(), p.Number)
		if err != nil {
			d.log.Warnf("skipping partition %d: %s", p.Number, err)
			continue
		}

		if vtype == VolumePrivate {
			_, err = d.createPrivateVolume(dev, p.ID, p.Number)
		} else {
			_, err = d.createPublicVolume(dev, p.Number)
		}

		if errors.Is(err, ErrDestroyed) {
			return err
		}

		if err != nil {
			d.log.Warnf("partition %d: %s", p.Number, err)
		}
	}

	return nil
}

// PartitionPublic writes an MBR with a single public partition spanning the
// disk.
func (d *Disk) PartitionPublic() error {
	return d.partition("public", func(size uint64, ssize uint) (Table, error) {
		return PublicLayout(size, ssize, d.minPartSize)
	})
}

// PartitionPrivate writes a GPT with a single adoptable partition spanning
// the disk.
func (d *Disk) PartitionPrivate() error {
	return d.partition("private", func(size uint64, ssize uint) (Table, error) {
		return PrivateLayout(size, ssize, d.minPartSize)
	})
}

// PartitionMixed writes a GPT with a public partition of ratio percent of the
// disk followed by an adoptable partition.
func (d *Disk) PartitionMixed(ratio int) error {
	return d.partition(fmt.Sprintf("mixed %d%%", ratio), func(size uint64, ssize uint) (Table, error) {
		return MixedLayout(size, ssize, ratio, d.minPartSize)
	})
}

// partition validates the layout, destroys the volumes, writes the table
// and reads it back. An invalid layout leaves the disk untouched.
func (d *Disk) partition(name string, layout func(uint64, uint) (Table, error)) error {
	d.mu.Lock()
	if d.destroyed() {
		d.mu.Unlock()
		return errors.Wrapf(ErrDestroyed, "partition %s", d.id)
	}

	if !d.hasMetadata {
		d.mu.Unlock()
		return errors.Wrapf(ErrNoMetadata, "partition %s", d.id)
	}

	size, ssize, devPath := d.size, d.sectorSize, d.devPath
	d.mu.Unlock()

	table, err := layout(size, ssize)
	if err != nil {
		return err
	}

	log := d.log.WithField("layout", name)
	log.Infof("partitioning %s (%s)", devPath, humanize.IBytes(size))

	if err := d.destroyAllVolumes(); err != nil {
		d.setError(err)
		return err
	}

	if err := d.sys.WriteTable(devPath, size, table); err != nil {
		if !errors.Is(err, ErrWriteFailed) && !errors.Is(err, ErrInvalidLayout) {
			err = errors.Wrapf(ErrWriteFailed, "%s: %s", devPath, err)
		}

		log.Errorf("partitioning failed: %s", err)
		d.setError(err)

		return err
	}

	d.mu.Lock()
	if d.destroyed() {
		d.mu.Unlock()
		return errors.Wrapf(ErrDestroyed, "partition %s", d.id)
	}

	d.justPartitioned = true
	d.state = StatePartitioned
	d.mu.Unlock()

	d.NotifyEvent(DiskPartitioned, name)

	return d.ReadPartitions()
}

// UnmountAll unmounts every volume in creation order. All volumes are
// attempted; failures are returned as a *multierror.Error in the order they
// occurred.
func (d *Disk) UnmountAll() error {
	return unmountVolumes(d.Volumes())
}

// FindVolume returns the volume with the given id or nil.
func (d *Disk) FindVolume(id string) *VolumeRef {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, v := range d.volumes {
		if v.ID() == id {
			return v
		}
	}

	return nil
}

// ListVolumes appends the ids of the volumes of type t to out in creation
// order.
func (d *Disk) ListVolumes(t VolumeType, out []string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, v := range d.volumes {
		if v.Type() == t {
			out = append(out, v.ID())
		}
	}

	return out
}

// FormatFixedPartition formats the volume bound to the fixed partition name.
func (d *Disk) FormatFixedPartition(fsType string) error {
	if d.partName == "" {
		return errors.Errorf("%s has no fixed partition", d.id)
	}

	for _, v := range d.Volumes() {
		if v.Spec().PartName == d.partName {
			return v.Format(fsType)
		}
	}

	return errors.Wrapf(ErrVolumeOp, "no volume for partition %q on %s", d.partName, d.id)
}

// NotifyEvent sends an event about this disk. It never blocks.
func (d *Disk) NotifyEvent(code EventCode, value ...string) {
	d.notifier.Notify(Event{Code: code, ID: d.id, Value: strings.Join(value, " ")})
}

func (d *Disk) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return fmt.Sprintf("%s %s %s size=%s state=%s status=%s volumes=%d",
		d.id, d.devPath, d.label, humanize.IBytes(d.size), d.state, d.status, len(d.volumes))
}
