package vold

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Action is the kind of a device event.
type Action string

// Device event actions, named like kernel uevent actions.
const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
	ActionChange Action = "change"
)

// DeviceEvent is a block device notification, from the kernel or from a
// presence monitor.
type DeviceEvent struct {
	Action Action

	// EventPath is the sysfs device path, e.g. /devices/.../block/sda.
	EventPath string

	Device Device

	// DevPath is the device node if the source knows it.
	DevPath string

	// DevType is "disk" or "partition". Empty is treated as "disk".
	DevType string

	// Monitor is set on removals sent by a presence Monitor. Such a removal
	// only applies to the disk that monitor is polling for.
	Monitor *Monitor
}

// Manager keeps the set of Disks in sync with device events and routes
// commands to them. HandleEvent and the commands are meant to be called
// from a single dispatch loop, see Run.
type Manager struct {
	cfg      Config
	sys      System
	factory  VolumeFactory
	notifier Notifier
	log      logrus.FieldLogger
	removals chan DeviceEvent

	mu    sync.Mutex
	disks []*Disk
}

// NewManager returns a Manager for the disk sources of cfg.
func NewManager(cfg Config, sys System, factory VolumeFactory, notifier Notifier,
	log logrus.FieldLogger) *Manager {
	if notifier == nil {
		notifier = nopNotifier{}
	}

	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Manager{
		cfg:      cfg,
		sys:      sys,
		factory:  factory,
		notifier: notifier,
		log:      log,
		removals: make(chan DeviceEvent, len(cfg.DiskSources)+1),
	}
}

// Run dispatches events and presence monitor removals until ctx is done or
// events is closed, then destroys all disks.
func (m *Manager) Run(ctx context.Context, events <-chan DeviceEvent) error {
	for {
		select {
		case <-ctx.Done():
			return m.Shutdown()
		case ev, ok := <-events:
			if !ok {
				return m.Shutdown()
			}

			m.dispatch(ev)
		case ev := <-m.removals:
			m.dispatch(ev)
		}
	}
}

func (m *Manager) dispatch(ev DeviceEvent) {
	if err := m.HandleEvent(ev); err != nil {
		m.log.WithFields(logrus.Fields{
			"action": ev.Action,
			"device": ev.Device.String(),
		}).Warnf("event failed: %s", err)
	}
}

// HandleEvent applies one device event. Add builds and creates a Disk for
// devices matching a disk source. Change rereads metadata and table. Remove
// destroys the disk. Partition events are ignored.
func (m *Manager) HandleEvent(ev DeviceEvent) error {
	if ev.DevType != "" && ev.DevType != "disk" {
		return nil
	}

	switch ev.Action {
	case ActionAdd:
		return m.add(ev)
	case ActionChange:
		return m.change(ev)
	case ActionRemove:
		return m.remove(ev)
	}

	return nil
}

func (m *Manager) add(ev DeviceEvent) error {
	src, ok := m.cfg.MatchSource(ev.EventPath)
	if !ok {
		m.log.Debugf("ignoring %s (%s): no disk source", ev.EventPath, ev.Device)
		return nil
	}

	if d := m.findByDevice(ev.Device); d != nil {
		if d.Status() != StatusError {
			m.log.Debugf("ignoring add of known disk %s", d.ID())
			return nil
		}

		m.log.WithField("disk", d.ID()).Info("replacing failed disk on new attach")
		m.unregister(d)

		if err := d.Destroy(); err != nil {
			m.log.WithField("disk", d.ID()).Warnf("destroy failed disk: %s", err)
		}
	}

	disk := NewDisk(DiskParams{
		Device:    ev.Device,
		EventPath: ev.EventPath,
		SysPath:   m.cfg.SysRoot + ev.EventPath,
		DevPath:   ev.DevPath,
		Nickname:  src.Nickname,
		PartName:  src.PartName,
		Flags:     src.Flags,
	}, Options{
		System:           m.sys,
		Volumes:          m.factory,
		Notifier:         m.notifier,
		Log:              m.log,
		Removals:         m.removals,
		PollInterval:     m.cfg.PollInterval,
		MinPartitionSize: uint64(m.cfg.MinPartitionSize),
	})

	m.mu.Lock()
	m.disks = append(m.disks, disk)
	m.mu.Unlock()

	m.log.WithField("disk", disk.ID()).Infof("added %s from %s", src.Nickname, ev.EventPath)

	return disk.Create()
}

func (m *Manager) change(ev DeviceEvent) error {
	d := m.findByDevice(ev.Device)
	if d == nil {
		return nil
	}

	if err := d.ReadMetadata(); err != nil {
		return err
	}

	return d.ReadPartitions()
}

func (m *Manager) remove(ev DeviceEvent) error {
	m.mu.Lock()

	var disk *Disk

	for i, d := range m.disks {
		if d.Device() != ev.Device {
			continue
		}

		if ev.Monitor != nil && !d.monitoredBy(ev.Monitor) {
			m.log.WithField("disk", d.ID()).Debug("ignoring removal from a stale presence monitor")
			break
		}

		disk = d
		m.disks = append(m.disks[:i], m.disks[i+1:]...)

		break
	}
	m.mu.Unlock()

	if disk == nil {
		return nil
	}

	return disk.Destroy()
}

func (m *Manager) unregister(disk *Disk) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, d := range m.disks {
		if d == disk {
			m.disks = append(m.disks[:i], m.disks[i+1:]...)
			return
		}
	}
}

func (m *Manager) findByDevice(dev Device) *Disk {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.disks {
		if d.Device() == dev {
			return d
		}
	}

	return nil
}

// FindDisk returns the disk with the given id.
func (m *Manager) FindDisk(id string) (*Disk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.disks {
		if d.ID() == id {
			return d, nil
		}
	}

	return nil, errors.Wrapf(ErrDiskNotFound, "%s", id)
}

// Disks returns the managed disks in attach order.
func (m *Manager) Disks() []*Disk {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]*Disk{}, m.disks...)
}

// FindVolume looks a volume up across all disks.
func (m *Manager) FindVolume(id string) *VolumeRef {
	for _, d := range m.Disks() {
		if v := d.FindVolume(id); v != nil {
			return v
		}
	}

	return nil
}

// PartitionPublic runs Disk.PartitionPublic on disk id.
func (m *Manager) PartitionPublic(id string) error {
	d, err := m.FindDisk(id)
	if err != nil {
		return err
	}

	return d.PartitionPublic()
}

// PartitionPrivate runs Disk.PartitionPrivate on disk id.
func (m *Manager) PartitionPrivate(id string) error {
	d, err := m.FindDisk(id)
	if err != nil {
		return err
	}

	return d.PartitionPrivate()
}

// PartitionMixed runs Disk.PartitionMixed on disk id.
func (m *Manager) PartitionMixed(id string, ratio int) error {
	d, err := m.FindDisk(id)
	if err != nil {
		return err
	}

	return d.PartitionMixed(ratio)
}

// UnmountAll unmounts all volumes of disk id.
func (m *Manager) UnmountAll(id string) error {
	d, err := m.FindDisk(id)
	if err != nil {
		return err
	}

	return d.UnmountAll()
}

// Shutdown destroys every disk.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	disks := m.disks
	m.disks = nil
	m.mu.Unlock()

	var result *multierror.Error

	for i := len(disks) - 1; i >= 0; i-- {
		if err := disks[i].Destroy(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}
