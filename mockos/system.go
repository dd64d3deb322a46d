// Package mockos is an in-memory implementation of vold.System and
// vold.VolumeFactory for tests and demos. Disks are sparse in-memory images
// so partition tables go through the real codec.
package mockos

import (
	"encoding/json"
	"os"
	"path"
	"sync"

	"github.com/pkg/errors"
	"machinerun.io/vold"
	"machinerun.io/vold/ptable"
)

// Disk is one disk of the model.
type Disk struct {
	Device     vold.Device `json:"device"`
	Path       string      `json:"path"`
	Size       uint64      `json:"size"`
	SectorSize uint        `json:"sectorSize"`
	Label      string      `json:"label"`

	// Table is written to the image when the model is loaded.
	Table *vold.Table `json:"table,omitempty"`

	// Unreadable disks fail ReadMetadata and ReadTable.
	Unreadable bool `json:"unreadable"`
}

type mockDisk struct {
	Disk
	img      *image
	present  bool
	writeErr error
	reads    int
	writes   int
}

// Sys is the mock System.
type Sys struct {
	mu    sync.Mutex
	disks []*mockDisk
}

type model struct {
	Disks []Disk `json:"disks"`
}

// System returns a mock System loaded from the JSON model in layout.
func System(layout string) *Sys {
	file, err := os.ReadFile(layout)
	if err != nil {
		panic(err)
	}

	m := model{}

	if err := json.Unmarshal(file, &m); err != nil {
		panic(err)
	}

	sys, err := NewSystem(m.Disks...)
	if err != nil {
		panic(err)
	}

	return sys
}

// NewSystem returns a mock System holding disks.
func NewSystem(disks ...Disk) (*Sys, error) {
	sys := &Sys{}

	for _, d := range disks {
		if err := sys.AddDisk(d); err != nil {
			return nil, err
		}
	}

	return sys, nil
}

// AddDisk plugs a disk in.
func (s *Sys) AddDisk(d Disk) error {
	if d.SectorSize == 0 {
		d.SectorSize = vold.SectorSize512
	}

	md := &mockDisk{Disk: d, img: newImage(d.Size), present: true}

	if d.Table != nil {
		if err := ptable.Write(md.img, d.Size, *d.Table); err != nil {
			return errors.Wrapf(err, "model disk %s", d.Path)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.disks {
		if o.Path == d.Path || o.Device == d.Device {
			return errors.Errorf("disk %s (%s) already in model", d.Path, d.Device)
		}
	}

	s.disks = append(s.disks, md)

	return nil
}

func (s *Sys) find(devPath string) (*mockDisk, error) {
	for _, d := range s.disks {
		if d.Path == devPath {
			return d, nil
		}
	}

	return nil, errors.Wrapf(vold.ErrDeviceUnavailable, "%s not found", devPath)
}

// DevicePath implements vold.System.
func (s *Sys) DevicePath(dev vold.Device) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.disks {
		if d.Device == dev && d.present {
			return d.Path, nil
		}
	}

	return "", errors.Wrapf(vold.ErrDeviceUnavailable, "no node for %s", dev)
}

// ReadMetadata implements vold.System.
func (s *Sys) ReadMetadata(info vold.DiskInfo) (vold.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.find(info.DevPath)
	if err != nil {
		return vold.Metadata{}, err
	}

	if !d.present || d.Unreadable {
		return vold.Metadata{}, errors.Wrapf(vold.ErrDeviceUnavailable, "open %s", d.Path)
	}

	return vold.Metadata{Size: d.Size, SectorSize: d.SectorSize, Label: d.Label}, nil
}

// ReadTable implements vold.System.
func (s *Sys) ReadTable(devPath string, sectorSize uint) (vold.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.find(devPath)
	if err != nil {
		return vold.Table{}, err
	}

	if !d.present || d.Unreadable {
		return vold.Table{}, errors.Wrapf(vold.ErrDeviceUnavailable, "open %s", d.Path)
	}

	d.reads++

	return ptable.Read(d.img, sectorSize)
}

// WriteTable implements vold.System.
func (s *Sys) WriteTable(devPath string, size uint64, table vold.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.find(devPath)
	if err != nil {
		return errors.Wrapf(vold.ErrWriteFailed, "%s", err)
	}

	if d.writeErr != nil {
		return errors.Wrapf(vold.ErrWriteFailed, "%s: %s", devPath, d.writeErr)
	}

	if err := ptable.Write(d.img, size, table); err != nil {
		return err
	}

	d.writes++

	return nil
}

// Present implements vold.System.
func (s *Sys) Present(devPath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.find(devPath)

	return err == nil && d.present
}

// PartitionDevice implements vold.System. Partitions use consecutive minors.
func (s *Sys) PartitionDevice(info vold.DiskInfo, n uint) (vold.Device, error) {
	return info.Device.Partition(n), nil
}

// Unplug makes the disk disappear.
func (s *Sys) Unplug(devPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, err := s.find(devPath); err == nil {
		d.present = false
	}
}

// Replug brings an unplugged disk back with its content.
func (s *Sys) Replug(devPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, err := s.find(devPath); err == nil {
		d.present = true
	}
}

// FailWrites makes every following WriteTable on devPath fail with err. A
// nil err clears it.
func (s *Sys) FailWrites(devPath string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ferr := s.find(devPath); ferr == nil {
		d.writeErr = err
	}
}

// Corrupt overwrites the start of the disk with a protective MBR that has no
// GPT behind it.
func (s *Sys) Corrupt(devPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.find(devPath)
	if err != nil {
		return err
	}

	buf := make([]byte, vold.Mebibyte)
	entry := buf[0x1BE:]
	entry[4] = 0xEE
	entry[8] = 1
	entry[12], entry[13], entry[14], entry[15] = 0xff, 0xff, 0x00, 0x00
	buf[0x1FE], buf[0x1FF] = 0x55, 0xAA

	_, err = d.img.WriteAt(buf, 0)

	return err
}

// Writes returns the number of successful table writes on devPath.
func (s *Sys) Writes(devPath string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, err := s.find(devPath); err == nil {
		return d.writes
	}

	return 0
}

// Reads returns the number of table reads on devPath.
func (s *Sys) Reads(devPath string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, err := s.find(devPath); err == nil {
		return d.reads
	}

	return 0
}

// Events returns an add event for every present disk, the way a coldplug
// scan would report them. Event paths are /devices/mock/block/<node>.
func (s *Sys) Events() []vold.DeviceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := []vold.DeviceEvent{}

	for _, d := range s.disks {
		if !d.present {
			continue
		}

		events = append(events, vold.DeviceEvent{
			Action:    vold.ActionAdd,
			EventPath: "/devices/mock/block/" + path.Base(d.Path),
			Device:    d.Device,
			DevPath:   d.Path,
			DevType:   "disk",
		})
	}

	return events
}
