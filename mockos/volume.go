package mockos

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"machinerun.io/vold"
)

// VolumeFactory builds Volumes that only record what is done to them. All
// volumes of a factory share one call log.
type VolumeFactory struct {
	mu      sync.Mutex
	calls   []string
	vols    map[string]*Volume
	created []vold.VolumeSpec

	// NewErr fails NewVolume when set.
	NewErr error
}

// NewVolumeFactory returns an empty factory.
func NewVolumeFactory() *VolumeFactory {
	return &VolumeFactory{vols: map[string]*Volume{}}
}

// NewVolume implements vold.VolumeFactory.
func (f *VolumeFactory) NewVolume(spec vold.VolumeSpec) (vold.Volume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.NewErr != nil {
		return nil, f.NewErr
	}

	v := &Volume{spec: spec, factory: f}
	f.vols[spec.ID] = v
	f.created = append(f.created, spec)
	f.calls = append(f.calls, "create "+spec.ID)

	return v, nil
}

func (f *VolumeFactory) record(op string, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, op+" "+id)
}

// Calls returns the call log, e.g. ["create public:8,1", "mount public:8,1"].
func (f *VolumeFactory) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string{}, f.calls...)
}

// Count returns how often op was called on volume id.
func (f *VolumeFactory) Count(op string, id string) int {
	n := 0

	for _, c := range f.Calls() {
		if c == op+" "+id {
			n++
		}
	}

	return n
}

// Created returns the specs of all volumes built so far.
func (f *VolumeFactory) Created() []vold.VolumeSpec {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]vold.VolumeSpec{}, f.created...)
}

// Volume returns the last volume built with id.
func (f *VolumeFactory) Volume(id string) *Volume {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.vols[id]
}

// Volume is a mock vold.Volume.
type Volume struct {
	spec    vold.VolumeSpec
	factory *VolumeFactory

	mu       sync.Mutex
	mounted  bool
	fsType   string
	mountErr error
	umntErr  error
	gate     chan struct{}
}

// ID implements vold.Volume.
func (v *Volume) ID() string { return v.spec.ID }

// Type implements vold.Volume.
func (v *Volume) Type() vold.VolumeType { return v.spec.Type }

// Spec returns the spec the volume was built from.
func (v *Volume) Spec() vold.VolumeSpec { return v.spec }

// Mount implements vold.Volume. It blocks while a gate set by HoldMount is
// closed.
func (v *Volume) Mount() error {
	v.mu.Lock()
	gate := v.gate
	v.mu.Unlock()

	if gate != nil {
		<-gate
	}

	v.factory.record("mount", v.spec.ID)

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.mountErr != nil {
		return v.mountErr
	}

	v.mounted = true

	return nil
}

// Unmount implements vold.Volume.
func (v *Volume) Unmount() error {
	v.factory.record("unmount", v.spec.ID)

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.umntErr != nil {
		return v.umntErr
	}

	v.mounted = false

	return nil
}

// Format implements vold.Volume.
func (v *Volume) Format(fsType string) error {
	v.factory.record("format", v.spec.ID)

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.mounted {
		return errors.Errorf("%s is mounted", v.spec.ID)
	}

	if fsType == "" {
		fsType = map[vold.VolumeType]string{vold.VolumePublic: "vfat", vold.VolumePrivate: "ext4"}[v.spec.Type]
	}

	v.fsType = fsType

	return nil
}

// Mounted reports whether the volume is mounted.
func (v *Volume) Mounted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.mounted
}

// FsType returns the filesystem of the last format.
func (v *Volume) FsType() string {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.fsType
}

// FailMount makes Mount fail with err.
func (v *Volume) FailMount(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.mountErr = err
}

// FailUnmount makes Unmount fail with err.
func (v *Volume) FailUnmount(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.umntErr = err
}

// HoldMount makes Mount block until the returned function is called.
func (v *Volume) HoldMount() (release func()) {
	gate := make(chan struct{})

	v.mu.Lock()
	v.gate = gate
	v.mu.Unlock()

	var once sync.Once

	return func() { once.Do(func() { close(gate) }) }
}

func (v *Volume) String() string {
	return fmt.Sprintf("%s(%s)", v.spec.ID, v.spec.Device)
}
