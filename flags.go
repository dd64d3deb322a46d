package vold

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DiskFlags are the classification attributes of a disk. They come from the
// disk source that matched the device and drive partitioning policy and
// presence polling.
type DiskFlags struct {
	// Adoptable disks may be partitioned as private storage.
	Adoptable bool

	// DefaultPrimary disks are primary storage when the user has not picked one.
	DefaultPrimary bool

	// SD is set for removable SD cards.
	SD bool

	// USB is set for USB attached disks.
	USB bool

	// EMMC is set for internal embedded flash.
	EMMC bool
}

//nolint:gochecknoglobals
var flagNames = []struct {
	name string
	get  func(*DiskFlags) *bool
}{
	{"adoptable", func(f *DiskFlags) *bool { return &f.Adoptable }},
	{"default-primary", func(f *DiskFlags) *bool { return &f.DefaultPrimary }},
	{"sd", func(f *DiskFlags) *bool { return &f.SD }},
	{"usb", func(f *DiskFlags) *bool { return &f.USB }},
	{"emmc", func(f *DiskFlags) *bool { return &f.EMMC }},
}

// ParseDiskFlags builds DiskFlags from flag names such as "adoptable" or "usb".
func ParseDiskFlags(names []string) (DiskFlags, error) {
	flags := DiskFlags{}

	for _, n := range names {
		found := false

		for _, fn := range flagNames {
			if strings.EqualFold(strings.TrimSpace(n), fn.name) {
				*fn.get(&flags) = true
				found = true

				break
			}
		}

		if !found {
			return DiskFlags{}, errors.Errorf("unknown disk flag %q", n)
		}
	}

	return flags, nil
}

// Names returns the names of the flags that are set.
func (f DiskFlags) Names() []string {
	names := []string{}

	for _, fn := range flagNames {
		if *fn.get(&f) {
			names = append(names, fn.name)
		}
	}

	return names
}

// PollsPresence is true for disks whose controllers do not deliver reliable
// remove events, so presence has to be polled.
func (f DiskFlags) PollsPresence() bool {
	return f.USB
}

func (f DiskFlags) String() string {
	return strings.Join(f.Names(), ",")
}

// MarshalJSON encodes the flags as a list of names.
func (f DiskFlags) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Names())
}

// UnmarshalJSON decodes a list of flag names.
func (f *DiskFlags) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}

	parsed, err := ParseDiskFlags(names)
	if err != nil {
		return err
	}

	*f = parsed

	return nil
}

// MarshalYAML encodes the flags as a list of names.
func (f DiskFlags) MarshalYAML() (interface{}, error) {
	return f.Names(), nil
}

// UnmarshalYAML decodes a list of flag names.
func (f *DiskFlags) UnmarshalYAML(value *yaml.Node) error {
	var names []string
	if err := value.Decode(&names); err != nil {
		return err
	}

	parsed, err := ParseDiskFlags(names)
	if err != nil {
		return err
	}

	*f = parsed

	return nil
}
