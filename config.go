package vold

import (
	"os"
	"path"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/ryanuber/go-glob"
	"gopkg.in/yaml.v3"
)

// ByteSize is a size in bytes that reads from YAML as "16MiB" or a number.
type ByteSize uint64

// UnmarshalYAML parses a humanized size.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return errors.Wrapf(err, "bad size %q", s)
	}

	*b = ByteSize(n)

	return nil
}

// MarshalYAML writes the size in IEC units.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	return humanize.IBytes(uint64(b)), nil
}

// DiskSource declares which block devices are managed and how they are
// classified.
type DiskSource struct {
	// SysPattern is a glob matched against the sysfs device path of the
	// attach event, e.g. "/devices/platform/*/mmc_host/mmc1/*".
	SysPattern string `yaml:"sysPattern"`

	// Nickname is the user facing name of matching disks.
	Nickname string `yaml:"nickname"`

	// PartName is the fixed partition name of single partition media.
	PartName string `yaml:"partName,omitempty"`

	// Flags classify matching disks.
	Flags DiskFlags `yaml:"flags"`
}

// Matches reports whether eventPath falls under this source.
func (s DiskSource) Matches(eventPath string) bool {
	return glob.Glob(s.SysPattern, eventPath)
}

// Config is the daemon configuration.
type Config struct {
	// SysRoot is the sysfs mount point.
	SysRoot string `yaml:"sysRoot"`

	// DevRoot is the directory holding device nodes.
	DevRoot string `yaml:"devRoot"`

	// MountRoot is where volumes are mounted.
	MountRoot string `yaml:"mountRoot"`

	// PollInterval is the presence polling interval of USB disks.
	PollInterval time.Duration `yaml:"pollInterval"`

	// MinPartitionSize is the smallest partition a layout may create.
	MinPartitionSize ByteSize `yaml:"minPartitionSize"`

	// EventBuffer is the queue length of the event notifier.
	EventBuffer int `yaml:"eventBuffer"`

	// DiskSources lists the managed devices. The first match wins.
	DiskSources []DiskSource `yaml:"diskSources"`
}

// DefaultConfig returns the configuration used for unset fields.
func DefaultConfig() Config {
	return Config{
		SysRoot:          "/sys",
		DevRoot:          "/dev",
		MountRoot:        "/mnt/media_rw",
		PollInterval:     DefaultPollInterval,
		MinPartitionSize: DefaultMinPartitionSize,
		EventBuffer:      64,
	}
}

// ParseConfig decodes YAML and fills unset fields with defaults.
func ParseConfig(content []byte) (Config, error) {
	cfg := Config{}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadConfig reads the YAML configuration file at fpath.
func LoadConfig(fpath string) (Config, error) {
	content, err := os.ReadFile(fpath)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", fpath)
	}

	return ParseConfig(content)
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()

	if c.SysRoot == "" {
		c.SysRoot = def.SysRoot
	}

	if c.DevRoot == "" {
		c.DevRoot = def.DevRoot
	}

	if c.MountRoot == "" {
		c.MountRoot = def.MountRoot
	}

	if c.PollInterval == 0 {
		c.PollInterval = def.PollInterval
	}

	if c.MinPartitionSize == 0 {
		c.MinPartitionSize = def.MinPartitionSize
	}

	if c.EventBuffer == 0 {
		c.EventBuffer = def.EventBuffer
	}
}

// Validate checks the disk sources.
func (c Config) Validate() error {
	if c.PollInterval < 0 {
		return errors.Errorf("pollInterval %s is negative", c.PollInterval)
	}

	for i, s := range c.DiskSources {
		if s.SysPattern == "" {
			return errors.Errorf("disk source %d has no sysPattern", i)
		}

		if !path.IsAbs(s.SysPattern) {
			return errors.Errorf("disk source %d: sysPattern %q is not absolute", i, s.SysPattern)
		}

		if s.Nickname == "" {
			return errors.Errorf("disk source %d (%s) has no nickname", i, s.SysPattern)
		}
	}

	return nil
}

// MatchSource returns the first disk source matching eventPath.
func (c Config) MatchSource(eventPath string) (DiskSource, bool) {
	for _, s := range c.DiskSources {
		if s.Matches(eventPath) {
			return s, true
		}
	}

	return DiskSource{}, false
}
