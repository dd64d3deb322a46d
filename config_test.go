package vold_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"machinerun.io/vold"
)

const sampleConfig = `
sysRoot: /host/sys
pollInterval: 250ms
minPartitionSize: 32MiB
diskSources:
  - sysPattern: /devices/platform/soc/*/mmc_host/mmc1/*
    nickname: sdcard
    flags: [sd, adoptable]
  - sysPattern: /devices/platform/soc/*/mmc_host/mmc0/*
    nickname: emmc
    partName: userdata
    flags: [emmc]
  - sysPattern: /devices/*/usb*
    nickname: usb
    flags: [usb]
`

func TestParseConfig(t *testing.T) {
	cfg, err := vold.ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "/host/sys", cfg.SysRoot)
	assert.Equal(t, "/dev", cfg.DevRoot)
	assert.Equal(t, "/mnt/media_rw", cfg.MountRoot)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, vold.ByteSize(32*vold.Mebibyte), cfg.MinPartitionSize)
	assert.Equal(t, 64, cfg.EventBuffer)

	require.Len(t, cfg.DiskSources, 3)
	assert.Equal(t, vold.DiskSource{
		SysPattern: "/devices/platform/soc/*/mmc_host/mmc0/*",
		Nickname:   "emmc",
		PartName:   "userdata",
		Flags:      vold.DiskFlags{EMMC: true},
	}, cfg.DiskSources[1])
	assert.Equal(t, vold.DiskFlags{SD: true, Adoptable: true}, cfg.DiskSources[0].Flags)
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := vold.ParseConfig([]byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, vold.DefaultConfig(), cfg)
	assert.Equal(t, vold.ByteSize(vold.DefaultMinPartitionSize), cfg.MinPartitionSize)
}

func TestMatchSource(t *testing.T) {
	cfg, err := vold.ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)

	for _, tt := range []struct {
		path     string
		nickname string
	}{
		{"/devices/platform/soc/7824900.sdhci/mmc_host/mmc1/mmc1:aaaa/block/mmcblk1", "sdcard"},
		{"/devices/platform/soc/7824900.sdhci/mmc_host/mmc0/mmc0:0001/block/mmcblk0", "emmc"},
		{"/devices/pci0000:00/0000:00:14.0/usb2/2-1/2-1:1.0/host0/target0:0:0/0:0:0:0/block/sda", "usb"},
		{"/devices/virtual/block/loop0", ""},
	} {
		src, ok := cfg.MatchSource(tt.path)
		assert.Equal(t, tt.nickname != "", ok, tt.path)
		assert.Equal(t, tt.nickname, src.Nickname, tt.path)
	}
}

func TestConfigValidate(t *testing.T) {
	for _, content := range []string{
		"pollInterval: -1s",
		"diskSources: [{nickname: x}]",
		"diskSources: [{sysPattern: devices/*, nickname: x}]",
		"diskSources: [{sysPattern: /devices/*}]",
		"diskSources: [{sysPattern: /devices/*, nickname: x, flags: [floppy]}]",
		"minPartitionSize: lots",
		"diskSources: nope",
	} {
		_, err := vold.ParseConfig([]byte(content))
		assert.Error(t, err, content)
	}
}

func TestLoadConfig(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "vold.yaml")
	require.NoError(t, os.WriteFile(fpath, []byte(sampleConfig), 0o600))

	cfg, err := vold.LoadConfig(fpath)
	require.NoError(t, err)
	assert.Len(t, cfg.DiskSources, 3)

	_, err = vold.LoadConfig(fpath + ".missing")
	assert.Error(t, err)
}

func TestByteSizeYAML(t *testing.T) {
	var v struct {
		Size vold.ByteSize `yaml:"size"`
	}

	require.NoError(t, yaml.Unmarshal([]byte("size: 1048576"), &v))
	assert.Equal(t, vold.ByteSize(vold.Mebibyte), v.Size)

	require.NoError(t, yaml.Unmarshal([]byte("size: 2 GiB"), &v))
	assert.Equal(t, vold.ByteSize(2*vold.Gibibyte), v.Size)

	out, err := yaml.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, "size: 2.0 GiB\n", string(out))
}
