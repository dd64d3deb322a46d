//go:build linux

package linux

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"machinerun.io/vold"
)

func TestVolumeLinks(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, linkDir)
	first := filepath.Join(root, "public-8,1")
	second := filepath.Join(root, "public-8,17")

	require.NoError(t, linkVolume(dir, "usb-1", first))

	dest, err := os.Readlink(filepath.Join(dir, "usb-1"))
	require.NoError(t, err)
	assert.Equal(t, first, dest)

	// the disk came back under a new device number
	require.NoError(t, linkVolume(dir, "usb-1", second))

	dest, err = os.Readlink(filepath.Join(dir, "usb-1"))
	require.NoError(t, err)
	assert.Equal(t, second, dest)

	// the old volume must not take the new one's link with it
	require.NoError(t, unlinkVolume(dir, "usb-1", first))
	_, err = os.Lstat(filepath.Join(dir, "usb-1"))
	assert.NoError(t, err)

	require.NoError(t, unlinkVolume(dir, "usb-1", second))
	_, err = os.Lstat(filepath.Join(dir, "usb-1"))
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, unlinkVolume(dir, "usb-1", second))
}

func TestNewVolumeLinkDir(t *testing.T) {
	f := NewVolumeFactory(vold.Config{MountRoot: "/mnt/vold"}, nil, nil)

	vol, err := f.NewVolume(vold.VolumeSpec{
		ID: "private:8,2", Type: vold.VolumePrivate, Device: vold.Device{Major: 8, Minor: 2}, LinkName: "usb-2",
	})
	require.NoError(t, err)

	lv, ok := vol.(*Volume)
	require.True(t, ok)
	assert.Equal(t, "/mnt/vold/private-8,2", lv.MountPoint())
	assert.Equal(t, "/mnt/vold/by-link", lv.linkDir)
}
