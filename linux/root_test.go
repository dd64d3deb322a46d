//go:build linux && !skipIntegration

//nolint:errcheck
package linux_test

import (
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"machinerun.io/vold"
	"machinerun.io/vold/linux"
	"machinerun.io/vold/mockos"
)

const MiB = 1024 * 1024

// loopDisk attaches a sparse image to a loop device and returns a Disk for it.
func loopDisk(t *testing.T, size int64) (*vold.Disk, *mockos.VolumeFactory) {
	t.Helper()

	cleanup, loopDev, err := connectLoop(getTempFile(t, size))
	if err != nil {
		t.Fatalf("failed loop: %s\n", err)
	}

	t.Cleanup(func() { cleanup() })

	var st unix.Stat_t
	require.NoError(t, unix.Stat(loopDev, &st))

	sysPath, err := filepath.EvalSymlinks(path.Join("/sys/class/block", path.Base(loopDev)))
	require.NoError(t, err)

	cfg := vold.DefaultConfig()
	vols := mockos.NewVolumeFactory()

	disk := vold.NewDisk(vold.DiskParams{
		Device:    vold.NewDevice(uint64(st.Rdev)), //nolint:unconvert
		EventPath: strings.TrimPrefix(sysPath, "/sys"),
		SysPath:   sysPath,
		DevPath:   loopDev,
		Nickname:  "loop",
	}, vold.Options{System: linux.NewSystem(cfg, nil), Volumes: vols})

	return disk, vols
}

func partitionNode(t *testing.T, disk *vold.Disk, n int) vold.Device {
	t.Helper()

	name := path.Base(disk.DevPath()) + "p" + string(rune('0'+n))

	content, err := os.ReadFile(path.Join("/sys/class/block", name, "dev"))
	require.NoError(t, err, "partition %d of %s", n, disk.DevPath())

	dev, err := vold.ParseDevice(string(content))
	require.NoError(t, err)

	return dev
}

func TestRootPartitionMixed(t *testing.T) {
	skipIfNoLoop(t)

	ast := assert.New(t)
	disk, _ := loopDisk(t, 256*MiB)

	require.NoError(t, disk.Create())
	ast.Equal(uint64(256*MiB), disk.Size())
	ast.Equal(vold.StatusUnformatted, disk.Status())

	require.NoError(t, disk.PartitionMixed(25))

	vols := disk.Volumes()
	require.Len(t, vols, 2)
	ast.Equal(vold.VolumePublic, vols[0].Type())
	ast.Equal(vold.VolumePrivate, vols[1].Type())
	ast.Equal(partitionNode(t, disk, 1), vols[0].Spec().Device)
	ast.Equal(partitionNode(t, disk, 2), vols[1].Spec().Device)
	ast.False(vols[1].Spec().PartGUID.IsZero())

	// a rescan finds the same layout
	require.NoError(t, disk.ReadPartitions())
	ast.Equal([]string{vols[1].ID()}, disk.ListVolumes(vold.VolumePrivate, nil))

	require.NoError(t, disk.Destroy())
}

func TestRootPartitionPublic(t *testing.T) {
	skipIfNoLoop(t)

	ast := assert.New(t)
	disk, vols := loopDisk(t, 128*MiB)

	require.NoError(t, disk.Create())
	require.NoError(t, disk.PartitionPrivate())
	require.NoError(t, disk.PartitionPublic())

	found := disk.Volumes()
	require.Len(t, found, 1)
	ast.Equal(partitionNode(t, disk, 1), found[0].Spec().Device)
	ast.True(found[0].NeedsFormat())

	require.NoError(t, found[0].Mount())
	ast.Equal(1, vols.Count("format", found[0].ID()))

	require.NoError(t, disk.Destroy())
}
