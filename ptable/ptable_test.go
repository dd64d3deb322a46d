package ptable

import (
	"bytes"
	"io"
	"os"
	"path"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"machinerun.io/vold"
	"machinerun.io/vold/partid"
)

const diskSize = 200 * vold.Mebibyte

func tempDisk(t *testing.T, size uint64) *os.File {
	t.Helper()

	fpath := path.Join(t.TempDir(), "mydisk")

	fp, err := os.OpenFile(fpath, os.O_RDWR|os.O_CREATE, 0600)
	require.NoError(t, err)

	t.Cleanup(func() { fp.Close() })

	require.NoError(t, fp.Truncate(int64(size)))

	return fp
}

func TestRoundTripGPT(t *testing.T) {
	layouts := map[string]func() (vold.Table, error){
		"private": func() (vold.Table, error) {
			return vold.PrivateLayout(diskSize, vold.SectorSize512, vold.DefaultMinPartitionSize)
		},
		"mixed": func() (vold.Table, error) {
			return vold.MixedLayout(diskSize, vold.SectorSize512, 60, vold.DefaultMinPartitionSize)
		},
	}

	for name, layout := range layouts {
		t.Run(name, func(t *testing.T) {
			table, err := layout()
			require.NoError(t, err)

			fp := tempDisk(t, diskSize)
			require.NoError(t, Write(fp, diskSize, table))

			found, err := Read(fp, 0)
			require.NoError(t, err)

			if diff := cmp.Diff(table, found); diff != "" {
				t.Errorf("table mismatch (-written +read):\n%s", diff)
			}
		})
	}
}

func TestRoundTripMBR(t *testing.T) {
	table, err := vold.PublicLayout(diskSize, vold.SectorSize512, vold.DefaultMinPartitionSize)
	require.NoError(t, err)

	fp := tempDisk(t, diskSize)
	require.NoError(t, Write(fp, diskSize, table))

	found, err := Read(fp, 0)
	require.NoError(t, err)

	assert.Equal(t, vold.MBR, found.Type)

	if diff := cmp.Diff(table, found); diff != "" {
		t.Errorf("table mismatch (-written +read):\n%s", diff)
	}

	assert.Equal(t, partid.Public, found.Partitions[0].Type.Kind())
}

func TestRoundTripGPT4k(t *testing.T) {
	table, err := vold.MixedLayout(diskSize, vold.SectorSize4k, 25, vold.DefaultMinPartitionSize)
	require.NoError(t, err)

	fp := tempDisk(t, diskSize)
	require.NoError(t, Write(fp, diskSize, table))

	found, err := Read(fp, 0)
	require.NoError(t, err)

	assert.Equal(t, uint(vold.SectorSize4k), found.SectorSize)
	assert.Len(t, found.Partitions, 2)
	assert.Equal(t, table.Partitions, found.Partitions)
}

func TestReadEmpty(t *testing.T) {
	fp := tempDisk(t, diskSize)

	_, err := Read(fp, 0)
	assert.ErrorIs(t, err, vold.ErrTableAbsent)
}

func TestReadProtectiveOnly(t *testing.T) {
	fp := tempDisk(t, diskSize)
	require.NoError(t, writeProtectiveMBR(fp, vold.SectorSize512, diskSize))

	_, err := Read(fp, 0)
	assert.ErrorIs(t, err, vold.ErrTableCorrupt)
}

func TestRewriteGPTAsMBR(t *testing.T) {
	fp := tempDisk(t, diskSize)

	private, err := vold.PrivateLayout(diskSize, vold.SectorSize512, vold.DefaultMinPartitionSize)
	require.NoError(t, err)
	require.NoError(t, Write(fp, diskSize, private))

	public, err := vold.PublicLayout(diskSize, vold.SectorSize512, vold.DefaultMinPartitionSize)
	require.NoError(t, err)
	require.NoError(t, Write(fp, diskSize, public))

	found, err := Read(fp, 0)
	require.NoError(t, err)
	assert.Equal(t, vold.MBR, found.Type)
	assert.Len(t, found.Partitions, 1)
}

func TestWriteInvalidLeavesDiskAlone(t *testing.T) {
	fp := tempDisk(t, diskSize)

	marker := bytes.Repeat([]byte{0xa5}, 4096)
	_, err := fp.WriteAt(marker, 0)
	require.NoError(t, err)

	bad := []vold.Table{
		{Type: vold.GPT, Partitions: []vold.Partition{
			{Start: 0, Last: 10*vold.Mebibyte - 1, Type: partid.BasicData, Number: 1}}},
		{Type: vold.GPT, Partitions: []vold.Partition{
			{Start: vold.Mebibyte, Last: diskSize - 1, Type: partid.BasicData, Number: 1}}},
		{Type: vold.MBR, Partitions: []vold.Partition{
			{Start: vold.Mebibyte, Last: 10*vold.Mebibyte - 1, Type: partid.BasicData, Number: 5}}},
		{Type: vold.MBR, Partitions: []vold.Partition{
			{Start: vold.Mebibyte, Last: 10*vold.Mebibyte - 1, Type: partid.AndroidExpand, Number: 1}}},
		{Type: vold.TableNone},
	}

	for i, table := range bad {
		err := Write(fp, diskSize, table)
		assert.ErrorIsf(t, err, vold.ErrInvalidLayout, "table %d", i)
	}

	found := make([]byte, len(marker))
	_, err = fp.ReadAt(found, 0)
	require.NoError(t, err)
	assert.Equal(t, marker, found)
}

func TestWriteZeroesPartitionEdges(t *testing.T) {
	table, err := vold.MixedLayout(diskSize, vold.SectorSize512, 50, vold.DefaultMinPartitionSize)
	require.NoError(t, err)

	fp := tempDisk(t, diskSize)

	for _, p := range table.Partitions {
		for _, off := range []uint64{p.Start, p.Last} {
			_, err := fp.WriteAt([]byte{0xa5}, int64(off))
			require.NoError(t, err)
		}
	}

	require.NoError(t, Write(fp, diskSize, table))

	for _, p := range table.Partitions {
		for _, off := range []uint64{p.Start, p.Last} {
			b := make([]byte, 1)
			_, err := fp.ReadAt(b, int64(off))
			require.NoError(t, err)
			assert.Equalf(t, byte(0), b[0], "partition %d offset %d", p.Number, off)
		}
	}
}

func TestZeroStartEnd(t *testing.T) {
	mib := int64(vold.Mebibyte)

	tables := []struct {
		start, end int64
	}{
		{0, 100 * mib},
		{mib, 2*mib + 100},
		{mib, mib + 100},
	}

	for _, tt := range tables {
		buf := bytes.Repeat([]byte{1}, int(tt.end+mib))
		ws := &sliceWriteSeeker{buf: buf}

		require.NoError(t, zeroStartEnd(ws, tt.start, tt.end))

		for _, off := range []int64{tt.start, tt.end - 1} {
			assert.Equalf(t, byte(0), buf[off], "offset %d of %v", off, tt)
		}

		assert.Equal(t, byte(1), buf[tt.end], "byte at end")

		if tt.start > 0 {
			assert.Equal(t, byte(1), buf[tt.start-1], "byte before start")
		}
	}
}

type sliceWriteSeeker struct {
	buf []byte
	pos int64
}

func (s *sliceWriteSeeker) Write(p []byte) (int, error) {
	n := copy(s.buf[s.pos:], p)
	s.pos += int64(n)

	if n < len(p) {
		return n, io.ErrShortWrite
	}

	return n, nil
}

func (s *sliceWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		s.pos = offset
	case io.SeekCurrent:
		s.pos += offset
	case io.SeekEnd:
		s.pos = int64(len(s.buf)) + offset
	}

	return s.pos, nil
}
