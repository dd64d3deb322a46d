package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"machinerun.io/vold"
	"machinerun.io/vold/ptable"
)

func defaultOpts() imageOpts {
	return imageOpts{
		layout:     "mixed",
		ratio:      25,
		size:       256 * vold.Mebibyte,
		sectorSize: vold.SectorSize512,
		minSize:    vold.DefaultMinPartitionSize,
	}
}

func readImage(t *testing.T, fname string) vold.Table {
	t.Helper()

	fp, err := os.Open(fname)
	require.NoError(t, err)

	defer fp.Close()

	table, err := ptable.Read(fp, vold.SectorSize512)
	require.NoError(t, err)

	return table
}

func TestPartImageCreates(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "disk.img")

	table, err := partImage(fname, defaultOpts())
	require.NoError(t, err)

	st, err := os.Stat(fname)
	require.NoError(t, err)
	assert.Equal(t, int64(256*vold.Mebibyte), st.Size())

	require.Len(t, table.Partitions, 2)
	assert.Equal(t, vold.GPT, table.Type)
	assert.Equal(t, table, readImage(t, fname))
}

func TestPartImageKeepsTable(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "disk.img")

	first, err := partImage(fname, defaultOpts())
	require.NoError(t, err)

	opts := defaultOpts()
	opts.layout = "public"

	found, err := partImage(fname, opts)
	require.NoError(t, err)
	assert.Equal(t, first, found)

	opts.force = true

	found, err = partImage(fname, opts)
	require.NoError(t, err)
	require.Len(t, found.Partitions, 1)
	assert.Equal(t, found, readImage(t, fname))
}

func TestPartImageBadLayout(t *testing.T) {
	opts := defaultOpts()
	opts.layout = "striped"

	_, err := partImage(filepath.Join(t.TempDir(), "disk.img"), opts)
	assert.Error(t, err)

	opts = defaultOpts()
	opts.ratio = 100

	_, err = partImage(filepath.Join(t.TempDir(), "disk.img"), opts)
	assert.Error(t, err)
}
