package vold

import (
	"github.com/pkg/errors"
	"machinerun.io/vold/partid"
)

// DefaultMinPartitionSize is the smallest partition a layout will create.
const DefaultMinPartitionSize = 16 * Mebibyte

const (
	publicPartName  = "public"
	privatePartName = "android_expand"
)

// usableSpace returns the region of a disk available to partitions. The
// first MiB is kept for the table and alignment. The end leaves room for the
// backup GPT and is rounded down to a MiB. MBR tables cannot address more
// than 2^32 sectors.
func usableSpace(size uint64, sectorSize uint, table TableType) (FreeSpace, error) {
	ssize := uint64(sectorSize)
	if ssize == 0 {
		ssize = SectorSize512
	}

	maxSize := size
	if table == MBR && maxSize > mbrMaxSectors*ssize {
		maxSize = mbrMaxSectors * ssize
	}

	if maxSize < ssize*gptTrailerSectors+2*Mebibyte {
		return FreeSpace{}, errors.Wrapf(ErrInvalidLayout, "disk size %d is too small", size)
	}

	end := Floor(maxSize-ssize*gptTrailerSectors, Mebibyte)
	gaps := findRangeGaps([]uRange{{0, Mebibyte - 1}, {end, size}}, 0, size)

	if len(gaps) != 1 {
		return FreeSpace{}, errors.Wrapf(ErrInvalidLayout, "disk size %d leaves no usable space", size)
	}

	return FreeSpace(gaps[0]), nil
}

// PublicLayout is a single MBR FAT32 partition spanning the usable space.
func PublicLayout(size uint64, sectorSize uint, minSize uint64) (Table, error) {
	free, err := usableSpace(size, sectorSize, MBR)
	if err != nil {
		return Table{}, err
	}

	if free.Size() < minSize {
		return Table{}, errors.Wrapf(ErrInvalidLayout,
			"usable space %d is below the minimum partition size %d", free.Size(), minSize)
	}

	return Table{
		Type:       MBR,
		SectorSize: sectorSize,
		Partitions: []Partition{{
			Start:  free.Start,
			Last:   free.Last,
			Type:   partid.MBRType(partid.MBRFat32LBA),
			Number: 1,
		}},
	}, nil
}

// PrivateLayout is a single GPT adoptable partition spanning the usable space.
func PrivateLayout(size uint64, sectorSize uint, minSize uint64) (Table, error) {
	free, err := usableSpace(size, sectorSize, GPT)
	if err != nil {
		return Table{}, err
	}

	if free.Size() < minSize {
		return Table{}, errors.Wrapf(ErrInvalidLayout,
			"usable space %d is below the minimum partition size %d", free.Size(), minSize)
	}

	return Table{
		Type:       GPT,
		SectorSize: sectorSize,
		Partitions: []Partition{{
			Start:  free.Start,
			Last:   free.Last,
			ID:     GenGUID(),
			Type:   partid.AndroidExpand,
			Name:   privatePartName,
			Number: 1,
		}},
	}, nil
}

// MixedLayout is a GPT table with a public partition holding ratio percent
// of the disk followed by an adoptable partition holding the rest.
//
// The public share is size*ratio/100 rounded to the nearest MiB, with exact
// halves rounded down. Both partitions must be at least minSize.
func MixedLayout(size uint64, sectorSize uint, ratio int, minSize uint64) (Table, error) {
	if ratio < 1 || ratio > 99 {
		return Table{}, errors.Wrapf(ErrInvalidLayout, "ratio %d is not within 1-99", ratio)
	}

	if size < 2*minSize {
		return Table{}, errors.Wrapf(ErrInvalidLayout,
			"disk size %d is smaller than two partitions of %d", size, minSize)
	}

	free, err := usableSpace(size, sectorSize, GPT)
	if err != nil {
		return Table{}, err
	}

	publicSize := roundMebibyte(percentOf(size, ratio))

	if publicSize == 0 || publicSize < minSize {
		return Table{}, errors.Wrapf(ErrInvalidLayout,
			"public share %d of ratio %d is below the minimum %d", publicSize, ratio, minSize)
	}

	if publicSize >= free.Size() || free.Size()-publicSize < minSize {
		return Table{}, errors.Wrapf(ErrInvalidLayout,
			"private share of ratio %d is below the minimum %d", ratio, minSize)
	}

	public := Partition{
		Start:  free.Start,
		Last:   free.Start + publicSize - 1,
		ID:     GenGUID(),
		Type:   partid.BasicData,
		Name:   publicPartName,
		Number: 1,
	}

	private := Partition{
		Start:  public.Last + 1,
		Last:   free.Last,
		ID:     GenGUID(),
		Type:   partid.AndroidExpand,
		Name:   privatePartName,
		Number: 2,
	}

	return Table{
		Type:       GPT,
		SectorSize: sectorSize,
		Partitions: []Partition{public, private},
	}, nil
}

// percentOf returns floor(size * ratio / 100) without overflowing.
func percentOf(size uint64, ratio int) uint64 {
	r := uint64(ratio)

	return (size/100)*r + (size%100)*r/100
}

// roundMebibyte rounds to the nearest MiB, exact halves round down.
func roundMebibyte(v uint64) uint64 {
	q, rem := v/Mebibyte, v%Mebibyte
	if rem > Mebibyte/2 {
		q++
	}

	return q * Mebibyte
}
