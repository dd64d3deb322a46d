package vold

import (
	"fmt"
)

const (
	// Kibibyte - 1024 bytes.
	Kibibyte = 1024

	// Mebibyte - the allocation unit for partition layouts.
	Mebibyte = Kibibyte * 1024

	// Gibibyte - 1024 MiB.
	Gibibyte = Mebibyte * 1024

	// SectorSize512 is the default logical sector size.
	SectorSize512 = 512

	// SectorSize4k is the logical sector size of 4k native disks.
	SectorSize4k = 4096

	// gptTrailerSectors is the space kept free at the end of the disk for
	// the backup GPT header and entries.
	gptTrailerSectors = 33

	// mbrMaxSectors is the largest sector count an MBR entry can address.
	mbrMaxSectors = 0xFFFFFFFF
)

// FreeSpace indicates a free slot on the disk with a Start and Last offset,
// where a partition can be created.
type FreeSpace struct {
	Start uint64 `json:"start"`
	Last  uint64 `json:"last"`
}

// Size returns the size of the free space, which is Last - Start + 1.
func (f *FreeSpace) Size() uint64 {
	return f.Last - f.Start + 1
}

type uRange struct {
	Start, Last uint64
}

func (r *uRange) Size() uint64 {
	return r.Last - r.Start + 1
}

// findRangeGaps returns a set of uRange to represent the un-used
// uint64 between min and max that are not included in ranges.
//  findRangeGaps({{10, 40}, {50, 100}}, 0, 110}) ==
//      {{0, 9}, {41, 49}, {101, 110}}
func findRangeGaps(ranges []uRange, min, max uint64) []uRange {
	// start 'ret' off with full range of min to max, then start cutting it up.
	ret := []uRange{{min, max}}

	for _, i := range ranges {
		for r := 0; r < len(ret); r++ {
			// 5 cases:
			if i.Start > ret[r].Last || i.Last < ret[r].Start {
				// a. i has no overlap
			} else if i.Start <= ret[r].Start && i.Last >= ret[r].Last {
				// b.) i is complete superset, so remove ret[r]
				ret = append(ret[:r], ret[r+1:]...)
				r--
			} else if i.Start > ret[r].Start && i.Last < ret[r].Last {
				// c.) i is strict subset: split ret[r]
				ret = append(
					append(ret[:r+1], uRange{i.Last + 1, ret[r].Last}),
					ret[r+1:]...)
				ret[r].Last = i.Start - 1
				r++ // added entry is guaranteed to be 'a', so skip it.
			} else if i.Start <= ret[r].Start {
				// d.) overlap left edge to middle
				ret[r].Start = i.Last + 1
			} else if i.Start <= ret[r].Last {
				// e.) middle to right edge (possibly past).
				ret[r].Last = i.Start - 1
			} else {
				panic(fmt.Sprintf("Error in findRangeGaps: %v, r=%d, ret=%v",
					i, r, ret))
			}
		}
	}

	return ret
}


// Floor returns the largest integer equal to or less than val that is evenly
// divisible by unit.
func Floor(val, unit uint64) uint64 {
	if val%unit == 0 {
		return val
	}

	return (val / unit) * unit
}
