// Package ptable reads and writes GPT and MBR partition tables.
package ptable

import (
	"bytes"
	"io"
	"unicode/utf16"

	"github.com/pkg/errors"
	"github.com/rekby/gpt"
	"github.com/rekby/mbr"
	"machinerun.io/vold"
	"machinerun.io/vold/partid"
)

const (
	// gpt.ReadTable reports a missing table only through this message.
	noGPTFound = "Bad GPT signature"

	gptMaxPartitions = 128
	mbrMaxPartitions = 4
	gptNameLen       = 36
)

// Read decodes the partition table of r. sectorSize is the logical sector
// size of the device, 0 to probe 512 and 4096. GPT is tried first, then MBR.
// A protective MBR without a readable GPT is reported as corrupt.
func Read(r io.ReadSeeker, sectorSize uint) (vold.Table, error) {
	sizes := []uint{vold.SectorSize512, vold.SectorSize4k}
	if sectorSize != 0 {
		sizes = []uint{sectorSize}
	}

	table, err := readGPT(r, sizes)
	if err == nil || !errors.Is(err, vold.ErrTableAbsent) {
		return table, err
	}

	mbrSector := sizes[0]

	table, err = readMBR(r, mbrSector)
	if err != nil {
		return vold.Table{}, err
	}

	for _, p := range table.Partitions {
		if p.Type == partid.MBRType(partid.MBRProtected) {
			return vold.Table{}, errors.Wrap(vold.ErrTableCorrupt, "protective MBR without GPT")
		}
	}

	return table, nil
}

func readGPT(r io.ReadSeeker, sizes []uint) (vold.Table, error) {
	for _, size := range sizes {
		// the primary header is in LBA 1
		if _, err := r.Seek(int64(size), io.SeekStart); err != nil {
			return vold.Table{}, errors.Wrapf(vold.ErrDeviceUnavailable, "seek: %s", err)
		}

		gptTable, err := gpt.ReadTable(r, uint64(size))
		if err != nil {
			if err.Error() == noGPTFound {
				continue
			}

			return vold.Table{}, errors.Wrapf(vold.ErrTableCorrupt, "gpt: %s", err)
		}

		return fromGPT(gptTable, size), nil
	}

	return vold.Table{}, errors.Wrap(vold.ErrTableAbsent, "no gpt")
}

func fromGPT(gptTable gpt.Table, sectorSize uint) vold.Table {
	ssize := uint64(sectorSize)
	table := vold.Table{Type: vold.GPT, SectorSize: sectorSize, Partitions: []vold.Partition{}}

	for n, p := range gptTable.Partitions {
		if p.IsEmpty() {
			continue
		}

		table.Partitions = append(table.Partitions, vold.Partition{
			Start:  p.FirstLBA * ssize,
			Last:   p.LastLBA*ssize + ssize - 1,
			ID:     vold.GUID(p.Id),
			Type:   vold.PartType(p.Type),
			Name:   p.Name(),
			Number: uint(n + 1),
		})
	}

	return table
}

func readMBR(r io.ReadSeeker, sectorSize uint) (vold.Table, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return vold.Table{}, errors.Wrapf(vold.ErrDeviceUnavailable, "seek: %s", err)
	}

	mbrTable, err := mbr.Read(r)
	if err == mbr.ErrorBadMbrSign {
		return vold.Table{}, errors.Wrap(vold.ErrTableAbsent, "no mbr")
	}

	if err != nil || mbrTable == nil {
		return vold.Table{}, errors.Wrapf(vold.ErrTableCorrupt, "mbr: %v", err)
	}

	ssize := uint64(sectorSize)
	table := vold.Table{Type: vold.MBR, SectorSize: sectorSize, Partitions: []vold.Partition{}}

	for i, p := range mbrTable.GetAllPartitions() {
		if p.IsEmpty() {
			continue
		}

		table.Partitions = append(table.Partitions, vold.Partition{
			Start:  uint64(p.GetLBAStart()) * ssize,
			Last:   uint64(p.GetLBALast())*ssize + ssize - 1,
			Type:   partid.MBRType(byte(p.GetType())),
			Number: uint(i + 1),
		})
	}

	return table, nil
}

// Write replaces whatever table is on rws, a device of size bytes, with
// table. The first and last MiB of the device and of every partition are
// zeroed so stale tables and filesystem signatures are not found again.
// Validation errors wrap ErrInvalidLayout and leave rws untouched; every
// later failure wraps ErrWriteFailed.
func Write(rws io.ReadWriteSeeker, size uint64, table vold.Table) error {
	if table.SectorSize == 0 {
		table.SectorSize = vold.SectorSize512
	}

	if err := rangeCheck(size, table); err != nil {
		return err
	}

	if table.Type == vold.MBR {
		if _, err := mbrEntries(table); err != nil {
			return err
		}
	}

	if err := zeroStartEnd(rws, 0, int64(size)); err != nil {
		return errors.Wrapf(vold.ErrWriteFailed, "wipe: %s", err)
	}

	for _, p := range table.Partitions {
		if err := zeroStartEnd(rws, int64(p.Start), int64(p.Last)+1); err != nil {
			return errors.Wrapf(vold.ErrWriteFailed, "zero partition %d: %s", p.Number, err)
		}
	}

	var err error
	if table.Type == vold.MBR {
		err = writeMBR(rws, table)
	} else {
		err = writeGPT(rws, size, table)
	}

	if err != nil {
		return errors.Wrapf(vold.ErrWriteFailed, "%s: %s", table.Type, err)
	}

	return nil
}

// rangeCheck keeps partitions within the first MiB and the backup GPT and,
// for MBR, within 32 bit sector addresses.
func rangeCheck(size uint64, table vold.Table) error {
	if table.Type != vold.MBR && table.Type != vold.GPT {
		return errors.Wrapf(vold.ErrInvalidLayout, "cannot write table type %s", table.Type)
	}

	ssize := uint64(table.SectorSize)

	maxSize := size
	maxPartNum := uint(gptMaxPartitions)

	if table.Type == vold.MBR {
		maxPartNum = mbrMaxPartitions

		if lim := uint64(0xFFFFFFFF) * ssize; maxSize > lim {
			maxSize = lim
		}
	}

	if maxSize <= ssize*33+vold.Mebibyte {
		return errors.Wrapf(vold.ErrInvalidLayout, "disk size %d is too small", size)
	}

	maxEnd := vold.Floor(maxSize-ssize*33, vold.Mebibyte)
	seen := map[uint]bool{}

	for _, p := range table.Partitions {
		if p.Number < 1 || p.Number > maxPartNum {
			return errors.Wrapf(vold.ErrInvalidLayout, "partition number %d is out of range (1-%d) for %s",
				p.Number, maxPartNum, table.Type)
		}

		if seen[p.Number] {
			return errors.Wrapf(vold.ErrInvalidLayout, "partition number %d used twice", p.Number)
		}

		seen[p.Number] = true

		if p.Start < vold.Mebibyte {
			return errors.Wrapf(vold.ErrInvalidLayout, "partition %d start (%d) is too low. Must be >= %d",
				p.Number, p.Start, vold.Mebibyte)
		}

		if p.Last >= maxEnd {
			return errors.Wrapf(vold.ErrInvalidLayout, "partition %d Last (%d) is too high. Must be < %d",
				p.Number, p.Last, maxEnd)
		}

		if p.Last <= p.Start || p.Start%ssize != 0 || (p.Last+1)%ssize != 0 {
			return errors.Wrapf(vold.ErrInvalidLayout, "partition %d (%d-%d) is not sector aligned",
				p.Number, p.Start, p.Last)
		}
	}

	return nil
}

type mbrEntry struct {
	num        int
	start, len uint32
	ptype      byte
}

func mbrEntries(table vold.Table) ([]mbrEntry, error) {
	ssize := uint64(table.SectorSize)
	entries := make([]mbrEntry, 0, len(table.Partitions))

	for _, p := range table.Partitions {
		mType, err := partid.PartTypeToMBR(p.Type)
		if err != nil {
			return nil, errors.Wrapf(vold.ErrInvalidLayout, "partition %d: %s", p.Number, err)
		}

		entries = append(entries, mbrEntry{
			num:   int(p.Number),
			start: uint32(p.Start / ssize),
			len:   uint32(p.Size() / ssize),
			ptype: mType,
		})
	}

	return entries, nil
}

func writeMBR(ws io.WriteSeeker, table vold.Table) error {
	entries, err := mbrEntries(table)
	if err != nil {
		return err
	}

	m, err := newMBR(make([]byte, table.SectorSize))
	if err != nil {
		return err
	}

	for _, e := range entries {
		pt := m.GetPartition(e.num)
		pt.SetType(mbr.PartitionType(e.ptype))
		pt.SetLBAStart(e.start)
		pt.SetLBALen(e.len)
	}

	if err := m.Check(); err != nil {
		return err
	}

	if _, err := ws.Seek(0, io.SeekStart); err != nil {
		return err
	}

	return m.Write(ws)
}

// newMBR returns an MBR with an empty partition array over the boot sector
// in buf.
func newMBR(buf []byte) (*mbr.MBR, error) {
	if len(buf) < 512 {
		return nil, errors.Errorf("buffer too small (%d)", len(buf))
	}

	// partition array is 0x1BE-0x1FD, followed by the signature
	for i := 0x1BE; i < 0x1FE; i++ {
		buf[i] = 0
	}

	buf[0x1FE] = 0x55
	buf[0x1FF] = 0xAA

	return mbr.Read(bytes.NewReader(buf))
}

// writeProtectiveMBR writes an MBR with a single 0xEE entry spanning the disk.
func writeProtectiveMBR(ws io.WriteSeeker, sectorSize uint, size uint64) error {
	m, err := newMBR(make([]byte, sectorSize))
	if err != nil {
		return err
	}

	sectors := size / uint64(sectorSize)
	if sectors > 0xFFFFFFFF {
		sectors = 0xFFFFFFFF
	}

	pt := m.GetPartition(1)
	pt.SetType(mbr.PART_GPT)
	pt.SetLBAStart(1)
	pt.SetLBALen(uint32(sectors - 1))

	if err := m.Check(); err != nil {
		return err
	}

	if _, err := ws.Seek(0, io.SeekStart); err != nil {
		return err
	}

	return m.Write(ws)
}

func writeGPT(rws io.ReadWriteSeeker, size uint64, table vold.Table) error {
	gptTable := gpt.NewTable(size, &gpt.NewTableArgs{
		SectorSize: uint64(table.SectorSize),
		DiskGuid:   gpt.Guid(vold.GenGUID()),
	})

	for _, p := range table.Partitions {
		gptTable.Partitions[p.Number-1] = toGPTPartition(p, table.SectorSize)
	}

	if err := writeProtectiveMBR(rws, table.SectorSize, size); err != nil {
		return errors.Wrap(err, "protective mbr")
	}

	if err := gptTable.Write(rws); err != nil {
		return errors.Wrap(err, "primary table")
	}

	if err := gptTable.CreateOtherSideTable().Write(rws); err != nil {
		return errors.Wrap(err, "backup table")
	}

	return nil
}

func toGPTPartition(p vold.Partition, sectorSize uint) gpt.Partition {
	ssize := uint64(sectorSize)
	id := p.ID

	if id.IsZero() {
		id = vold.GenGUID()
	}

	return gpt.Partition{
		Type:          gpt.PartType(p.Type),
		Id:            gpt.Guid(id),
		FirstLBA:      p.Start / ssize,
		LastLBA:       p.Last / ssize,
		Flags:         gpt.Flags{},
		PartNameUTF16: partName(p.Name),
		TrailingBytes: []byte{},
	}
}

func partName(s string) [72]byte {
	codes := utf16.Encode([]rune(s))
	b := [72]byte{}

	if len(codes) > gptNameLen {
		codes = codes[:gptNameLen]
	}

	for i, r := range codes {
		b[i*2] = byte(r)
		b[i*2+1] = byte(r >> 8) //nolint:gomnd
	}

	return b
}

// zeroStartEnd zeroes up to 1MiB at start and up to 1MiB ending just before
// end. end is exclusive.
func zeroStartEnd(ws io.WriteSeeker, start int64, end int64) error {
	if end <= start {
		return errors.Errorf("end %d <= start %d", end, start)
	}

	wlen := int64(vold.Mebibyte)
	bufZero := make([]byte, wlen)

	type wr struct{ start, size int64 }

	writes := []wr{{start, wlen}, {end - wlen, wlen}}

	if start+wlen >= end {
		writes = []wr{{start, end - start}}
	} else if start+wlen >= end-wlen {
		writes = []wr{{start, wlen}, {start + wlen, end - (start + wlen)}}
	}

	for _, w := range writes {
		if _, err := ws.Seek(w.start, io.SeekStart); err != nil {
			return errors.Wrapf(err, "seek to %d", w.start)
		}

		n, err := ws.Write(bufZero[:w.size])
		if err != nil {
			return errors.Wrapf(err, "write %d bytes at %d", w.size, w.start)
		}

		if int64(n) != w.size {
			return errors.Errorf("wrote only %d bytes of %d at %d", n, w.size, w.start)
		}
	}

	return nil
}
