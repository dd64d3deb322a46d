package vold

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rekby/gpt"
	"machinerun.io/vold/partid"
)

// TableType enumerates the partition table formats.
type TableType int

const (
	// TableNone - no partition table.
	TableNone TableType = iota

	// MBR - Master Boot Record (dos) partition table.
	MBR

	// GPT - GUID Partition Table.
	GPT
)

//nolint:gochecknoglobals
var tableTypeNames = map[TableType]string{
	TableNone: "NONE",
	MBR:       "MBR",
	GPT:       "GPT",
}

func (t TableType) String() string {
	if s, ok := tableTypeNames[t]; ok {
		return s
	}

	return fmt.Sprintf("TableType(%d)", int(t))
}

// MarshalJSON encodes the table type as its name.
func (t TableType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts the name or the integer value.
func (t *TableType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}

		*t = TableType(n)

		return nil
	}

	for tt, name := range tableTypeNames {
		if strings.EqualFold(name, s) {
			*t = tt
			return nil
		}
	}

	return errors.Errorf("unknown table type %q", s)
}

// PartType is a partition type. MBR types use the folded form of
// partid.MBRType.
type PartType [16]byte

func (p PartType) String() string {
	if s, ok := partid.Text[p]; ok {
		return s
	}

	return p.guidString()
}

func (p PartType) guidString() string {
	if partid.IsMBR(p) {
		return fmt.Sprintf("mbr:%02x", p[15])
	}

	return gpt.Guid(p).String()
}

// Kind returns the kind of volume this partition type carries.
func (p PartType) Kind() partid.Kind {
	return partid.KindOf(p)
}

// MarshalText encodes a GPT type as its GUID and an MBR type as "mbr:XX".
func (p PartType) MarshalText() ([]byte, error) {
	return []byte(p.guidString()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (p *PartType) UnmarshalText(b []byte) error {
	s := string(b)

	if strings.HasPrefix(s, "mbr:") {
		v, err := strconv.ParseUint(strings.TrimPrefix(s, "mbr:"), 16, 8)
		if err != nil {
			return errors.Wrapf(err, "bad mbr type %q", s)
		}

		*p = partid.MBRType(byte(v))

		return nil
	}

	g, err := gpt.StringToGuid(s)
	if err != nil {
		return errors.Wrapf(err, "bad partition type %q", s)
	}

	*p = g

	return nil
}

// Partition is one entry of a partition table.
type Partition struct {
	// Start is the offset in bytes of the first byte of the partition.
	Start uint64 `json:"start"`

	// Last is the offset in bytes of the last byte of the partition.
	Last uint64 `json:"last"`

	// ID is the unique partition GUID (GPT only).
	ID GUID `json:"id"`

	// Type is the partition type.
	Type PartType `json:"type"`

	// Name is the GPT partition name.
	Name string `json:"name"`

	// Number is the 1 based table index.
	Number uint `json:"number"`
}

// Size returns the size of the partition in bytes.
func (p Partition) Size() uint64 {
	return p.Last - p.Start + 1
}

// VolumeType returns the type of volume to create for this partition, false
// for partitions that carry no volume.
func (p Partition) VolumeType() (VolumeType, bool) {
	switch p.Type.Kind() {
	case partid.Public:
		return VolumePublic, true
	case partid.Private:
		return VolumePrivate, true
	case partid.Unknown:
	}

	return VolumePublic, false
}

// Table is a decoded partition table.
type Table struct {
	Type       TableType   `json:"type"`
	SectorSize uint        `json:"sectorSize"`
	Partitions []Partition `json:"partitions"`
}

// Sort orders the partitions by number.
func (t *Table) Sort() {
	sort.Slice(t.Partitions, func(i, j int) bool {
		return t.Partitions[i].Number < t.Partitions[j].Number
	})
}

// FindByName returns the first partition named name.
func (t Table) FindByName(name string) (Partition, bool) {
	for _, p := range t.Partitions {
		if p.Name == name {
			return p, true
		}
	}

	return Partition{}, false
}
