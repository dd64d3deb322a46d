// Package partid holds the partition type identifiers the disk manager knows
// about and the fixed mapping from a type to the kind of volume it carries.
//
// GPT types are kept in on-disk byte order. MBR types are folded into the
// same 16 byte form with the one byte type id in the last byte and all other
// bytes zero, see MBRType.
package partid

import (
	"fmt"

	"github.com/rekby/gpt"
)

// Kind is the kind of volume a partition type carries.
type Kind int

const (
	// Unknown partitions are reported but no volume is created for them.
	Unknown Kind = iota

	// Public partitions hold removable storage exposed to the user.
	Public

	// Private partitions hold adoptable storage merged into internal storage.
	Private
)

func (k Kind) String() string {
	switch k {
	case Public:
		return "public"
	case Private:
		return "private"
	case Unknown:
	}

	return "unknown"
}

// MBR partition type ids.
const (
	MBREmpty     byte = 0x00
	MBRFat16     byte = 0x06
	MBRFat32     byte = 0x0b
	MBRFat32LBA  byte = 0x0c
	MBRFat16LBA  byte = 0x0e
	MBRLinux     byte = 0x83
	MBRProtected byte = 0xee
)

//nolint:gochecknoglobals
var (
	// Empty is the unused partition entry.
	Empty = [16]byte{}

	// EFI is the EFI system partition.
	EFI = mustGUID("C12A7328-F81F-11D2-BA4B-00A0C93EC93B")

	// LinuxFS is a Linux filesystem data partition.
	LinuxFS = mustGUID("0FC63DAF-8483-4772-8E79-3D69D8477DE4")

	// LinuxLVM is a Linux LVM physical volume.
	LinuxLVM = mustGUID("E6D6D379-F507-44C2-A23C-238F2A3DF928")

	// LinuxRAID is a Linux software raid member.
	LinuxRAID = mustGUID("A19D880F-05FC-4D3B-A006-743F0F84911E")

	// BasicData is the Microsoft basic data type used for public FAT/exFAT storage.
	BasicData = mustGUID("EBD0A0A2-B9E5-4433-87C0-68B6B72699C7")

	// AndroidMeta holds metadata for an adopted disk.
	AndroidMeta = mustGUID("19A710A2-B3CA-11E4-B075-10604B889DCF")

	// AndroidExpand is the adoptable storage partition.
	AndroidExpand = mustGUID("193D1EA4-B3CA-11E4-B075-10604B889DCF")
)

// Text is a human readable name for the known types.
//
//nolint:gochecknoglobals
var Text = map[[16]byte]string{
	Empty:         "Empty",
	EFI:           "EFI",
	LinuxFS:       "Linux-FS",
	LinuxLVM:      "LVM",
	LinuxRAID:     "RAID",
	BasicData:     "Basic-Data",
	AndroidMeta:   "Android-Meta",
	AndroidExpand: "Android-Expand",

	MBRType(MBRFat16):    "FAT16",
	MBRType(MBRFat32):    "FAT32",
	MBRType(MBRFat32LBA): "FAT32-LBA",
	MBRType(MBRFat16LBA): "FAT16-LBA",
	MBRType(MBRLinux):    "Linux",
}

// gptKinds and mbrKinds are the whole classification table. Anything not
// listed is Unknown.
//
//nolint:gochecknoglobals
var (
	gptKinds = map[[16]byte]Kind{
		BasicData:     Public,
		AndroidExpand: Private,
	}

	mbrKinds = map[byte]Kind{
		MBRFat16:    Public,
		MBRFat32:    Public,
		MBRFat32LBA: Public,
		MBRFat16LBA: Public,
	}
)

// MBRType returns the 16 byte form of a one byte MBR type id.
func MBRType(t byte) [16]byte {
	buf := [16]byte{}
	buf[15] = t

	return buf
}

// IsMBR is true if the type is the folded form of a non-empty MBR type.
func IsMBR(t [16]byte) bool {
	for _, b := range t[:15] {
		if b != 0 {
			return false
		}
	}

	return t[15] != 0
}

// PartTypeToMBR returns the one byte MBR type id for t.
func PartTypeToMBR(t [16]byte) (byte, error) {
	if t == Empty {
		return MBREmpty, nil
	}

	if IsMBR(t) {
		return t[15], nil
	}

	switch t {
	case BasicData:
		return MBRFat32LBA, nil
	case LinuxFS:
		return MBRLinux, nil
	}

	return 0, fmt.Errorf("partition type %s has no MBR equivalent", gpt.Guid(t).String())
}

// KindOf classifies a partition type.
func KindOf(t [16]byte) Kind {
	if IsMBR(t) {
		return mbrKinds[t[15]]
	}

	return gptKinds[t]
}

func mustGUID(s string) [16]byte {
	g, err := gpt.StringToGuid(s)
	if err != nil {
		panic(fmt.Sprintf("bad guid %s: %s", s, err))
	}

	return g
}
