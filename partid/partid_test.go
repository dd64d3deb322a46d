package partid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"machinerun.io/vold/partid"
)

func TestPartID(t *testing.T) {
	// Not a very good test, but something.
	for id, text := range map[[16]byte]string{
		partid.LinuxFS:       "Linux-FS",
		partid.LinuxLVM:      "LVM",
		partid.LinuxRAID:     "RAID",
		partid.AndroidExpand: "Android-Expand",
	} {
		if partid.Text[id] != text {
			t.Errorf("Unexpected text. found %s expected %s",
				partid.Text[id], text)
		}
	}
}

func TestKindOf(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(partid.Public, partid.KindOf(partid.BasicData))
	assert.Equal(partid.Private, partid.KindOf(partid.AndroidExpand))
	assert.Equal(partid.Unknown, partid.KindOf(partid.AndroidMeta))
	assert.Equal(partid.Unknown, partid.KindOf(partid.LinuxFS))
	assert.Equal(partid.Unknown, partid.KindOf(partid.Empty))

	for _, b := range []byte{0x06, 0x0b, 0x0c, 0x0e} {
		assert.Equal(partid.Public, partid.KindOf(partid.MBRType(b)), "mbr type 0x%02x", b)
	}

	assert.Equal(partid.Unknown, partid.KindOf(partid.MBRType(partid.MBRLinux)))
	assert.Equal(partid.Unknown, partid.KindOf(partid.MBRType(partid.MBRProtected)))
}

func TestMBRFolding(t *testing.T) {
	assert := assert.New(t)

	folded := partid.MBRType(partid.MBRFat32LBA)
	assert.True(partid.IsMBR(folded))
	assert.False(partid.IsMBR(partid.Empty))
	assert.False(partid.IsMBR(partid.BasicData))

	b, err := partid.PartTypeToMBR(folded)
	assert.NoError(err)
	assert.Equal(partid.MBRFat32LBA, b)

	b, err = partid.PartTypeToMBR(partid.BasicData)
	assert.NoError(err)
	assert.Equal(partid.MBRFat32LBA, b)

	_, err = partid.PartTypeToMBR(partid.AndroidExpand)
	assert.Error(err)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "public", partid.Public.String())
	assert.Equal(t, "private", partid.Private.String())
	assert.Equal(t, "unknown", partid.Unknown.String())
}
