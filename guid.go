package vold

import (
	"github.com/rekby/gpt"
	uuid "github.com/satori/go.uuid"
)

// GUID - a 16 byte Globally Unique ID in on-disk (mixed endian) order.
type GUID [16]byte

// GenGUID - generate a random uuid and return it
func GenGUID() GUID {
	return GUID(uuid.NewV4())
}

func (g GUID) String() string {
	return GUIDToString(g)
}

// IsZero is true for the all zero GUID.
func (g GUID) IsZero() bool {
	return g == GUID{}
}

// MarshalText encodes the GUID in its string form.
func (g GUID) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText decodes a GUID string.
func (g *GUID) UnmarshalText(b []byte) error {
	parsed, err := StringToGUID(string(b))
	if err != nil {
		return err
	}

	*g = parsed

	return nil
}

// StringToGUID - convert a string to a GUID
func StringToGUID(sguid string) (GUID, error) {
	return gpt.StringToGuid(sguid)
}

// GUIDToString - turn a Guid into a string.
func GUIDToString(bguid GUID) string {
	return gpt.Guid(bguid).String()
}
