package vold

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindGaps(t *testing.T) {
	tables := []struct {
		ranges   []uRange
		min, max uint64
		expected []uRange
	}{
		{[]uRange{}, 0, 100, []uRange{{0, 100}}},
		{[]uRange{{50, 59}}, 0, 100, []uRange{{0, 49}, {60, 100}}},
		{[]uRange{{0, 50}}, 0, 100, []uRange{{51, 100}}},
		{[]uRange{{11, 100}}, 0, 100, []uRange{{0, 10}}},
		{[]uRange{{11, 49}, {60, 90}}, 0, 100, []uRange{{0, 10}, {50, 59}, {91, 100}}},
		{[]uRange{{0, 10}, {11, 100}}, 0, 100, []uRange{}},
		{[]uRange{{0, 150}, {50, 100}}, 0, 100, []uRange{}},
		{[]uRange{{10, 40}, {50, 100}}, 0, 110, []uRange{{0, 9}, {41, 49}, {101, 110}}},
		{[]uRange{{110, 200}}, 10, 100, []uRange{{10, 100}}},
	}

	for _, tt := range tables {
		assert.Equal(t, tt.expected, findRangeGaps(tt.ranges, tt.min, tt.max), "ranges %v", tt.ranges)
	}
}

func TestFloor(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(uint64(96), Floor(97, 4))
	assert.Equal(uint64(96), Floor(96, 4))
	assert.Equal(uint64(0), Floor(Mebibyte-1, Mebibyte))
}

func TestFreeSpaceSize(t *testing.T) {
	f := FreeSpace{Start: Mebibyte, Last: 2*Mebibyte - 1}
	assert.Equal(t, uint64(Mebibyte), f.Size())
}
