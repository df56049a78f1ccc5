package wxpatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubtract(t *testing.T) {
	tests := map[string]struct {
		spans    []span
		s        span
		expected []span
	}{
		"no overlap": {
			spans:    []span{{0x1000, 0x2000}},
			s:        span{0x3000, 0x4000},
			expected: []span{{0x1000, 0x2000}},
		},
		"covers": {
			spans:    []span{{0x1000, 0x2000}},
			s:        span{0x0, 0x3000},
			expected: []span{},
		},
		"head": {
			spans:    []span{{0x1000, 0x3000}},
			s:        span{0x0, 0x2000},
			expected: []span{{0x2000, 0x3000}},
		},
		"tail": {
			spans:    []span{{0x1000, 0x3000}},
			s:        span{0x2000, 0x4000},
			expected: []span{{0x1000, 0x2000}},
		},
		"split": {
			spans:    []span{{0x1000, 0x4000}, {0x5000, 0x6000}},
			s:        span{0x2000, 0x3000},
			expected: []span{{0x1000, 0x2000}, {0x5000, 0x6000}, {0x3000, 0x4000}},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.ElementsMatch(t, tc.expected, subtract(tc.spans, tc.s))
		})
	}
}

func TestRegistry(t *testing.T) {
	r := &registry{}

	a := &Text{addr: 0x10000, size: 0x2000, fd: 3}
	b := &Text{addr: 0x40000, size: 0x1000, fd: -1}
	r.add(b)
	r.add(a)

	f, ok := r.Frame(0x11234)
	require.True(t, ok)
	assert.Equal(t, Frame{FD: 3, Offset: int64(0x11234&^(pageSize-1)) - 0x10000}, f)

	f, ok = r.Frame(0x40010)
	require.True(t, ok)
	assert.Equal(t, -1, f.FD)

	_, ok = r.Frame(0x12000)
	assert.False(t, ok)

	r.reclaim(0x40000, 0x41000)
	assert.True(t, r.Reclaimed(0x40ffc, 4))
	assert.False(t, r.Reclaimed(0x3fffc, 4))
	_, ok = r.Frame(0x40010)
	assert.False(t, ok)

	// Mapping the addresses again makes them live.
	r.remove(b)
	c := &Text{addr: 0x40000, size: 0x1000, fd: 5}
	r.add(c)
	assert.False(t, r.Reclaimed(0x40000, 4))
	f, ok = r.Frame(0x40000)
	require.True(t, ok)
	assert.Equal(t, 5, f.FD)
}

func TestText(t *testing.T) {
	text, err := LoadText(nops(100))
	require.NoError(t, err)

	assert.Equal(t, int(pageSize), text.Len())
	assert.Equal(t, nops(100), text.Bytes()[:100])
	assert.True(t, text.Contains(text.Addr(), text.Len()))
	assert.False(t, text.Contains(text.Addr()+4, text.Len()))
	assert.False(t, text.Contains(text.Addr()-4, 8))

	f, ok := texts.Frame(text.Addr() + 8)
	require.True(t, ok)
	assert.Zero(t, f.Offset)

	assert.Error(t, text.Release(4, 4), "unaligned")
	assert.Error(t, text.Release(0, 2*int(pageSize)), "outside")

	require.NoError(t, text.Close())
	assert.True(t, texts.Reclaimed(text.Addr(), 4))
	assert.NoError(t, text.Close())

	_, err = NewText(0)
	assert.Error(t, err)
}
