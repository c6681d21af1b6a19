package universe

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testData     = []byte{1, 2, 3, 4, 5}
	testData2    = []byte{9, 8, 7, 6, 5, 4, 3, 2, 1}
	testData3    = []byte{10, 11, 12}
	mergeResult  = []byte{10, 11, 12, 4, 5}
	mergeResult2 = []byte{10, 11, 12, 6, 5, 4, 3, 2, 1}
)

func TestBlackout(t *testing.T) {
	var b Buffer
	b.Blackout()

	assert.Equal(t, Size, b.Size())
	assert.Equal(t, make([]byte, Size), b.Bytes())

	b.Reset()
	assert.Equal(t, 0, b.Size())
}

func TestSetGet(t *testing.T) {
	var b Buffer
	assert.Equal(t, 0, b.Size())
	assert.ErrorIs(t, b.Set(nil), ErrNilData)
	assert.Equal(t, 0, b.Size())

	require.NoError(t, b.Set(testData))
	assert.Equal(t, len(testData), b.Size())
	assert.Equal(t, testData, b.Bytes())

	t.Run("copy into larger slice", func(t *testing.T) {
		dst := make([]byte, 10)
		n := b.CopyTo(dst)
		assert.Equal(t, len(testData), n)
		assert.Equal(t, testData, dst[:n])
	})

	t.Run("copy into smaller slice", func(t *testing.T) {
		dst := make([]byte, 3)
		n := b.CopyTo(dst)
		assert.Equal(t, 3, n)
		assert.Equal(t, testData[:3], dst)
	})

	t.Run("channel reads", func(t *testing.T) {
		assert.Equal(t, byte(1), b.Get(0))
		assert.Equal(t, byte(5), b.Get(4))
		assert.Equal(t, byte(0), b.Get(5))
		assert.Equal(t, byte(0), b.Get(-1))
		assert.Equal(t, byte(0), b.Get(Size))
	})

	t.Run("set truncates to universe size", func(t *testing.T) {
		big := bytes.Repeat([]byte{7}, Size+100)
		require.NoError(t, b.Set(big))
		assert.Equal(t, Size, b.Size())
		assert.Equal(t, big[:Size], b.Bytes())
	})

	t.Run("empty slice is not nil", func(t *testing.T) {
		require.NoError(t, b.Set([]byte{}))
		assert.Equal(t, 0, b.Size())
	})
}

func TestSetString(t *testing.T) {
	var b Buffer
	b.SetString(string(testData2))
	assert.Equal(t, testData2, b.Bytes())

	b.SetString("")
	assert.Equal(t, 0, b.Size())
	assert.Equal(t, []byte{}, b.Bytes())
}

func TestSetBuffer(t *testing.T) {
	src := NewBuffer(testData)
	var dst Buffer
	dst.SetBuffer(src)

	assert.True(t, dst.Equal(src))
	assert.False(t, dst.IsShared())

	dst.SetChannel(0, 200)
	assert.Equal(t, byte(1), src.Get(0))

	var empty Buffer
	dst.SetBuffer(empty)
	assert.Equal(t, 0, dst.Size())
}

func TestEqual(t *testing.T) {
	a := NewBuffer(testData)
	b := NewBuffer(testData)
	c := NewBuffer(testData2)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))

	// Equality covers the valid prefix only.
	c.SetString(string(testData))
	assert.True(t, a.Equal(c))

	var empty1, empty2 Buffer
	assert.True(t, empty1.Equal(empty2))
	empty2.Blackout()
	empty2.Reset()
	assert.True(t, empty1.Equal(empty2))
}

func TestCloneCopyOnWrite(t *testing.T) {
	initial := NewBuffer(testData)

	t.Run("mutating the clone leaves the source alone", func(t *testing.T) {
		src := initial.Clone()
		dst := src.Clone()
		assert.True(t, src.IsShared())

		dst.SetChannel(0, 244)
		assert.Equal(t, testData, src.Bytes())
		assert.Equal(t, []byte{244, 2, 3, 4, 5}, dst.Bytes())
		src.Release()
		dst.Release()
	})

	t.Run("mutating the source leaves the clone alone", func(t *testing.T) {
		src := initial.Clone()
		dst := src.Clone()

		src.SetChannel(0, 234)
		assert.Equal(t, []byte{234, 2, 3, 4, 5}, src.Bytes())
		assert.Equal(t, testData, dst.Bytes())
		src.Release()
		dst.Release()
	})

	mutations := []struct {
		name   string
		mutate func(b *Buffer)
	}{
		{"blackout", func(b *Buffer) { b.Blackout() }},
		{"set", func(b *Buffer) { _ = b.Set(testData2) }},
		{"set string", func(b *Buffer) { b.SetString("xyz") }},
		{"set from string", func(b *Buffer) { b.SetFromString("9,9,9") }},
		{"htp merge", func(b *Buffer) { b.HTPMerge(NewBuffer(testData2)) }},
		{"set range", func(b *Buffer) { _ = b.SetRange(1, testData3) }},
		{"set range to value", func(b *Buffer) { _ = b.SetRangeToValue(0, 99, 3) }},
		{"set channel", func(b *Buffer) { b.SetChannel(4, 0) }},
	}

	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			src := initial.Clone()
			dst := src.Clone()

			tt.mutate(&dst)

			assert.Equal(t, testData, src.Bytes())
			src.Release()
			dst.Release()
		})
	}

	assert.False(t, initial.IsShared())
}

func TestReleaseLeavesUninitialized(t *testing.T) {
	b := NewBuffer(testData)
	b.Release()
	assert.Equal(t, 0, b.Size())

	// An uninitialized buffer blacks out before a channel write.
	b.SetChannel(3, 7)
	assert.Equal(t, Size, b.Size())
	assert.Equal(t, byte(7), b.Get(3))
}

func TestHTPMerge(t *testing.T) {
	t.Run("shorter into longer", func(t *testing.T) {
		b1 := NewBuffer(testData)
		b2 := NewBuffer(testData3)
		b1.HTPMerge(b2)
		assert.Equal(t, mergeResult, b1.Bytes())
	})

	t.Run("longer into shorter", func(t *testing.T) {
		b1 := NewBuffer(testData3)
		b2 := NewBuffer(testData2)
		b1.HTPMerge(b2)
		assert.Equal(t, mergeResult2, b1.Bytes())
	})

	t.Run("commutative", func(t *testing.T) {
		a := NewBuffer(testData)
		b := NewBuffer(testData2)
		ab := a.Clone()
		ab.HTPMerge(b)
		ba := b.Clone()
		ba.HTPMerge(a)
		assert.True(t, ab.Equal(ba))
	})

	t.Run("idempotent", func(t *testing.T) {
		a := NewBuffer(testData2)
		b := NewBuffer(testData2)
		a.HTPMerge(b)
		assert.Equal(t, testData2, a.Bytes())
	})

	t.Run("empty into buffer", func(t *testing.T) {
		a := NewBuffer(testData)
		var empty Buffer
		a.HTPMerge(empty)
		assert.Equal(t, testData, a.Bytes())
	})

	t.Run("buffer into empty", func(t *testing.T) {
		var a Buffer
		a.HTPMerge(NewBuffer(testData))
		assert.Equal(t, testData, a.Bytes())
	})

	t.Run("source is not modified", func(t *testing.T) {
		a := NewBuffer(testData)
		b := NewBuffer(testData3)
		a.HTPMerge(b)
		assert.Equal(t, testData3, b.Bytes())
	})
}

func TestSetFromString(t *testing.T) {
	tests := []struct {
		input string
		want  []byte
	}{
		{"1,2,3,4", []byte{1, 2, 3, 4}},
		{"a,b,c,", []byte{0, 0, 0, 0}},
		{"a,b,c,d", []byte{0, 0, 0, 0}},
		{"255,,,", []byte{255, 0, 0, 0}},
		{"255,,,10", []byte{255, 0, 0, 10}},
		{" 266,,,10  ", []byte{10, 0, 0, 10}},
		{"", []byte{}},
		{"   ", []byte{}},
		{"0", []byte{0}},
		{"5 ,6", []byte{5, 6}},
		{"5x,6", []byte{0, 6}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			b := NewBuffer(testData2)
			b.SetFromString(tt.input)
			assert.Equal(t, tt.want, b.Bytes())
		})
	}

	t.Run("caps at universe size", func(t *testing.T) {
		var b Buffer
		b.SetFromString(string(bytes.Repeat([]byte("1,"), Size+10)))
		assert.Equal(t, Size, b.Size())
	})
}

func TestString(t *testing.T) {
	b := NewBuffer(testData)
	assert.Equal(t, "1,2,3,4,5", b.String())

	var round Buffer
	round.SetFromString(b.String())
	assert.True(t, round.Equal(b))

	var empty Buffer
	assert.Equal(t, "", empty.String())
}

func TestSetRange(t *testing.T) {
	var b Buffer
	assert.ErrorIs(t, b.SetRange(0, nil), ErrNilData)
	assert.ErrorIs(t, b.SetRange(600, testData), ErrOffsetOutOfRange)
	assert.ErrorIs(t, b.SetRange(-1, testData), ErrOffsetOutOfRange)

	// An uninitialized buffer blacks out first.
	require.NoError(t, b.SetRange(0, testData))
	assert.Equal(t, Size, b.Size())
	assert.Equal(t, testData, b.Bytes()[:len(testData)])
	assert.Equal(t, byte(0), b.Get(len(testData)))

	// Writes past the last channel are truncated.
	require.NoError(t, b.SetRange(Size-2, testData))
	assert.Equal(t, Size, b.Size())
	assert.Equal(t, testData[:2], b.Bytes()[Size-2:])

	// After Reset only contiguous writes are accepted.
	b.Reset()
	require.NoError(t, b.SetRange(0, testData))
	assert.Equal(t, len(testData), b.Size())
	assert.Equal(t, testData, b.Bytes())

	assert.ErrorIs(t, b.SetRange(50, testData), ErrOffsetOutOfRange)
	assert.Equal(t, len(testData), b.Size())
	assert.Equal(t, testData, b.Bytes())

	// Overwrite within and beyond the valid range.
	require.NoError(t, b.SetRange(2, testData))
	assert.Equal(t, len(testData)+2, b.Size())
	assert.Equal(t, []byte{1, 2, 1, 2, 3, 4, 5}, b.Bytes())

	// Pure extension at offset == Size().
	b.Reset()
	require.NoError(t, b.SetRange(0, testData))
	require.NoError(t, b.SetRange(len(testData), testData))
	assert.Equal(t, 2*len(testData), b.Size())
	assert.Equal(t, append(append([]byte{}, testData...), testData...), b.Bytes())
}

func TestSetRangeToValue(t *testing.T) {
	var b Buffer
	assert.ErrorIs(t, b.SetRangeToValue(600, 50, 2), ErrOffsetOutOfRange)
	assert.ErrorIs(t, b.SetRangeToValue(0, 50, -1), ErrInvalidLength)

	require.NoError(t, b.SetRangeToValue(0, 50, 5))
	assert.Equal(t, Size, b.Size())
	assert.Equal(t, []byte{50, 50, 50, 50, 50}, b.Bytes()[:5])

	require.NoError(t, b.SetRangeToValue(Size-3, 9, 10))
	assert.Equal(t, []byte{9, 9, 9}, b.Bytes()[Size-3:])

	b.Reset()
	assert.ErrorIs(t, b.SetRangeToValue(10, 50, 5), ErrOffsetOutOfRange)
	require.NoError(t, b.SetRangeToValue(0, 50, 3))
	assert.Equal(t, []byte{50, 50, 50}, b.Bytes())
}

func TestSetChannel(t *testing.T) {
	var b Buffer
	b.SetChannel(1, 10)
	b.SetChannel(10, 50)

	expected := make([]byte, Size)
	expected[1] = 10
	expected[10] = 50
	assert.Equal(t, Size, b.Size())
	assert.Equal(t, expected, b.Bytes())

	b.SetChannel(999, 50)
	b.SetChannel(-1, 50)
	assert.Equal(t, expected, b.Bytes())

	// Channels past the valid length are ignored.
	require.NoError(t, b.Set(expected[:20]))
	b.SetChannel(30, 90)
	b.SetChannel(200, 10)
	b.SetChannel(20, 10)
	assert.Equal(t, 20, b.Size())
	assert.Equal(t, expected[:20], b.Bytes())

	// A reset buffer never grows through SetChannel.
	b.Reset()
	b.SetChannel(0, 1)
	assert.Equal(t, 0, b.Size())
}
