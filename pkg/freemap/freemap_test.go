package freemap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBacking is a growable byte slice.
type memBacking struct {
	data   []byte
	writes int
	fail   bool
}

func (m *memBacking) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, nil
	}
	return copy(p, m.data[off:]), nil
}

func (m *memBacking) WriteAt(_ context.Context, p []byte, off int64) (int, error) {
	if m.fail {
		return 0, errors.New("backing unavailable")
	}
	if end := off + int64(len(p)); end > int64(len(m.data)) {
		m.data = append(m.data, make([]byte, end-int64(len(m.data)))...)
	}
	m.writes++
	return copy(m.data[off:], p), nil
}

func TestFormatReservesSectors(t *testing.T) {
	f, err := Format(64, 0, 1)
	require.NoError(t, err)

	assert.True(t, f.IsUsed(0))
	assert.True(t, f.IsUsed(1))
	assert.False(t, f.IsUsed(2))
	assert.Equal(t, uint32(62), f.Free())
	assert.Equal(t, int64(8), f.ByteLen())

	_, err = Format(8, 8)
	assert.ErrorIs(t, err, ErrInvalidCount)
}

func TestAllocateFirstFit(t *testing.T) {
	ctx := context.Background()
	f, err := Format(16, 0, 1)
	require.NoError(t, err)

	s, err := f.Allocate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), s)

	s, err = f.Allocate(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), s)

	require.NoError(t, f.Release(ctx, 2, 1))
	s, err = f.Allocate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), s)

	_, err = f.Allocate(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidCount)
}

func TestAllocateExhaustion(t *testing.T) {
	ctx := context.Background()
	f := New(4)

	for range 4 {
		_, err := f.Allocate(ctx, 1)
		require.NoError(t, err)
	}
	_, err := f.Allocate(ctx, 1)
	assert.ErrorIs(t, err, ErrNoSpace)
	assert.Equal(t, uint32(0), f.Free())
}

func TestReleaseRejectsDoubleFree(t *testing.T) {
	ctx := context.Background()
	f := New(8)

	s, err := f.Allocate(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, f.Release(ctx, s, 2))

	assert.ErrorIs(t, f.Release(ctx, s, 1), ErrNotAllocated)
	assert.ErrorIs(t, f.Release(ctx, 7, 2), ErrInvalidCount)
}

func TestPersistAndLoad(t *testing.T) {
	ctx := context.Background()
	backing := &memBacking{}

	f, err := Format(40, 0, 1)
	require.NoError(t, err)
	require.NoError(t, f.Attach(ctx, backing))
	assert.Equal(t, 1, backing.writes)

	_, err = f.Allocate(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, backing.writes, "allocation writes through")

	g := New(40)
	require.NoError(t, g.Load(ctx, backing))
	assert.Equal(t, f.Free(), g.Free())
	for s := uint32(0); s < 5; s++ {
		assert.True(t, g.IsUsed(s), "sector %d", s)
	}
	assert.False(t, g.IsUsed(5))
}

func TestAllocateRollsBackOnPersistFailure(t *testing.T) {
	ctx := context.Background()
	backing := &memBacking{}

	f := New(8)
	require.NoError(t, f.Attach(ctx, backing))
	backing.fail = true

	_, err := f.Allocate(ctx, 2)
	require.Error(t, err)
	assert.Equal(t, uint32(8), f.Free())
}

func TestLoadShortRead(t *testing.T) {
	f := New(64)
	err := f.Load(context.Background(), &memBacking{data: []byte{1, 2}})
	assert.Error(t, err)
}
