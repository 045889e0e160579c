package vmem

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestGuardEnv(t *testing.T) (*ErrorStack, *Arena, *[]int) {
	t.Helper()
	s := NewErrorStack(nil, false)
	codes := exitRecorder(s)
	temp, err := NewArena(NewHeap(0, nil), ArenaConfig{}, nil)
	require.NoError(t, err)
	temp.onError = s.Raise
	return s, temp, codes
}

func TestGuardedRestoresWatermark(t *testing.T) {
	s, temp, codes := newTestGuardEnv(t)
	w := temp.Save()

	ok := Guarded(s, temp, func() error {
		b, err := temp.Alloc(100)
		if err != nil {
			return err
		}
		copy(b, "scratch")
		return errors.New("frame failed")
	})

	assert.False(t, ok)
	assert.Equal(t, w, temp.Save())
	assert.Equal(t, 0, s.Depth())
	assert.Empty(t, *codes)
}

func TestGuardedSuccess(t *testing.T) {
	s, temp, _ := newTestGuardEnv(t)
	w := temp.Save()

	ok := Guarded(s, temp, func() error {
		_, err := temp.Alloc(3000)
		if err != nil {
			return err
		}
		_, err = temp.Alloc(3000)
		return err
	})

	assert.True(t, ok)
	assert.Equal(t, w, temp.Save())
	assert.Equal(t, 2, temp.NumPages())
}

func TestGuardedCatchesAllocationFailure(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	s := NewErrorStack(zap.New(core), false)
	codes := exitRecorder(s)
	temp, err := NewArena(NewHeap(0, nil), ArenaConfig{}, nil)
	require.NoError(t, err)
	temp.onError = s.Raise

	var allocErr error
	ok := Guarded(s, temp, func() error {
		_, allocErr = temp.Alloc(temp.UsableSize() + 1)
		return allocErr
	})

	assert.False(t, ok)
	assert.True(t, errors.Is(allocErr, ErrTooLarge))
	assert.Empty(t, *codes)
	assert.Equal(t, 1, logs.FilterMessage("guarded block failed").Len(), "reported once")
}

func TestGuardedPanicStillLeaves(t *testing.T) {
	s, temp, _ := newTestGuardEnv(t)
	w := temp.Save()

	assert.Panics(t, func() {
		Guarded(s, temp, func() error {
			_, err := temp.Alloc(64)
			require.NoError(t, err)
			panic("bad frame")
		})
	})
	assert.Equal(t, w, temp.Save())
	assert.Equal(t, 0, s.Depth())
}

func TestGuardNested(t *testing.T) {
	s, temp, codes := newTestGuardEnv(t)

	outer := NewGuard(s, temp)
	_, err := temp.Alloc(32)
	require.NoError(t, err)
	mid := temp.Save()

	innerOK := Guarded(s, temp, func() error {
		_, err := temp.Alloc(32)
		require.NoError(t, err)
		return errors.New("inner")
	})
	assert.False(t, innerOK)
	assert.False(t, outer.Failed())
	assert.Equal(t, mid, temp.Save())

	s.Raise(errors.New("outer"))
	assert.True(t, outer.Failed())

	outer.Leave()
	outer.Leave()
	assert.Equal(t, 0, s.Depth())
	assert.Empty(t, *codes)
}

func TestErrorOutsideGuardIsFatal(t *testing.T) {
	_, temp, codes := newTestGuardEnv(t)
	_, err := temp.Alloc(temp.UsableSize() + 1)
	require.Error(t, err)
	assert.Equal(t, []int{1}, *codes)
}
