package processor

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingModule struct {
	countingModule
}

func (m *failingModule) ProcessFrame(_, _, _ image.Image) (image.Image, error) {
	return nil, errors.New("model unavailable")
}

func TestPreview_SkipsDecliningModules(t *testing.T) {
	r := NewRegistry(Options{SharpenSigma: -1})
	require.NoError(t, RegisterBuiltins(r))
	modules, err := r.Acquire([]string{Sharpen, Mirror})
	require.NoError(t, err)
	t.Cleanup(func() { r.Release(modules) })

	frame := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	frame.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	frame.SetNRGBA(1, 0, color.NRGBA{B: 255, A: 255})

	out, declined, err := Preview(nil, frame, modules)

	require.NoError(t, err)
	assert.Equal(t, []string{Sharpen}, declined)
	r0, _, b0, _ := out.At(0, 0).RGBA()
	assert.Zero(t, r0)
	assert.NotZero(t, b0, "mirror still applied after sharpen declined")

	// The same decline aborts a full run.
	assert.ErrorIs(t, modules[0].PreProcess(PurposeOutput), ErrDeclined)
}

func TestPreview_Errors(t *testing.T) {
	t.Run("nil frame", func(t *testing.T) {
		_, _, err := Preview(nil, nil, nil)
		assert.ErrorIs(t, err, ErrNilFrame)
	})

	t.Run("module failure", func(t *testing.T) {
		frame := image.NewNRGBA(image.Rect(0, 0, 1, 1))
		_, _, err := Preview(nil, frame, []Module{&failingModule{countingModule{name: "swap"}}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "swap")
	})

	t.Run("no modules", func(t *testing.T) {
		frame := image.NewNRGBA(image.Rect(0, 0, 1, 1))
		out, declined, err := Preview(nil, frame, nil)
		require.NoError(t, err)
		assert.Same(t, frame, out)
		assert.Empty(t, declined)
	})
}
