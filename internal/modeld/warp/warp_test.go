package warp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/modeld/internal/modeld/modeldef"
	"github.com/banshee-data/modeld/internal/vision"
)

var identity = Transform{1, 0, 0, 0, 1, 0, 0, 0, 1}

func assertTransformNear(t *testing.T, want, got Transform, tol float64) {
	t.Helper()
	for i := range want {
		assert.InDelta(t, want[i], got[i], tol, "element %d", i)
	}
}

func TestRotFromEulerZeroIsIdentity(t *testing.T) {
	r := RotFromEuler([3]float32{})
	assert.True(t, mat.EqualApprox(r, mat.NewDiagDense(3, []float64{1, 1, 1}), 1e-12))
}

func TestRotFromEulerYaw(t *testing.T) {
	r := RotFromEuler([3]float32{0, 0, 1.5707964})
	// Forward (x) rotates onto left (y).
	var v mat.VecDense
	v.MulVec(r, mat.NewVecDense(3, []float64{1, 0, 0}))
	assert.InDelta(t, 0, v.AtVec(0), 1e-6)
	assert.InDelta(t, 1, v.AtVec(1), 1e-6)
}

func TestWarpWithModelIntrinsicsIsIdentity(t *testing.T) {
	got := GetWarpMatrix([3]float32{}, medModelIntrinsics, false)
	assertTransformNear(t, identity, got, 1e-5)

	got = GetWarpMatrix([3]float32{}, sbigModelIntrinsics, true)
	assertTransformNear(t, identity, got, 1e-5)
}

func TestTransformsUseWideIntrinsicsForWideMain(t *testing.T) {
	dc, err := LookupDeviceCamera("tici", "ar0231")
	require.NoError(t, err)
	rpy := [3]float32{0, 0.02, -0.01}

	road, extra := Transforms(dc, rpy, false)
	wideMain, extra2 := Transforms(dc, rpy, true)
	assert.NotEqual(t, road, wideMain)
	assert.Equal(t, extra, extra2)
	assert.Equal(t, GetWarpMatrix(rpy, dc.ECam.Intrinsics(), false), wideMain)

	// The model frame centre should land near the road camera centre.
	x, y, ok := road.Apply(modeldef.ModelWidth/2, MedModelCY)
	require.True(t, ok)
	assert.InDelta(t, float64(dc.FCam.Width)/2, x, 150)
	assert.InDelta(t, float64(dc.FCam.Height)/2, y, 150)
}

func TestLookupDeviceCameraUnknown(t *testing.T) {
	_, err := LookupDeviceCamera("tici", "imx999")
	require.Error(t, err)
}

func TestApplyBehindCamera(t *testing.T) {
	_, _, ok := Transform{1, 0, 0, 0, 1, 0, 0, 0, -1}.Apply(1, 1)
	assert.False(t, ok)
	x, y, ok := identity.Apply(3, 4)
	require.True(t, ok)
	assert.Equal(t, 3.0, x)
	assert.Equal(t, 4.0, y)
}

func source(w, h int, base byte) *vision.Buffer {
	data := make([]byte, w*h*3/2)
	for i := 0; i < w*h; i++ {
		data[i] = base + byte(i)
	}
	for i := w * h; i < len(data); i++ {
		data[i] = 60
	}
	return &vision.Buffer{Width: w, Height: h, Stride: w, Data: data}
}

func TestFramePrepareHistory(t *testing.T) {
	f := newFrame(8, 4, 2)
	size := 8 * 4 * 3 / 2

	out := f.Prepare(source(8, 4, 10), identity)
	require.Len(t, out, 2*size)
	assert.Equal(t, byte(0), out[0], "older slot starts blank")
	assert.Equal(t, byte(10), out[size])
	assert.Equal(t, byte(10+31), out[size+31])
	assert.Equal(t, byte(60), out[size+32], "chroma copied")

	out = f.Prepare(source(8, 4, 100), identity)
	assert.Equal(t, byte(10), out[0], "previous frame shifted to the older slot")
	assert.Equal(t, byte(100), out[size])
	assert.Equal(t, out[size:], f.Latest())
}

func TestFramePrepareUncalibratedIsBlank(t *testing.T) {
	f := newFrame(8, 4, 2)
	f.Prepare(source(8, 4, 10), identity)
	out := f.Prepare(source(8, 4, 10), Transform{})
	latest := out[len(out)-48:]
	assert.Equal(t, make([]byte, 32), latest[:32])
	for _, b := range latest[32:] {
		assert.Equal(t, byte(128), b)
	}
}

func TestFramePrepareOutOfBoundsIsBlack(t *testing.T) {
	f := newFrame(8, 4, 1)
	shift := Transform{1, 0, 100, 0, 1, 0, 0, 0, 1}
	out := f.Prepare(source(8, 4, 10), shift)
	assert.Equal(t, make([]byte, 32), out[:32])
}

func TestFramePrepareTruncatedBufferIsBlack(t *testing.T) {
	f := newFrame(8, 4, 1)
	src := source(8, 4, 10)
	src.Data = src.Data[:20]

	var out []byte
	require.NotPanics(t, func() { out = f.Prepare(src, identity) })
	assert.Equal(t, byte(10+19), out[19])
	assert.Equal(t, make([]byte, 12), out[20:32], "pixels past the data are black")
	for _, b := range out[32:] {
		assert.Equal(t, byte(128), b)
	}
}

func TestNewFrameModelSize(t *testing.T) {
	f := NewFrame()
	assert.Len(t, f.Prepare(nil, identity), modeldef.ModelFrameSize*modeldef.ImageHistory)
}
