package warp

import (
	"github.com/banshee-data/modeld/internal/modeld/modeldef"
	"github.com/banshee-data/modeld/internal/vision"
)

// Frame resamples camera buffers into model frames and keeps the last
// modeldef.ImageHistory of them stacked oldest first, which is the layout of
// one image input.
type Frame struct {
	width, height int
	frameSize     int
	history       []byte
}

// NewFrame returns a preparer for model-sized frames.
func NewFrame() *Frame {
	return newFrame(modeldef.ModelWidth, modeldef.ModelHeight, modeldef.ImageHistory)
}

func newFrame(w, h, history int) *Frame {
	size := w * h * 3 / 2
	f := &Frame{width: w, height: h, frameSize: size, history: make([]byte, size*history)}
	for i := 0; i < history; i++ {
		blank(f.history[i*size:(i+1)*size], w*h)
	}
	return f
}

// Prepare warps buf through t into the newest history slot and returns the
// full stacked input. The returned slice is reused by the next call. A zero
// transform or nil buffer yields a blank frame.
func (f *Frame) Prepare(buf *vision.Buffer, t Transform) []byte {
	copy(f.history, f.history[f.frameSize:])
	dst := f.history[len(f.history)-f.frameSize:]
	if buf == nil || t.IsZero() {
		blank(dst, f.width*f.height)
		return f.history
	}
	f.resample(dst, buf, t)
	return f.history
}

// Latest returns the newest model frame.
func (f *Frame) Latest() []byte {
	return f.history[len(f.history)-f.frameSize:]
}

func blank(dst []byte, lumaLen int) {
	clear(dst[:lumaLen])
	for i := lumaLen; i < len(dst); i++ {
		dst[i] = 128
	}
}

// resample does nearest-neighbour sampling of the NV12 source. Chroma is
// sampled once per 2x2 block at the block's top-left pixel.
func (f *Frame) resample(dst []byte, buf *vision.Buffer, t Transform) {
	stride := buf.Stride
	if stride <= 0 {
		stride = buf.Width
	}
	lumaLen := f.width * f.height
	srcLuma := stride * buf.Height
	for v := 0; v < f.height; v++ {
		row := dst[v*f.width : (v+1)*f.width]
		for u := 0; u < f.width; u++ {
			x, y, ok := t.Apply(float64(u), float64(v))
			sx, sy := int(x+0.5), int(y+0.5)
			off := sy*stride + sx
			if !ok || sx < 0 || sy < 0 || sx >= buf.Width || sy >= buf.Height || off >= len(buf.Data) {
				row[u] = 0
				continue
			}
			row[u] = buf.Data[off]
		}
	}

	uv := dst[lumaLen:]
	for v := 0; v < f.height/2; v++ {
		for u := 0; u < f.width/2; u++ {
			i := (v*(f.width/2) + u) * 2
			x, y, ok := t.Apply(float64(2*u), float64(2*v))
			sx, sy := int(x+0.5)/2, int(y+0.5)/2
			off := srcLuma + sy*stride + sx*2
			if !ok || x < 0 || y < 0 || sx >= buf.Width/2 || sy >= buf.Height/2 || off+1 >= len(buf.Data) {
				uv[i], uv[i+1] = 128, 128
				continue
			}
			uv[i], uv[i+1] = buf.Data[off], buf.Data[off+1]
		}
	}
}
