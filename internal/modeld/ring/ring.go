// Package ring provides the fixed-capacity feature history used to give the
// driving model temporal context across cycles.
package ring

import "fmt"

// Buffer is a fixed number of fixed-width float32 rows stored contiguously.
// Row -1 is the most recent entry. Maintain shifts every row left by one and
// writes the new row at the tail, so the row count never changes and no
// memory is allocated after construction.
type Buffer struct {
	rows  int
	width int
	data  []float32
}

// New allocates a zero-filled buffer of rows × width.
func New(rows, width int) *Buffer {
	if rows < 1 || width < 1 {
		panic(fmt.Sprintf("ring: invalid shape %dx%d", rows, width))
	}
	return &Buffer{
		rows:  rows,
		width: width,
		data:  make([]float32, rows*width),
	}
}

// Len returns the row count. It is constant for the life of the buffer.
func (b *Buffer) Len() int { return b.rows }

// Width returns the row width.
func (b *Buffer) Width() int { return b.width }

// Maintain discards the oldest row and appends vec as the newest. A short
// vec is zero-padded; a long vec is truncated to the row width.
func (b *Buffer) Maintain(vec []float32) {
	copy(b.data, b.data[b.width:])
	tail := b.data[len(b.data)-b.width:]
	n := copy(tail, vec)
	clear(tail[n:])
}

// Row returns the row at index i. Negative indexes count back from the most
// recent row (-1). The returned slice aliases the buffer.
func (b *Buffer) Row(i int) []float32 {
	if i < 0 {
		i += b.rows
	}
	if i < 0 || i >= b.rows {
		panic(fmt.Sprintf("ring: row %d out of range [0,%d)", i, b.rows))
	}
	return b.data[i*b.width : (i+1)*b.width]
}

// Downsample writes count rows into dst, sampled backwards from the newest
// at offsets -stride, -2*stride, ... and laid out oldest first. dst must
// hold count*width values.
func (b *Buffer) Downsample(dst []float32, stride, count int) []float32 {
	if stride < 1 || count*stride > b.rows {
		panic(fmt.Sprintf("ring: downsample stride %d count %d exceeds %d rows", stride, count, b.rows))
	}
	dst = dst[:count*b.width]
	for k := 0; k < count; k++ {
		offset := -stride * (count - k)
		copy(dst[k*b.width:(k+1)*b.width], b.Row(offset))
	}
	return dst
}

// MaxPool reduces each run of group consecutive rows to their elementwise
// maximum, writing rows/group pooled rows into dst. The row count must be a
// multiple of group.
func (b *Buffer) MaxPool(dst []float32, group int) []float32 {
	if group < 1 || b.rows%group != 0 {
		panic(fmt.Sprintf("ring: cannot pool %d rows in groups of %d", b.rows, group))
	}
	out := b.rows / group
	dst = dst[:out*b.width]
	for g := 0; g < out; g++ {
		pooled := dst[g*b.width : (g+1)*b.width]
		copy(pooled, b.Row(g*group))
		for r := g*group + 1; r < (g+1)*group; r++ {
			row := b.Row(r)
			for i, v := range row {
				if v > pooled[i] {
					pooled[i] = v
				}
			}
		}
	}
	return dst
}

// Reset zeroes every row.
func (b *Buffer) Reset() {
	clear(b.data)
}
