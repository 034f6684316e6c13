package engine

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/banshee-data/modeld/internal/modeld/modeldef"
)

// Replay is a backend that plays back flat outputs recorded from a real
// model run. The recording is a sequence of little-endian float32 records,
// each outputSize values long. Playback wraps at the end of the file.
type Replay struct {
	*Inputs
	records [][]float32
	next    int
	out     []float32
}

// OpenReplay loads a recording from path.
func OpenReplay(path string, flags *modeldef.Flags, outputSize int) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	defer f.Close()
	return NewReplay(f, flags, outputSize)
}

// NewReplay reads every record from r.
func NewReplay(r io.Reader, flags *modeldef.Flags, outputSize int) (*Replay, error) {
	if outputSize <= 0 {
		return nil, fmt.Errorf("replay: invalid output size %d", outputSize)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read replay: %w", err)
	}
	recLen := outputSize * 4
	if len(raw) == 0 || len(raw)%recLen != 0 {
		return nil, fmt.Errorf("replay: %d bytes is not a whole number of %d-value records", len(raw), outputSize)
	}
	n := len(raw) / recLen
	records := make([][]float32, n)
	for i := range records {
		rec := make([]float32, outputSize)
		base := raw[i*recLen:]
		for j := range rec {
			rec[j] = math.Float32frombits(binary.LittleEndian.Uint32(base[j*4:]))
		}
		records[i] = rec
	}
	return &Replay{
		Inputs:  NewInputs(modeldef.ImageInputs(), modeldef.NumericInputs(flags)),
		records: records,
		out:     make([]float32, outputSize),
	}, nil
}

// WriteRecord appends one output record in the replay format.
func WriteRecord(w io.Writer, out []float32) error {
	buf := make([]byte, len(out)*4)
	for i, v := range out {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	_, err := w.Write(buf)
	return err
}

// Execute implements Backend.
func (r *Replay) Execute() error {
	if err := r.Check(); err != nil {
		return err
	}
	copy(r.out, r.records[r.next])
	r.next = (r.next + 1) % len(r.records)
	return nil
}

// ReadOutput implements Backend.
func (r *Replay) ReadOutput() []float32 { return r.out }

// OutputSize implements Backend.
func (r *Replay) OutputSize() int { return len(r.out) }

// Records returns the number of recorded outputs.
func (r *Replay) Records() int { return len(r.records) }
