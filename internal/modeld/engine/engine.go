// Package engine abstracts the inference runtime that executes the driving
// model. The orchestrator binds inputs by name and reads one flat output
// vector per cycle; it never knows which backend is running.
package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/banshee-data/modeld/internal/modeld/modeldef"
)

var (
	// ErrUnboundInput is returned by Execute when a declared input has no
	// buffer.
	ErrUnboundInput = errors.New("engine: input not bound")
	// ErrUnknownInput is returned when binding a name the model does not
	// declare.
	ErrUnknownInput = errors.New("engine: unknown input")
	// ErrShape is returned when a bound buffer has the wrong length.
	ErrShape = errors.New("engine: input shape mismatch")
)

// Backend is the capability set every execution backend provides.
type Backend interface {
	// BindInput attaches an image input. A nil frame unbinds it.
	BindInput(name string, frame []byte) error
	// SetRuntimeBuffer attaches a numeric input. The engine reads the slice
	// at Execute time, so callers may keep mutating it between cycles.
	SetRuntimeBuffer(name string, data []float32) error
	// Execute runs the model over the bound inputs.
	Execute() error
	// ReadOutput returns the flat output of the last Execute. The slice is
	// owned by the backend and overwritten by the next Execute.
	ReadOutput() []float32
	// OutputSize is the length of the flat output.
	OutputSize() int
}

// Inputs is the frozen set of declared inputs and their current bindings.
// Backends embed it.
type Inputs struct {
	images  map[string]int
	numeric map[string]int
	frames  map[string][]byte
	buffers map[string][]float32
}

// NewInputs declares the image and numeric inputs of a model.
func NewInputs(images, numeric []modeldef.InputSpec) *Inputs {
	in := &Inputs{
		images:  make(map[string]int, len(images)),
		numeric: make(map[string]int, len(numeric)),
		frames:  make(map[string][]byte, len(images)),
		buffers: make(map[string][]float32, len(numeric)),
	}
	for _, s := range images {
		in.images[s.Name] = s.Len
	}
	for _, s := range numeric {
		in.numeric[s.Name] = s.Len
	}
	return in
}

// BindInput implements Backend.
func (in *Inputs) BindInput(name string, frame []byte) error {
	want, ok := in.images[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownInput, name)
	}
	if frame == nil {
		delete(in.frames, name)
		return nil
	}
	if want > 0 && len(frame) != want {
		return fmt.Errorf("%w: %q has %d bytes, want %d", ErrShape, name, len(frame), want)
	}
	in.frames[name] = frame
	return nil
}

// SetRuntimeBuffer implements Backend.
func (in *Inputs) SetRuntimeBuffer(name string, data []float32) error {
	want, ok := in.numeric[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownInput, name)
	}
	if len(data) != want {
		return fmt.Errorf("%w: %q has %d values, want %d", ErrShape, name, len(data), want)
	}
	in.buffers[name] = data
	return nil
}

// Check reports the first declared input that is not bound.
func (in *Inputs) Check() error {
	var missing []string
	for name := range in.images {
		if _, ok := in.frames[name]; !ok {
			missing = append(missing, name)
		}
	}
	for name := range in.numeric {
		if _, ok := in.buffers[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %v", ErrUnboundInput, missing)
}

// Frame returns the bound image for name.
func (in *Inputs) Frame(name string) []byte { return in.frames[name] }

// Buffer returns the bound numeric input for name.
func (in *Inputs) Buffer(name string) []float32 { return in.buffers[name] }

// Names returns every declared input name, sorted.
func (in *Inputs) Names() []string {
	out := make([]string, 0, len(in.images)+len(in.numeric))
	for n := range in.images {
		out = append(out, n)
	}
	for n := range in.numeric {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
