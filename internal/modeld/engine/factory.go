package engine

import (
	"fmt"

	"github.com/banshee-data/modeld/internal/modeld/modeldef"
)

// Backend names accepted by New.
const (
	BackendSynthetic = "synthetic"
	BackendReplay    = "replay"
)

// New builds the backend selected at startup. replayPath is only read by
// the replay backend.
func New(kind, replayPath string, flags *modeldef.Flags, outputSize int) (Backend, error) {
	switch kind {
	case "", BackendSynthetic:
		return NewSynthetic(flags, outputSize, nil), nil
	case BackendReplay:
		if replayPath == "" {
			return nil, fmt.Errorf("replay backend requires a recording path")
		}
		return OpenReplay(replayPath, flags, outputSize)
	default:
		return nil, fmt.Errorf("unknown engine backend %q", kind)
	}
}
