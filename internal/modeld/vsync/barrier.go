package vsync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/modeld/internal/monitoring"
	"github.com/banshee-data/modeld/internal/timeutil"
	"github.com/banshee-data/modeld/internal/vision"
)

// DefaultPollInterval spaces stream discovery and connection attempts.
const DefaultPollInterval = 100 * time.Millisecond

// Topology is the camera arrangement discovered at startup.
type Topology struct {
	MainStream vision.StreamType
	// MainWide is set when only the wide camera is published and it feeds
	// the main model input.
	MainWide bool
	// UseExtra is set when both road cameras are published.
	UseExtra bool
}

// Barrier blocks startup until the capture service is usable.
type Barrier struct {
	Service      vision.Service
	Clock        timeutil.Clock
	PollInterval time.Duration
	Log          *zap.SugaredLogger
}

func (b *Barrier) defaults() {
	if b.Clock == nil {
		b.Clock = timeutil.RealClock{}
	}
	if b.PollInterval <= 0 {
		b.PollInterval = DefaultPollInterval
	}
	b.Log = monitoring.Or(b.Log)
}

// Discover polls until at least one stream is available.
func (b *Barrier) Discover(ctx context.Context) (Topology, error) {
	b.defaults()
	for {
		avail := b.Service.AvailableStreams()
		if len(avail) > 0 {
			t := Topology{
				UseExtra: avail[vision.StreamWideRoad] && avail[vision.StreamRoad],
				MainWide: !avail[vision.StreamRoad],
			}
			t.MainStream = vision.StreamRoad
			if t.MainWide {
				t.MainStream = vision.StreamWideRoad
			}
			b.Log.Infow("camera streams available",
				"main", t.MainStream.String(), "use_extra", t.UseExtra)
			return t, nil
		}
		if err := timeutil.SleepContext(ctx, b.Clock, b.PollInterval); err != nil {
			return Topology{}, fmt.Errorf("waiting for camera streams: %w", err)
		}
	}
}

// Connect attaches to the main stream, then the extra stream when the
// topology uses one. The extra client is nil in single-camera mode.
func (b *Barrier) Connect(ctx context.Context, t Topology) (main, extra vision.Client, err error) {
	b.defaults()
	main = b.Service.Client(t.MainStream)
	if err := b.connect(ctx, main, t.MainStream); err != nil {
		return nil, nil, err
	}
	if !t.UseExtra {
		return main, nil, nil
	}
	extra = b.Service.Client(vision.StreamWideRoad)
	if err := b.connect(ctx, extra, vision.StreamWideRoad); err != nil {
		return nil, nil, err
	}
	return main, extra, nil
}

func (b *Barrier) connect(ctx context.Context, c vision.Client, st vision.StreamType) error {
	attempts := 1
	for !c.Connect(false) {
		if err := timeutil.SleepContext(ctx, b.Clock, b.PollInterval); err != nil {
			return fmt.Errorf("connecting to %s camera after %d attempts: %w", st, attempts, err)
		}
		attempts++
	}
	b.Log.Infow("connected camera", "stream", st.String(), "attempts", attempts)
	return nil
}
