package livestate

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/banshee-data/modeld/internal/modeld/encoders"
	"github.com/banshee-data/modeld/internal/monitoring"
	"github.com/banshee-data/modeld/internal/serialmux"
)

// RadarStartCommands switch the track radar to JSON track output.
var RadarStartCommands = []string{"AX", "OJ", "OT"}

type wireTrack struct {
	DRel float32 `json:"d_rel"`
	YRel float32 `json:"y_rel"`
	VRel float32 `json:"v_rel"`
}

type wireTracks struct {
	Tracks []wireTrack `json:"tracks"`
}

// ParseTracks decodes one JSON track line from the radar.
func ParseTracks(line string) ([]encoders.Track, error) {
	var w wireTracks
	if err := json.Unmarshal([]byte(line), &w); err != nil {
		return nil, fmt.Errorf("decode radar tracks: %w", err)
	}
	out := make([]encoders.Track, len(w.Tracks))
	for i, t := range w.Tracks {
		out[i] = encoders.Track{DRel: t.DRel, YRel: t.YRel, VRel: t.VRel}
	}
	return out, nil
}

// RadarFeed publishes radar track lines read from a serial mux as
// liveTracks messages.
type RadarFeed struct {
	Mux serialmux.SerialMuxInterface
	Hub *Hub
	Log *zap.SugaredLogger
}

// Run subscribes to the mux and publishes until ctx ends or the mux closes
// the subscription. It does not start the mux's Monitor loop.
func (f *RadarFeed) Run(ctx context.Context) error {
	log := monitoring.Or(f.Log)
	id, lines := f.Mux.Subscribe()
	defer f.Mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch serialmux.ClassifyPayload(line) {
			case serialmux.EventTypeTracks:
				tracks, err := ParseTracks(line)
				if err != nil {
					log.Warnw("bad radar track line", "error", err)
					f.Hub.Publish(TopicLiveTracks, LiveTracks{}, false)
					continue
				}
				f.Hub.Publish(TopicLiveTracks, LiveTracks{Tracks: tracks}, true)
			case serialmux.EventTypeStatus:
				log.Debugw("radar status", "line", line)
			default:
				log.Debugw("unknown radar line", "line", line)
			}
		}
	}
}
