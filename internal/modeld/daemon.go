package modeld

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/modeld/internal/modeld/dropmon"
	"github.com/banshee-data/modeld/internal/modeld/encoders"
	"github.com/banshee-data/modeld/internal/modeld/lanechange"
	"github.com/banshee-data/modeld/internal/modeld/livestate"
	"github.com/banshee-data/modeld/internal/modeld/modeldef"
	"github.com/banshee-data/modeld/internal/modeld/outputs"
	"github.com/banshee-data/modeld/internal/modeld/params"
	"github.com/banshee-data/modeld/internal/modeld/publish"
	"github.com/banshee-data/modeld/internal/modeld/store"
	"github.com/banshee-data/modeld/internal/modeld/vsync"
	"github.com/banshee-data/modeld/internal/modeld/warp"
	"github.com/banshee-data/modeld/internal/monitoring"
	"github.com/banshee-data/modeld/internal/timeutil"
)

// FrameSource yields synchronised camera frames.
type FrameSource interface {
	Next() (vsync.Pair, bool)
}

// CycleRecorder receives a summary of every cycle that had a frame.
type CycleRecorder interface {
	Record(store.Cycle)
}

// Options are the collaborators a Daemon drives.
type Options struct {
	State     *State
	Frames    FrameSource
	Live      livestate.Source
	Helper    lanechange.Helper
	Publisher publish.Publisher

	Drops           dropmon.Config
	Vehicle         params.VehicleParams
	SteerDelayExtra float32
	// MainWide is set when the main stream is the wide camera.
	MainWide bool

	// Optional.
	Clock    timeutil.Clock
	Metrics  *monitoring.Metrics
	CycleLog CycleRecorder
	Log      *zap.SugaredLogger
}

// CycleResult describes one call to Step.
type CycleResult struct {
	// NoFrame is set when a camera ran dry; nothing else is populated.
	NoFrame      bool
	FrameID      uint32
	ExtraFrameID uint32
	OutOfSync    bool
	Drops        dropmon.Stats
	Executed     bool
	ExecTime     time.Duration
	Output       *outputs.ModelOutput
}

// Daemon runs the model cycle loop. It is not safe for concurrent use.
type Daemon struct {
	opts   Options
	flags  *modeldef.Flags
	drops  *dropmon.Monitor
	nav    *encoders.Nav
	radar  *encoders.Radar
	clock  timeutil.Clock
	log    *zap.SugaredLogger
	helper lanechange.Helper

	steerDelay     float32
	transformMain  warp.Transform
	transformExtra warp.Transform
	liveCalibSeen  bool
	cycles         uint64
}

// New validates opts and builds a Daemon.
func New(opts Options) (*Daemon, error) {
	switch {
	case opts.State == nil:
		return nil, errors.New("modeld: State is required")
	case opts.Frames == nil:
		return nil, errors.New("modeld: Frames is required")
	case opts.Live == nil:
		return nil, errors.New("modeld: Live is required")
	case opts.Publisher == nil:
		return nil, errors.New("modeld: Publisher is required")
	}
	d := &Daemon{
		opts:       opts,
		flags:      opts.State.flags,
		drops:      dropmon.New(opts.Drops),
		nav:        encoders.NewNav(opts.State.flags),
		radar:      encoders.NewRadar(opts.State.flags),
		clock:      opts.Clock,
		log:        monitoring.Or(opts.Log),
		helper:     opts.Helper,
		steerDelay: opts.Vehicle.SteerDelay(opts.SteerDelayExtra),
	}
	if d.clock == nil {
		d.clock = timeutil.RealClock{}
	}
	if d.helper == nil {
		d.helper = lanechange.NewDesireHelper()
	}
	return d, nil
}

// Cycles returns the number of cycles that had a frame.
func (d *Daemon) Cycles() uint64 { return d.cycles }

// LiveCalibSeen reports whether a calibration has been applied.
func (d *Daemon) LiveCalibSeen() bool { return d.liveCalibSeen }

// Transforms returns the current main and extra warp transforms.
func (d *Daemon) Transforms() (main, extra warp.Transform) {
	return d.transformMain, d.transformExtra
}

// Run steps until ctx ends or a cycle fails. Cancellation is only observed
// between cycles.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Infow("model cycle started", "steer_delay", d.steerDelay, "car", d.opts.Vehicle.CarName)
	for {
		select {
		case <-ctx.Done():
			d.log.Infow("model cycle stopped", "cycles", d.cycles)
			return nil
		default:
		}
		if _, err := d.Step(); err != nil {
			return err
		}
	}
}

// Step runs one cycle. Only an engine failure is returned as an error.
func (d *Daemon) Step() (CycleResult, error) {
	pair, ok := d.opts.Frames.Next()
	if !ok {
		d.opts.Metrics.ObserveCycle(monitoring.CycleNoFrame, 0, 0, 0, false)
		return CycleResult{NoFrame: true}, nil
	}
	res := CycleResult{
		FrameID:      pair.MainMeta.FrameID,
		ExtraFrameID: pair.ExtraMeta.FrameID,
		OutOfSync:    pair.OutOfSync,
	}

	live := d.opts.Live
	live.Update()
	in, roadCamFrameID := d.encode(live)

	res.Drops = d.drops.Update(res.FrameID)
	if res.Drops.PrepareOnly {
		d.log.Errorw("skipping model eval", "dropped", res.Drops.RawDropped, "frame_id", res.FrameID)
	}

	start := d.clock.Now()
	out, err := d.opts.State.Run(pair.Main, pair.Extra, d.transformMain, d.transformExtra, in, res.Drops.PrepareOnly)
	res.ExecTime = d.clock.Since(start)
	if err != nil {
		return res, err
	}

	if out != nil {
		res.Executed = true
		res.Output = out
		d.publish(live, pair, out, res, roadCamFrameID)
	}

	d.drops.Advance(res.FrameID)
	d.cycles++
	d.observe(res)
	return res, nil
}

func (d *Daemon) encode(live livestate.Source) (CycleInputs, uint32) {
	cs := livestate.Latest[livestate.CarState](live, livestate.TopicCarState)
	dm := livestate.Latest[livestate.DriverMonitoringState](live, livestate.TopicDriverMonitoringState)
	rcs := livestate.Latest[livestate.RoadCameraState](live, livestate.TopicRoadCameraState)

	in := CycleInputs{Desire: d.helper.Desire()}
	in.LateralControlParams = [2]float32{max(cs.VEgo, 0), d.steerDelay}

	if live.Updated(livestate.TopicLiveCalibration) && live.Seen(livestate.TopicRoadCameraState) && live.Seen(livestate.TopicDeviceState) {
		d.calibrate(live, rcs)
	}

	if dm.IsRHD {
		in.TrafficConvention[1] = 1
	} else {
		in.TrafficConvention[0] = 1
	}

	if d.nav.Enabled() {
		nm := livestate.Latest[livestate.NavModel](live, livestate.TopicNavModel)
		ni := livestate.Latest[livestate.NavInstruction](live, livestate.TopicNavInstruction)
		d.nav.Update(encoders.NavInput{
			Valid:               live.Valid(livestate.TopicNavModel),
			FeaturesUpdated:     live.Updated(livestate.TopicNavModel),
			Features:            nm.Features,
			InstructionsUpdated: live.Updated(livestate.TopicNavInstruction),
			Maneuvers:           ni.AllManeuvers,
		})
		in.NavFeatures = d.nav.Features()
		in.NavInstructions = d.nav.Instructions()
	}
	if d.radar.Enabled() {
		lt := livestate.Latest[livestate.LiveTracks](live, livestate.TopicLiveTracks)
		d.radar.Update(live.Updated(livestate.TopicLiveTracks), lt.Tracks)
		in.RadarTracks = d.radar.Tracks()
	}
	return in, rcs.FrameID
}

func (d *Daemon) calibrate(live livestate.Source, rcs livestate.RoadCameraState) {
	calib := livestate.Latest[livestate.LiveCalibration](live, livestate.TopicLiveCalibration)
	ds := livestate.Latest[livestate.DeviceState](live, livestate.TopicDeviceState)
	dc, err := warp.LookupDeviceCamera(ds.DeviceType, rcs.Sensor)
	if err != nil {
		d.log.Errorw("calibration ignored", "err", err)
		return
	}
	d.transformMain, d.transformExtra = warp.Transforms(dc, calib.RPYCalib, d.opts.MainWide)
	if !d.liveCalibSeen {
		d.log.Infow("live calibration applied", "device", ds.DeviceType, "sensor", rcs.Sensor, "rpy", calib.RPYCalib)
	}
	d.liveCalibSeen = true
}

func (d *Daemon) publish(live livestate.Source, pair vsync.Pair, out *outputs.ModelOutput, res CycleResult, roadCamFrameID uint32) {
	info := publish.FrameInfo{
		FrameID:          res.FrameID,
		FrameIDExtra:     res.ExtraFrameID,
		FrameIDRoadCam:   roadCamFrameID,
		FrameDropPerc:    float32(res.Drops.Ratio * 100),
		TimestampEOF:     pair.MainMeta.TimestampEOF,
		ModelExecSeconds: float32(res.ExecTime.Seconds()),
		LiveCalibSeen:    d.liveCalibSeen,
	}
	model, driving := publish.FillModelMsg(out, info)

	cs := livestate.Latest[livestate.CarState](live, livestate.TopicCarState)
	cc := livestate.Latest[livestate.CarControl](live, livestate.TopicCarControl)
	plan := livestate.Latest[livestate.PlanContext](live, livestate.TopicPlanContext)
	d.helper.Update(cs, cc.LatActive, out.LaneChangeProb(), plan)
	st, dir := d.helper.State()
	publish.SetLaneChange(model, driving, st, dir)

	pose := publish.FillPoseMsg(out, res.FrameID, res.Drops.RawDropped, pair.MainMeta.TimestampEOF, d.liveCalibSeen)

	p := d.opts.Publisher
	p.Publish(publish.TopicModelV2, model)
	p.Publish(publish.TopicDrivingModelData, driving)
	p.Publish(publish.TopicCameraOdometry, pose)
}

func (d *Daemon) observe(res CycleResult) {
	result := monitoring.CyclePublished
	if !res.Executed {
		result = monitoring.CyclePrepareOnly
	}
	d.opts.Metrics.ObserveCycle(result, res.Drops.RawDropped, res.Drops.Ratio, res.ExecTime, res.OutOfSync)

	if d.opts.CycleLog != nil {
		d.opts.CycleLog.Record(store.Cycle{
			FrameID:      res.FrameID,
			ExtraFrameID: res.ExtraFrameID,
			RawDropped:   res.Drops.RawDropped,
			DropRatio:    res.Drops.Ratio,
			PrepareOnly:  res.Drops.PrepareOnly,
			OutOfSync:    res.OutOfSync,
			ExecMs:       float64(res.ExecTime.Microseconds()) / 1000,
			Published:    res.Executed,
			MonoNs:       d.clock.Now().UnixNano(),
		})
	}
}

// String summarises the loop state for logs.
func (d *Daemon) String() string {
	return fmt.Sprintf("modeld{cycles=%d last_frame=%d calib=%v}", d.cycles, d.drops.LastFrameID(), d.liveCalibSeen)
}
