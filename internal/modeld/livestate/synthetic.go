package livestate

import (
	"context"
	"math"
	"time"

	"github.com/banshee-data/modeld/internal/timeutil"
)

// SyntheticDrive publishes plausible vehicle state for demo runs: a car
// cruising with gently varying speed, a calibrated road camera and a
// left-hand-traffic driver monitor.
type SyntheticDrive struct {
	Hub        *Hub
	Clock      timeutil.Clock
	Interval   time.Duration
	DeviceType string
	Sensor     string
}

// Run publishes every Interval until ctx ends.
func (s *SyntheticDrive) Run(ctx context.Context) error {
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	deviceType, sensor := s.DeviceType, s.Sensor
	if deviceType == "" {
		deviceType = "tici"
	}
	if sensor == "" {
		sensor = "ar0231"
	}

	s.Hub.Publish(TopicDeviceState, DeviceState{DeviceType: deviceType}, true)
	s.Hub.Publish(TopicDriverMonitoringState, DriverMonitoringState{}, true)
	s.Hub.Publish(TopicLiveCalibration, LiveCalibration{RPYCalib: [3]float32{0, 0.01, -0.005}}, true)

	for step := uint32(0); ; step++ {
		t := float64(step) * interval.Seconds()
		s.Hub.Publish(TopicCarState, CarState{VEgo: float32(25 + 2*math.Sin(t/10))}, true)
		s.Hub.Publish(TopicCarControl, CarControl{LatActive: true}, true)
		s.Hub.Publish(TopicRoadCameraState, RoadCameraState{FrameID: step, Sensor: sensor}, true)
		if err := timeutil.SleepContext(ctx, clock, interval); err != nil {
			return err
		}
	}
}
