// Package livestate holds the latest value of every upstream topic the
// model cycle reads. Producers publish from any goroutine; the cycle pulls
// a consistent snapshot once per iteration with Update.
package livestate

import (
	"sync"

	"github.com/banshee-data/modeld/internal/modeld/encoders"
)

// Topic names an upstream message stream.
type Topic string

const (
	TopicCarState              Topic = "carState"
	TopicCarControl            Topic = "carControl"
	TopicDeviceState           Topic = "deviceState"
	TopicRoadCameraState       Topic = "roadCameraState"
	TopicLiveCalibration       Topic = "liveCalibration"
	TopicDriverMonitoringState Topic = "driverMonitoringState"
	TopicNavModel              Topic = "navModel"
	TopicNavInstruction        Topic = "navInstruction"
	TopicLiveTracks            Topic = "liveTracks"
	TopicPlanContext           Topic = "planContext"
)

// Topics lists every topic the cycle subscribes to.
var Topics = []Topic{
	TopicCarState, TopicCarControl, TopicDeviceState, TopicRoadCameraState,
	TopicLiveCalibration, TopicDriverMonitoringState, TopicNavModel,
	TopicNavInstruction, TopicLiveTracks, TopicPlanContext,
}

type CarState struct {
	VEgo            float32 `json:"v_ego"`
	LeftBlinker     bool    `json:"left_blinker"`
	RightBlinker    bool    `json:"right_blinker"`
	SteeringPressed bool    `json:"steering_pressed"`
	SteeringTorque  float32 `json:"steering_torque"`
	LeftBlindspot   bool    `json:"left_blindspot"`
	RightBlindspot  bool    `json:"right_blindspot"`
}

type CarControl struct {
	LatActive bool `json:"lat_active"`
}

type DeviceState struct {
	DeviceType string `json:"device_type"`
}

type RoadCameraState struct {
	FrameID uint32 `json:"frame_id"`
	Sensor  string `json:"sensor"`
}

// LiveCalibration carries device-from-calibration roll, pitch and yaw.
type LiveCalibration struct {
	RPYCalib [3]float32 `json:"rpy_calib"`
}

type DriverMonitoringState struct {
	IsRHD bool `json:"is_rhd"`
}

type NavModel struct {
	Features         []float32 `json:"features"`
	LocationMonoTime uint64    `json:"location_mono_time"`
}

type NavInstruction struct {
	AllManeuvers []encoders.Maneuver `json:"all_maneuvers"`
}

type LiveTracks struct {
	Tracks []encoders.Track `json:"tracks"`
}

// PlanContext is the planner state the lane-change helper consults.
type PlanContext struct {
	LaneChangeMinSpeed float32 `json:"lane_change_min_speed"`
	LaneWidthLeft      float32 `json:"lane_width_left"`
	LaneWidthRight     float32 `json:"lane_width_right"`
}

// Source is the pull interface the cycle reads through.
type Source interface {
	// Update takes a snapshot of everything published since the last call.
	Update()
	// Updated reports whether t received a message before the last Update.
	Updated(t Topic) bool
	// Seen reports whether t has ever received a message.
	Seen(t Topic) bool
	// Valid reports the producer's validity flag on the latest message.
	// Never-seen topics are not valid.
	Valid(t Topic) bool
	// Get returns the latest message on t, or nil.
	Get(t Topic) any
}

type entry struct {
	msg   any
	valid bool
}

// Hub is the in-process Source. The zero value is not usable; call NewHub.
type Hub struct {
	mu      sync.Mutex
	pending map[Topic]entry

	// Snapshot fields are only touched by the cycle goroutine.
	latest  map[Topic]entry
	updated map[Topic]bool
	seen    map[Topic]bool
}

func NewHub() *Hub {
	return &Hub{
		pending: make(map[Topic]entry),
		latest:  make(map[Topic]entry),
		updated: make(map[Topic]bool),
		seen:    make(map[Topic]bool),
	}
}

// Publish records msg as the newest value on t. Only the last message
// published between two Updates is kept.
func (h *Hub) Publish(t Topic, msg any, valid bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending[t] = entry{msg: msg, valid: valid}
}

func (h *Hub) Update() {
	h.mu.Lock()
	pending := h.pending
	h.pending = make(map[Topic]entry, len(pending))
	h.mu.Unlock()

	clear(h.updated)
	for t, e := range pending {
		h.latest[t] = e
		h.updated[t] = true
		h.seen[t] = true
	}
}

func (h *Hub) Updated(t Topic) bool { return h.updated[t] }

func (h *Hub) Seen(t Topic) bool { return h.seen[t] }

func (h *Hub) Valid(t Topic) bool { return h.latest[t].valid }

func (h *Hub) Get(t Topic) any { return h.latest[t].msg }

// Latest returns the newest message on t as a T, or the zero T when the
// topic has never been seen.
func Latest[T any](s Source, t Topic) T {
	v, _ := s.Get(t).(T)
	return v
}
