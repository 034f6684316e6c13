// Package lanechange turns driver blinker and steering input into the
// lane-change desire fed back to the model, using the model's own
// lane-change probability to detect completion.
package lanechange

import (
	"github.com/banshee-data/modeld/internal/modeld/livestate"
	"github.com/banshee-data/modeld/internal/modeld/modeldef"
)

// State is the lane-change phase.
type State int

const (
	StateOff State = iota
	StatePreLaneChange
	StateLaneChangeStarting
	StateLaneChangeFinishing
)

func (s State) String() string {
	switch s {
	case StateOff:
		return "off"
	case StatePreLaneChange:
		return "preLaneChange"
	case StateLaneChangeStarting:
		return "laneChangeStarting"
	case StateLaneChangeFinishing:
		return "laneChangeFinishing"
	}
	return "unknown"
}

// Direction is the side a lane change is headed.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionLeft
	DirectionRight
)

func (d Direction) String() string {
	switch d {
	case DirectionLeft:
		return "left"
	case DirectionRight:
		return "right"
	}
	return "none"
}

const (
	// DefaultMinSpeed is 20 mph in m/s.
	DefaultMinSpeed   = 8.9408
	maxLaneChangeTime = 10.0
	cycleDT           = 1.0 / modeldef.ModelFreq
)

var desires = map[Direction]map[State]int{
	DirectionNone: {},
	DirectionLeft: {
		StatePreLaneChange:       modeldef.DesireKeepLeft,
		StateLaneChangeStarting:  modeldef.DesireLaneChangeLeft,
		StateLaneChangeFinishing: modeldef.DesireLaneChangeLeft,
	},
	DirectionRight: {
		StatePreLaneChange:       modeldef.DesireKeepRight,
		StateLaneChangeStarting:  modeldef.DesireLaneChangeRight,
		StateLaneChangeFinishing: modeldef.DesireLaneChangeRight,
	},
}

// Helper is the lane-change collaborator the model cycle drives.
type Helper interface {
	// Desire is the desire index to encode into the next cycle.
	Desire() int
	Update(cs livestate.CarState, latActive bool, laneChangeProb float32, plan livestate.PlanContext)
	State() (State, Direction)
}

// DesireHelper is the stock Helper. It is advanced once per executed cycle.
type DesireHelper struct {
	state          State
	direction      Direction
	timer          float64
	llProb         float64
	keepPulseTimer float64
	prevOneBlinker bool
	desire         int
}

var _ Helper = (*DesireHelper)(nil)

func NewDesireHelper() *DesireHelper { return &DesireHelper{} }

func (h *DesireHelper) Desire() int { return h.desire }

func (h *DesireHelper) State() (State, Direction) { return h.state, h.direction }

func (h *DesireHelper) Update(cs livestate.CarState, latActive bool, laneChangeProb float32, plan livestate.PlanContext) {
	minSpeed := float32(DefaultMinSpeed)
	if plan.LaneChangeMinSpeed > 0 {
		minSpeed = plan.LaneChangeMinSpeed
	}
	oneBlinker := cs.LeftBlinker != cs.RightBlinker
	belowSpeed := cs.VEgo < minSpeed

	if !latActive || h.timer > maxLaneChangeTime {
		h.state = StateOff
		h.direction = DirectionNone
	} else {
		switch h.state {
		case StateOff:
			if oneBlinker && !h.prevOneBlinker && !belowSpeed {
				h.state = StatePreLaneChange
				h.llProb = 1
			}

		case StatePreLaneChange:
			h.direction = DirectionRight
			if cs.LeftBlinker {
				h.direction = DirectionLeft
			}
			torqueApplied := cs.SteeringPressed &&
				((cs.SteeringTorque > 0 && h.direction == DirectionLeft) ||
					(cs.SteeringTorque < 0 && h.direction == DirectionRight))
			blindspot := (cs.LeftBlindspot && h.direction == DirectionLeft) ||
				(cs.RightBlindspot && h.direction == DirectionRight)

			if !oneBlinker || belowSpeed {
				h.state = StateOff
				h.direction = DirectionNone
			} else if torqueApplied && !blindspot {
				h.state = StateLaneChangeStarting
			}

		case StateLaneChangeStarting:
			// Fade out the lane lines over half a second.
			h.llProb = max(h.llProb-2*cycleDT, 0)
			if laneChangeProb < 0.02 && h.llProb < 0.01 {
				h.state = StateLaneChangeFinishing
			}

		case StateLaneChangeFinishing:
			h.llProb = min(h.llProb+cycleDT, 1)
			if h.llProb > 0.99 {
				h.direction = DirectionNone
				if oneBlinker {
					h.state = StatePreLaneChange
				} else {
					h.state = StateOff
				}
			}
		}
	}

	if h.state == StateOff || h.state == StatePreLaneChange {
		h.timer = 0
	} else {
		h.timer += cycleDT
	}
	h.prevOneBlinker = oneBlinker

	h.desire = desires[h.direction][h.state]

	// Keep desires are sent as a one-second pulse so the model sees a
	// fresh onset while the driver holds the blinker.
	switch h.state {
	case StateOff, StateLaneChangeStarting:
		h.keepPulseTimer = 0
	case StatePreLaneChange:
		h.keepPulseTimer += cycleDT
		if h.keepPulseTimer > 1 {
			h.keepPulseTimer = 0
		} else if h.desire == modeldef.DesireKeepLeft || h.desire == modeldef.DesireKeepRight {
			h.desire = modeldef.DesireNone
		}
	}
}

// LaneLineProb is the lane-line confidence scale during a change.
func (h *DesireHelper) LaneLineProb() float64 { return h.llProb }
