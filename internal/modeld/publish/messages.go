// Package publish builds the messages the model cycle emits and delivers
// them to in-process subscribers.
package publish

import (
	"github.com/banshee-data/modeld/internal/modeld/lanechange"
	"github.com/banshee-data/modeld/internal/modeld/outputs"
)

// Published topics.
const (
	TopicModelV2          = "modelV2"
	TopicDrivingModelData = "drivingModelData"
	TopicCameraOdometry   = "cameraOdometry"
)

// FrameInfo is the per-cycle synchronisation metadata stamped on every
// message.
type FrameInfo struct {
	FrameID          uint32  `json:"frame_id"`
	FrameIDExtra     uint32  `json:"frame_id_extra"`
	FrameIDRoadCam   uint32  `json:"frame_id_road_cam"`
	FrameDropPerc    float32 `json:"frame_drop_perc"`
	TimestampEOF     uint64  `json:"timestamp_eof"`
	ModelExecSeconds float32 `json:"model_execution_time"`
	LiveCalibSeen    bool    `json:"live_calib_seen"`
}

type LaneChangeMeta struct {
	LaneChangeState     string `json:"lane_change_state"`
	LaneChangeDirection string `json:"lane_change_direction"`
}

type ModelMeta struct {
	DesireState []float32 `json:"desire_state"`
	LaneChangeMeta
}

type ModelV2 struct {
	FrameInfo
	DesiredCurvature float32   `json:"desired_curvature"`
	Plan             []float32 `json:"plan"`
	LaneLines        []float32 `json:"lane_lines"`
	Meta             ModelMeta `json:"meta"`
	RawPredictions   []float32 `json:"raw_predictions,omitempty"`
}

type DrivingModelData struct {
	FrameInfo
	DesiredCurvature float32        `json:"desired_curvature"`
	Meta             LaneChangeMeta `json:"meta"`
}

type CameraOdometry struct {
	FrameID      uint32     `json:"frame_id"`
	TimestampEOF uint64     `json:"timestamp_eof"`
	Trans        [3]float32 `json:"trans"`
	Rot          [3]float32 `json:"rot"`
	TransStd     [3]float32 `json:"trans_std"`
	RotStd       [3]float32 `json:"rot_std"`
	Valid        bool       `json:"valid"`
}

// FillModelMsg builds the modelV2 and drivingModelData messages for one
// executed cycle. Lane-change fields are left empty for SetLaneChange.
func FillModelMsg(out *outputs.ModelOutput, info FrameInfo) (*ModelV2, *DrivingModelData) {
	var curv float32
	if len(out.DesiredCurvature) > 0 {
		curv = out.DesiredCurvature[0]
	}
	m := &ModelV2{
		FrameInfo:        info,
		DesiredCurvature: curv,
		Plan:             out.Plan,
		LaneLines:        out.LaneLines,
		Meta:             ModelMeta{DesireState: out.DesireState},
		RawPredictions:   out.RawPred,
	}
	d := &DrivingModelData{
		FrameInfo:        info,
		DesiredCurvature: curv,
	}
	return m, d
}

// SetLaneChange merges the helper's state into both model messages.
func SetLaneChange(m *ModelV2, d *DrivingModelData, st lanechange.State, dir lanechange.Direction) {
	lc := LaneChangeMeta{LaneChangeState: st.String(), LaneChangeDirection: dir.String()}
	m.Meta.LaneChangeMeta = lc
	d.Meta = lc
}

// FillPoseMsg builds the cameraOdometry message. The pose is only valid
// with a live calibration and no frames dropped since the last cycle.
func FillPoseMsg(out *outputs.ModelOutput, frameID uint32, droppedFrames int, timestampEOF uint64, liveCalibSeen bool) *CameraOdometry {
	c := &CameraOdometry{
		FrameID:      frameID,
		TimestampEOF: timestampEOF,
		Valid:        liveCalibSeen && droppedFrames < 1,
	}
	if out.Pose != nil {
		c.Trans = out.Pose.Trans
		c.Rot = out.Pose.Rot
		c.TransStd = out.Pose.TransStd
		c.RotStd = out.Pose.RotStd
	} else {
		c.Valid = false
	}
	return c
}
