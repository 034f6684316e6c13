// Package modeldef holds the fixed tensor geometry of the driving model and
// the per-process feature flags that decide which inputs it declares.
//
// Everything here is frozen at startup: the engine's bound-input contract
// is derived from Flags once and never changes for the life of the process.
package modeldef

// Model geometry.
const (
	ModelFreq = 20 // cycles per second

	FeatureLen           = 512
	FullHistoryBufferLen = 99
	HistoryBufferLen     = 24

	DesireLen               = 8
	TrafficConventionLen    = 2
	LateralControlParamsLen = 2
	PrevDesiredCurvLen      = 1

	NavFeatureLen     = 256
	NavBuckets        = 50
	NavDirections     = 3
	NavInstructionLen = NavBuckets * NavDirections

	RadarTracksLen   = 64
	RadarTracksWidth = 3

	// HistoryStride is the number of high-rate samples per model-rate sample.
	HistoryStride = 4

	ModelWidth     = 512
	ModelHeight    = 256
	ModelFrameSize = ModelWidth * ModelHeight * 3 / 2
	// ImageHistory is the number of model frames stacked in one image input.
	ImageHistory = 2
)

// Desire indices in the model's desire vector.
const (
	DesireNone = iota
	DesireTurnLeft
	DesireTurnRight
	DesireLaneChangeLeft
	DesireLaneChangeRight
	DesireKeepLeft
	DesireKeepRight
)

// Engine input names.
const (
	InputImgs            = "input_imgs"
	BigInputImgs         = "big_input_imgs"
	Desire               = "desire"
	TrafficConvention    = "traffic_convention"
	LateralControlParams = "lateral_control_params"
	PrevDesiredCurv      = "prev_desired_curv"
	NavFeatures          = "nav_features"
	NavInstructions      = "nav_instructions"
	FeaturesBuffer       = "features_buffer"
	RadarTracks          = "radar_tracks"
)

// Flags is the immutable per-process capability set. Encoders and the
// engine receive it by pointer and never write to it.
type Flags struct {
	NavEnabled   bool
	RadarEnabled bool
	PoseDisabled bool
	SendRawPred  bool
}

// InputSpec names one numeric input and its flat length.
type InputSpec struct {
	Name string
	Len  int
}

// NumericInputs returns the numeric inputs the model declares for f, in
// binding order. Disabled channels are absent rather than zero-length.
func NumericInputs(f *Flags) []InputSpec {
	specs := []InputSpec{
		{Desire, DesireLen * (HistoryBufferLen + 1)},
		{TrafficConvention, TrafficConventionLen},
		{LateralControlParams, LateralControlParamsLen},
		{PrevDesiredCurv, PrevDesiredCurvLen * (HistoryBufferLen + 1)},
	}
	if f.NavEnabled {
		specs = append(specs,
			InputSpec{NavFeatures, NavFeatureLen},
			InputSpec{NavInstructions, NavInstructionLen},
		)
	}
	specs = append(specs, InputSpec{FeaturesBuffer, HistoryBufferLen * FeatureLen})
	if f.RadarEnabled {
		specs = append(specs, InputSpec{RadarTracks, RadarTracksLen * RadarTracksWidth})
	}
	return specs
}

// ImageInputs returns the image inputs, which are supplied per cycle by the
// frame preparation stage rather than owned by the orchestrator.
func ImageInputs() []InputSpec {
	return []InputSpec{
		{InputImgs, ModelFrameSize * ImageHistory},
		{BigInputImgs, ModelFrameSize * ImageHistory},
	}
}
