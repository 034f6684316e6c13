// Package warp computes the calibration-driven transforms that map model
// input pixels onto camera pixels, and resamples camera frames into model
// frames with them.
package warp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/modeld/internal/modeld/modeldef"
)

// Transform is a row-major 3x3 homography from model pixels to camera
// pixels. The zero Transform means "not calibrated yet".
type Transform [9]float32

// IsZero reports whether t has not been computed.
func (t Transform) IsZero() bool { return t == Transform{} }

// Focal lengths and principal-point rows of the two model input frames.
const (
	MedModelFL  = 910.0
	MedModelCY  = 47.6
	SBigModelFL = 455.0
)

// viewFromDevice maps device axes (x forward, y left, z up) to camera view
// axes (x right, y down, z forward).
var viewFromDevice = mat.NewDense(3, 3, []float64{
	0, 1, 0,
	0, 0, 1,
	1, 0, 0,
})

func intrinsics(fl, cx, cy float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		fl, 0, cx,
		0, fl, cy,
		0, 0, 1,
	})
}

var (
	medModelIntrinsics  = intrinsics(MedModelFL, 0.5*modeldef.ModelWidth, MedModelCY)
	sbigModelIntrinsics = intrinsics(SBigModelFL, 0.5*modeldef.ModelWidth, 0.5*(modeldef.ModelHeight+MedModelCY))

	calibFromMedModel  = mustCalibFromModel(medModelIntrinsics)
	calibFromSBigModel = mustCalibFromModel(sbigModelIntrinsics)
)

func mustCalibFromModel(k *mat.Dense) *mat.Dense {
	var modelFromCalib, inv mat.Dense
	modelFromCalib.Mul(k, viewFromDevice)
	if err := inv.Inverse(&modelFromCalib); err != nil {
		panic(fmt.Sprintf("model intrinsics not invertible: %v", err))
	}
	return &inv
}

// RotFromEuler returns the rotation for roll, pitch and yaw applied in that
// order about fixed x, y and z axes.
func RotFromEuler(rpy [3]float32) *mat.Dense {
	cr, sr := math.Cos(float64(rpy[0])), math.Sin(float64(rpy[0]))
	cp, sp := math.Cos(float64(rpy[1])), math.Sin(float64(rpy[1]))
	cy, sy := math.Cos(float64(rpy[2])), math.Sin(float64(rpy[2]))

	rr := mat.NewDense(3, 3, []float64{1, 0, 0, 0, cr, -sr, 0, sr, cr})
	rp := mat.NewDense(3, 3, []float64{cp, 0, sp, 0, 1, 0, -sp, 0, cp})
	ry := mat.NewDense(3, 3, []float64{cy, -sy, 0, sy, cy, 0, 0, 0, 1})

	var out mat.Dense
	out.Product(ry, rp, rr)
	return &out
}

// GetWarpMatrix returns the model-to-camera transform for a camera with the
// given intrinsics, mounted with device-from-calibration angles rpy. bigModel
// selects the wide-angle model frame.
func GetWarpMatrix(rpy [3]float32, cam *mat.Dense, bigModel bool) Transform {
	calibFromModel := calibFromMedModel
	if bigModel {
		calibFromModel = calibFromSBigModel
	}
	var warp mat.Dense
	warp.Product(cam, viewFromDevice, RotFromEuler(rpy), calibFromModel)

	var t Transform
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			t[r*3+c] = float32(warp.At(r, c))
		}
	}
	return t
}

// Apply maps model pixel (u, v) to camera pixel coordinates. ok is false
// when the point falls behind the camera.
func (t Transform) Apply(u, v float64) (x, y float64, ok bool) {
	w := float64(t[6])*u + float64(t[7])*v + float64(t[8])
	if w <= 1e-9 {
		return 0, 0, false
	}
	x = (float64(t[0])*u + float64(t[1])*v + float64(t[2])) / w
	y = (float64(t[3])*u + float64(t[4])*v + float64(t[5])) / w
	return x, y, true
}
