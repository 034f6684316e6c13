package warp

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// CameraConfig is one camera's sensor geometry.
type CameraConfig struct {
	Width       int
	Height      int
	FocalLength float64
}

// Intrinsics returns the pinhole matrix with the principal point centred.
func (c CameraConfig) Intrinsics() *mat.Dense {
	return intrinsics(c.FocalLength, float64(c.Width)/2, float64(c.Height)/2)
}

// DeviceCamera pairs the road (fcam) and wide road (ecam) cameras of a
// device.
type DeviceCamera struct {
	FCam CameraConfig
	ECam CameraConfig
}

type deviceKey struct{ device, sensor string }

var (
	ar0231 = DeviceCamera{
		FCam: CameraConfig{Width: 1928, Height: 1208, FocalLength: 2648},
		ECam: CameraConfig{Width: 1928, Height: 1208, FocalLength: 567},
	}
	ox03c10 = ar0231
	os04c10 = DeviceCamera{
		FCam: CameraConfig{Width: 1344, Height: 760, FocalLength: 1141.5},
		ECam: CameraConfig{Width: 1344, Height: 760, FocalLength: 425.25},
	}

	deviceCameras = map[deviceKey]DeviceCamera{
		{"tici", "ar0231"}:  ar0231,
		{"tici", "ox03c10"}: ox03c10,
		{"tizi", "ar0231"}:  ar0231,
		{"tizi", "ox03c10"}: ox03c10,
		{"mici", "os04c10"}: os04c10,
		// Simulator and replay rigs report no sensor.
		{"pc", ""}: ar0231,
	}
)

// LookupDeviceCamera returns the cameras for a device type and road camera
// sensor.
func LookupDeviceCamera(deviceType, sensor string) (DeviceCamera, error) {
	dc, ok := deviceCameras[deviceKey{deviceType, sensor}]
	if !ok {
		return DeviceCamera{}, fmt.Errorf("unknown device camera %s/%s", deviceType, sensor)
	}
	return dc, nil
}

// Transforms computes the main and extra model transforms for a calibrated
// device. The main transform uses wide-camera intrinsics when the main
// stream is the wide camera; the extra transform always targets the
// wide-angle model frame.
func Transforms(dc DeviceCamera, rpy [3]float32, mainWide bool) (main, extra Transform) {
	mainCam := dc.FCam
	if mainWide {
		mainCam = dc.ECam
	}
	main = GetWarpMatrix(rpy, mainCam.Intrinsics(), false)
	extra = GetWarpMatrix(rpy, dc.ECam.Intrinsics(), true)
	return main, extra
}
