package kapture

import (
	"fmt"
	"strconv"
)

// SensorTypeCamera is the sensor_type value for camera sensors.
const SensorTypeCamera = "camera"

// Sensor is one row of sensors.txt. Params holds the type-specific
// trailing fields verbatim; for cameras that is the camera model name
// followed by its numeric parameters.
type Sensor struct {
	ID     string
	Name   string
	Type   string
	Params []string
}

// Sensors indexes sensors by sensor_id.
type Sensors map[string]*Sensor

// Camera is the parsed form of a camera sensor's params.
type Camera struct {
	Model  string
	Width  int
	Height int
	// Model parameters after width/height (focal lengths, principal
	// point, distortion), in model order.
	Params []float64
}

// Camera parses the sensor params as a camera definition.
func (s *Sensor) Camera() (Camera, error) {
	if s.Type != SensorTypeCamera {
		return Camera{}, fmt.Errorf("sensor %s: type %q is not a camera", s.ID, s.Type)
	}
	if len(s.Params) < 3 {
		return Camera{}, fmt.Errorf("sensor %s: camera needs model, width, height", s.ID)
	}
	width, err := strconv.Atoi(s.Params[1])
	if err != nil {
		return Camera{}, fmt.Errorf("sensor %s: bad width %q", s.ID, s.Params[1])
	}
	height, err := strconv.Atoi(s.Params[2])
	if err != nil {
		return Camera{}, fmt.Errorf("sensor %s: bad height %q", s.ID, s.Params[2])
	}
	params := make([]float64, 0, len(s.Params)-3)
	for _, p := range s.Params[3:] {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return Camera{}, fmt.Errorf("sensor %s: bad camera param %q", s.ID, p)
		}
		params = append(params, v)
	}
	return Camera{
		Model:  s.Params[0],
		Width:  width,
		Height: height,
		Params: params,
	}, nil
}

// NewCameraSensor builds a camera sensor row from a parsed camera.
func NewCameraSensor(id, name string, cam Camera) *Sensor {
	params := []string{cam.Model, strconv.Itoa(cam.Width), strconv.Itoa(cam.Height)}
	for _, p := range cam.Params {
		params = append(params, strconv.FormatFloat(p, 'g', -1, 64))
	}
	return &Sensor{ID: id, Name: name, Type: SensorTypeCamera, Params: params}
}
