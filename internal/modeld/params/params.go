// Package params reads persisted vehicle parameters written by the vehicle
// interface process.
package params

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/modeld/internal/monitoring"
	"github.com/banshee-data/modeld/internal/timeutil"
)

// KeyCarParams is the key the vehicle interface writes once it has
// fingerprinted the car.
const KeyCarParams = "CarParams"

// SteerDelayExtra pads the actuator delay to cover the rest of the control
// loop.
// TODO: replace with a measured end-to-end latency once the controls
// process publishes one.
const SteerDelayExtra = 0.2

// ErrNotFound is returned by Get when the key has not been written.
var ErrNotFound = errors.New("params: key not found")

// VehicleParams is the subset of car parameters the model cycle uses.
type VehicleParams struct {
	CarName            string  `json:"car_name"`
	SteerActuatorDelay float32 `json:"steer_actuator_delay"`
}

// SteerDelay is the lateral control delay fed to the model.
func (v VehicleParams) SteerDelay(extra float32) float32 {
	return v.SteerActuatorDelay + extra
}

// Demo returns parameters for a simulated car.
func Demo() VehicleParams {
	return VehicleParams{CarName: "mock", SteerActuatorDelay: 0.1}
}

// Store is a directory of one file per key.
type Store struct {
	Dir          string
	Clock        timeutil.Clock
	PollInterval time.Duration
	Log          *zap.SugaredLogger
}

// Get returns the value of key.
func (s *Store) Get(key string) ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(s.Dir, key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read param %s: %w", key, err)
	}
	return b, nil
}

// Put writes key atomically.
func (s *Store) Put(key string, value []byte) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create params dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.Dir, "."+key+".*")
	if err != nil {
		return fmt.Errorf("write param %s: %w", key, err)
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write param %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write param %s: %w", key, err)
	}
	return os.Rename(tmp.Name(), filepath.Join(s.Dir, key))
}

// GetBlocking polls until key exists or ctx ends.
func (s *Store) GetBlocking(ctx context.Context, key string) ([]byte, error) {
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	poll := s.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	logged := false
	for {
		b, err := s.Get(key)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if !logged {
			monitoring.Or(s.Log).Infow("waiting for param", "key", key, "dir", s.Dir)
			logged = true
		}
		if err := timeutil.SleepContext(ctx, clock, poll); err != nil {
			return nil, fmt.Errorf("waiting for param %s: %w", key, err)
		}
	}
}

// LoadVehicleParams blocks until CarParams is written and decodes it.
func (s *Store) LoadVehicleParams(ctx context.Context) (VehicleParams, error) {
	b, err := s.GetBlocking(ctx, KeyCarParams)
	if err != nil {
		return VehicleParams{}, err
	}
	var v VehicleParams
	if err := json.Unmarshal(b, &v); err != nil {
		return VehicleParams{}, fmt.Errorf("decode %s: %w", KeyCarParams, err)
	}
	return v, nil
}
