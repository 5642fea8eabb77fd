// Package tracking derives heading, speed and ETA from provider position
// fixes, and decides which fixes are worth persisting.
package tracking

import (
	"math"
	"time"

	"towing/internal/domain"
	"towing/internal/geo"
)

// EstimatorConfig holds the estimator thresholds.
type EstimatorConfig struct {
	HeadingNoiseFloorM float64
	SpeedWindow        int
	MinSpeedSamples    int
	MinSpeedKmh        float64
	MaxSpeedKmh        float64
	FallbackSpeedKmh   float64
	MaxSampleGap       time.Duration
}

// DefaultEstimatorConfig returns the reference thresholds.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		HeadingNoiseFloorM: 5,
		SpeedWindow:        10,
		MinSpeedSamples:    3,
		MinSpeedKmh:        1,
		MaxSpeedKmh:        200,
		FallbackSpeedKmh:   40,
		MaxSampleGap:       60 * time.Second,
	}
}

// Estimate is the derived state after one fix.
type Estimate struct {
	Lat             float64   `json:"lat"`
	Lng             float64   `json:"lng"`
	Heading         float64   `json:"heading"`
	HasHeading      bool      `json:"has_heading"`
	SpeedKmh        float64   `json:"speed_kmh"`
	HasTarget       bool      `json:"has_target"`
	RemainingMeters float64   `json:"remaining_m,omitempty"`
	EtaMinutes      int       `json:"eta_min,omitempty"`
	At              time.Time `json:"at"`
}

// Estimator is fed fixes of a single provider in arrival order.
// It is not safe for concurrent use.
type Estimator struct {
	cfg        EstimatorConfig
	prev       *domain.Fix
	heading    float64
	hasHeading bool
	samples    []float64
}

// NewEstimator creates an Estimator.
func NewEstimator(cfg EstimatorConfig) *Estimator {
	if cfg.SpeedWindow <= 0 {
		cfg.SpeedWindow = 1
	}
	return &Estimator{cfg: cfg, samples: make([]float64, 0, cfg.SpeedWindow)}
}

// Observe consumes a fix. target is the point being driven to, nil when unknown.
func (e *Estimator) Observe(fix domain.Fix, target *domain.Coordinates) Estimate {
	if e.prev != nil {
		dist := geo.DistanceMeters(e.prev.Lat, e.prev.Lng, fix.Lat, fix.Lng)
		if dist > e.cfg.HeadingNoiseFloorM {
			e.heading = geo.BearingDegrees(e.prev.Lat, e.prev.Lng, fix.Lat, fix.Lng)
			e.hasHeading = true
			e.sample(dist, fix.At.Sub(e.prev.At))
		}
	}
	f := fix
	e.prev = &f

	est := Estimate{
		Lat:        fix.Lat,
		Lng:        fix.Lng,
		Heading:    e.heading,
		HasHeading: e.hasHeading,
		SpeedKmh:   e.Speed(),
		At:         fix.At,
	}
	if target != nil {
		est.HasTarget = true
		est.RemainingMeters = geo.DistanceMeters(fix.Lat, fix.Lng, target.Lat, target.Lng)
		est.EtaMinutes = EtaMinutes(est.RemainingMeters, est.SpeedKmh)
	}
	return est
}

func (e *Estimator) sample(distM float64, elapsed time.Duration) {
	if elapsed <= 0 || elapsed >= e.cfg.MaxSampleGap {
		return
	}
	kmh := (distM / 1000) / elapsed.Hours()
	if kmh <= e.cfg.MinSpeedKmh || kmh >= e.cfg.MaxSpeedKmh {
		return
	}
	if len(e.samples) == e.cfg.SpeedWindow {
		e.samples = append(e.samples[:0], e.samples[1:]...)
	}
	e.samples = append(e.samples, kmh)
}

// Speed returns the rolling average, or the fallback while the window is short.
func (e *Estimator) Speed() float64 {
	if len(e.samples) < e.cfg.MinSpeedSamples || len(e.samples) == 0 {
		return e.cfg.FallbackSpeedKmh
	}
	var sum float64
	for _, s := range e.samples {
		sum += s
	}
	return sum / float64(len(e.samples))
}

// Samples returns a copy of the admitted speed samples, oldest first.
func (e *Estimator) Samples() []float64 {
	out := make([]float64, len(e.samples))
	copy(out, e.samples)
	return out
}

// EtaMinutes converts a remaining distance and speed into whole minutes,
// rounded up and never below one.
func EtaMinutes(remainingM, speedKmh float64) int {
	if speedKmh <= 0 || math.IsNaN(speedKmh) {
		return 1
	}
	minutes := math.Ceil((remainingM / 1000) / speedKmh * 60)
	if minutes < 1 || math.IsNaN(minutes) {
		return 1
	}
	return int(minutes)
}
