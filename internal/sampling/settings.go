// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sampling implements adaptive sampling: a rate estimator that keeps
// the kept-item rate near a target by adjusting a sampling percentage, and a
// chain stage that applies that percentage consistently per operation.
package sampling

import (
	"time"

	beaconerrors "github.com/tombee/beacon/pkg/errors"
)

// Settings configures an adaptive sampling estimator.
type Settings struct {
	// MaxItemsPerSecond is the target rate of kept items.
	// Default: 5
	MaxItemsPerSecond float64 `yaml:"max_items_per_second"`

	// InitialPercentage is the percentage used before the first evaluation.
	// Default: 100
	InitialPercentage float64 `yaml:"initial_percentage"`

	// MinPercentage is the lowest percentage the estimator will pick.
	// Default: 0.1
	MinPercentage float64 `yaml:"min_percentage"`

	// MaxPercentage is the highest percentage the estimator will pick.
	// Default: 100
	MaxPercentage float64 `yaml:"max_percentage"`

	// EvaluationInterval is how often the rate is re-estimated.
	// Default: 15s
	EvaluationInterval time.Duration `yaml:"evaluation_interval"`

	// DecreaseTimeout is the minimum time since the last change before the
	// percentage may go down.
	// Default: 2m
	DecreaseTimeout time.Duration `yaml:"decrease_timeout"`

	// IncreaseTimeout is the minimum time since the last change before the
	// percentage may go up.
	// Default: 15m
	IncreaseTimeout time.Duration `yaml:"increase_timeout"`

	// MovingAverageRatio weights the newest rate sample in the moving average.
	// Default: 0.25
	MovingAverageRatio float64 `yaml:"moving_average_ratio"`
}

// DefaultSettings returns the default estimator settings.
func DefaultSettings() Settings {
	return Settings{
		MaxItemsPerSecond:  5,
		InitialPercentage:  100,
		MinPercentage:      0.1,
		MaxPercentage:      100,
		EvaluationInterval: 15 * time.Second,
		DecreaseTimeout:    2 * time.Minute,
		IncreaseTimeout:    15 * time.Minute,
		MovingAverageRatio: 0.25,
	}
}

// Validate checks that the settings describe a usable estimator.
func (s Settings) Validate() error {
	switch {
	case s.MaxItemsPerSecond <= 0:
		return &beaconerrors.ConfigError{Key: "max_items_per_second", Reason: "must be positive"}
	case s.MinPercentage <= 0 || s.MinPercentage > 100:
		return &beaconerrors.ConfigError{Key: "min_percentage", Reason: "must be in (0, 100]"}
	case s.MaxPercentage < s.MinPercentage || s.MaxPercentage > 100:
		return &beaconerrors.ConfigError{Key: "max_percentage", Reason: "must be in [min_percentage, 100]"}
	case s.InitialPercentage < s.MinPercentage || s.InitialPercentage > s.MaxPercentage:
		return &beaconerrors.ConfigError{Key: "initial_percentage", Reason: "must be within [min_percentage, max_percentage]"}
	case s.EvaluationInterval <= 0:
		return &beaconerrors.ConfigError{Key: "evaluation_interval", Reason: "must be positive"}
	case s.DecreaseTimeout < 0 || s.IncreaseTimeout < 0:
		return &beaconerrors.ConfigError{Key: "decrease_timeout", Reason: "timeouts must not be negative"}
	case s.MovingAverageRatio <= 0 || s.MovingAverageRatio > 1:
		return &beaconerrors.ConfigError{Key: "moving_average_ratio", Reason: "must be in (0, 1]"}
	}
	return nil
}

// withDefaults fills zero fields from DefaultSettings.
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.MaxItemsPerSecond == 0 {
		s.MaxItemsPerSecond = d.MaxItemsPerSecond
	}
	if s.InitialPercentage == 0 {
		s.InitialPercentage = d.InitialPercentage
	}
	if s.MinPercentage == 0 {
		s.MinPercentage = d.MinPercentage
	}
	if s.MaxPercentage == 0 {
		s.MaxPercentage = d.MaxPercentage
	}
	if s.EvaluationInterval == 0 {
		s.EvaluationInterval = d.EvaluationInterval
	}
	if s.DecreaseTimeout == 0 {
		s.DecreaseTimeout = d.DecreaseTimeout
	}
	if s.IncreaseTimeout == 0 {
		s.IncreaseTimeout = d.IncreaseTimeout
	}
	if s.MovingAverageRatio == 0 {
		s.MovingAverageRatio = d.MovingAverageRatio
	}
	return s
}
