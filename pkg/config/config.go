// Package config loads the plant's YAML configuration: OU channel
// parameters, diurnal demand constants, and register-map scales.
// Grounded on the teacher's pkg/config.Load (YAML/JSON loader) and
// cmd/timemachine/main.go's --config-yaml flattening helper, trimmed
// to a single YAML shape since this spec names no XML/JSON format.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ChannelParams parameterizes one Ornstein-Uhlenbeck channel.
type ChannelParams struct {
	Mean    float64 `yaml:"mean"`
	Theta   float64 `yaml:"theta"`
	Sigma   float64 `yaml:"sigma"`
	ClampLo float64 `yaml:"clamp_lo"`
	ClampHi float64 `yaml:"clamp_hi"`
}

// DiurnalParams parameterizes the two Gaussian demand bumps.
type DiurnalParams struct {
	MorningPeakHour   float64 `yaml:"morning_peak_hour"`
	AfternoonPeakHour float64 `yaml:"afternoon_peak_hour"`
	SigmaHours        float64 `yaml:"sigma_hours"`
	BaseFlow          float64 `yaml:"base_flow"`
	BumpAmplitude     float64 `yaml:"bump_amplitude"`
}

// DoseParams parameterizes the chlorine dose sawtooth.
type DoseParams struct {
	Period          float64 `yaml:"period_seconds"`
	Peak            float64 `yaml:"peak_mgl"`
	DecayRate       float64 `yaml:"decay_rate"`
	RainDecayFactor float64 `yaml:"rain_decay_factor"`
}

// RainParams parameterizes the Poisson rain-event scheduler.
type RainParams struct {
	MinIntervalHours float64 `yaml:"min_interval_hours"`
	MaxIntervalHours float64 `yaml:"max_interval_hours"`
	MinPeakNTU       float64 `yaml:"min_peak_ntu"`
	MaxPeakNTU       float64 `yaml:"max_peak_ntu"`
	MinDurationHours float64 `yaml:"min_duration_hours"`
	MaxDurationHours float64 `yaml:"max_duration_hours"`
}

// PlantParams parameterizes the filter/level/state-machine constants
// that spec.md §9 leaves to the implementer.
type PlantParams struct {
	FilterDPGainK       float64 `yaml:"filter_dp_gain_k"`
	FilterDPBackwashLow float64 `yaml:"filter_dp_backwash_low_kpa"`
	FilterDPTripKPa     float64 `yaml:"filter_dp_trip_kpa"`
	LevelDrainPctPerHr  float64 `yaml:"level_drain_pct_per_hour"`
	ReservoirVolumeM3   float64 `yaml:"reservoir_volume_m3"`
	TurbShutdownNTU     float64 `yaml:"turb_shutdown_ntu"`
	TurbRestartNTU      float64 `yaml:"turb_restart_ntu"`
	StartingDurationSec float64 `yaml:"starting_duration_seconds"`
	BackwashDurationSec float64 `yaml:"backwash_duration_seconds"`
}

// Config is the full plant configuration; any field absent from a
// loaded YAML file keeps Default()'s value. A channel listed under
// channels replaces that channel's parameters as a whole.
type Config struct {
	Channels map[string]ChannelParams `yaml:"channels"`
	Diurnal  DiurnalParams            `yaml:"diurnal"`
	Dose     DoseParams               `yaml:"dose"`
	Rain     RainParams               `yaml:"rain"`
	Plant    PlantParams              `yaml:"plant"`
}

// Default returns the built-in parameter set documented in DESIGN.md,
// chosen to satisfy the behavioural envelopes in spec.md §8.
func Default() *Config {
	return &Config{
		Channels: map[string]ChannelParams{
			"turb_raw":    {Mean: 3.0, Theta: 0.05, Sigma: 0.4, ClampLo: 0.1, ClampHi: 1000},
			"ph":          {Mean: 7.2, Theta: 0.08, Sigma: 0.03, ClampLo: 4, ClampHi: 10},
			"temperature": {Mean: 26.0, Theta: 0.01, Sigma: 0.08, ClampLo: 5, ClampHi: 40},
		},
		Diurnal: DiurnalParams{
			MorningPeakHour:   7.5,
			AfternoonPeakHour: 18.0,
			SigmaHours:        1.5,
			BaseFlow:          300,
			BumpAmplitude:     300,
		},
		Dose: DoseParams{
			Period:          900,
			Peak:            1.8,
			DecayRate:       0.0009,
			RainDecayFactor: 2.0,
		},
		Rain: RainParams{
			MinIntervalHours: 18,
			MaxIntervalHours: 36,
			MinPeakNTU:       200,
			MaxPeakNTU:       800,
			MinDurationHours: 2,
			MaxDurationHours: 8,
		},
		Plant: PlantParams{
			FilterDPGainK:       0.00004,
			FilterDPBackwashLow: 15,
			FilterDPTripKPa:     150,
			LevelDrainPctPerHr:  3.6,
			ReservoirVolumeM3:   5000,
			TurbShutdownNTU:     500,
			TurbRestartNTU:      400,
			StartingDurationSec: 60,
			BackwashDurationSec: 1200,
		},
	}
}

// Load reads a YAML plant configuration file and overlays it onto the
// defaults; fields absent from the file keep their default value.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	overlay := Default()
	if err := yaml.Unmarshal(data, overlay); err != nil {
		return nil, fmt.Errorf("config: failed to decode YAML: %w", err)
	}
	cfg.merge(overlay)
	return cfg, nil
}

func (c *Config) merge(o *Config) {
	for name, params := range o.Channels {
		if c.Channels == nil {
			c.Channels = map[string]ChannelParams{}
		}
		c.Channels[name] = params
	}
	if o.Diurnal != (DiurnalParams{}) {
		c.Diurnal = o.Diurnal
	}
	if o.Dose != (DoseParams{}) {
		c.Dose = o.Dose
	}
	if o.Rain != (RainParams{}) {
		c.Rain = o.Rain
	}
	if o.Plant != (PlantParams{}) {
		c.Plant = o.Plant
	}
}

// ExampleYAML is written by --generate-config, mirroring the teacher's
// cmd/timemachine/main.go exampleConfigYAML constant.
const ExampleYAML = `# Example plant configuration (all fields optional; unset fields keep
# their built-in default from pkg/config.Default()).

channels:
  turb_raw:
    mean: 3.0
    theta: 0.05
    sigma: 0.4
    clamp_lo: 0.1
    clamp_hi: 1000
  ph:
    mean: 7.2
    theta: 0.08
    sigma: 0.03
    clamp_lo: 4
    clamp_hi: 10
  temperature:
    mean: 26.0
    theta: 0.01
    sigma: 0.08
    clamp_lo: 5
    clamp_hi: 40

diurnal:
  morning_peak_hour: 7.5
  afternoon_peak_hour: 18.0
  sigma_hours: 1.5
  base_flow: 300
  bump_amplitude: 300

dose:
  period_seconds: 900
  peak_mgl: 1.8
  decay_rate: 0.0009
  rain_decay_factor: 2.0

rain:
  min_interval_hours: 18
  max_interval_hours: 36
  min_peak_ntu: 200
  max_peak_ntu: 800
  min_duration_hours: 2
  max_duration_hours: 8

plant:
  filter_dp_gain_k: 0.00004
  filter_dp_backwash_low_kpa: 15
  filter_dp_trip_kpa: 150
  level_drain_pct_per_hour: 3.6
  reservoir_volume_m3: 5000
  turb_shutdown_ntu: 500
  turb_restart_ntu: 400
  starting_duration_seconds: 60
  backwash_duration_seconds: 1200
`
