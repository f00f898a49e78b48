// SPDX-License-Identifier: MIT

// Package tunables exposes the numeric constants the specification
// pins to specific values (poll intervals, strike thresholds, disk
// budget curve endpoints, default fps targets, drain windows) as
// overridable settings, loaded through koanf so an operator can tune
// them per-deployment with EWX_-prefixed environment variables without
// touching argv parsing.
package tunables

import (
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"
)

// Tunables holds every operationally-adjustable constant named in the
// specification. Field names match the spec's own vocabulary.
type Tunables struct {
	// Progress Watchdog (C3)
	WatchdogTickInterval   time.Duration `koanf:"watchdog_tick_interval"`
	TimeoutIntervals       int           `koanf:"timeout_intervals"` // half-seconds; 240 ~= 120s
	StrikeTerm             int           `koanf:"strike_term"`
	StrikeKill             int           `koanf:"strike_kill"`
	StrikeReap             int           `koanf:"strike_reap"`
	StrikeRestartThreshold int           `koanf:"strike_restart_threshold"` // restart triggers when strike_count > this

	// Child Process Supervisor (C2)
	SupervisorPollInterval time.Duration `koanf:"supervisor_poll_interval"`
	HandshakePollInterval  time.Duration `koanf:"handshake_poll_interval"`
	DeathObservationBudget time.Duration `koanf:"death_observation_budget"`

	// Cancellation drain (§5)
	DrainTermWindows []time.Duration `koanf:"-"` // not env-overridable; graduated 3/4/5/6/7s
	DrainKillTimeout time.Duration   `koanf:"drain_kill_timeout"`
	MaxConsecutiveSignals int        `koanf:"max_consecutive_signals"`

	// Job Planner (C5) FPS defaults
	DefaultTargetFPSLow  int `koanf:"default_target_fps_low"`
	DefaultTargetFPSHigh int `koanf:"default_target_fps_high"`
	UpgradeFPSThreshold  int `koanf:"upgrade_fps_threshold"`

	// Job Planner disk-space curve
	DiskFactorMin        float64 `koanf:"disk_factor_min"`  // factor at high bitrate
	DiskFactorMax        float64 `koanf:"disk_factor_max"`  // factor at low bitrate
	DiskBitrateLowMbps   float64 `koanf:"disk_bitrate_low_mbps"`
	DiskBitrateHighMbps  float64 `koanf:"disk_bitrate_high_mbps"`

	// Probe bounds (§4.5 step 2)
	ProbeMaxProbesizeBytes int64         `koanf:"probe_max_probesize_bytes"`
	ProbeMaxAnalyzeDur     time.Duration `koanf:"probe_max_analyze_duration"`
	ProbeMaxFpsFrames      int           `koanf:"probe_max_fps_frames"`

	// Stage Orchestrator (C4) decimation filter parameters. The spec
	// names "decimation max" and "decimation fraction" as per-child
	// StageParams fields (§3) without pinning their values; they are
	// exposed here like every other pinned constant rather than
	// hard-coded in the filter builder.
	DecimationMaxUp    int     `koanf:"decimation_max_up"`
	DecimationFracUp   float64 `koanf:"decimation_frac_up"`
	DecimationMaxDown  int     `koanf:"decimation_max_down"`
	DecimationFracDown float64 `koanf:"decimation_frac_down"`
}

// Defaults returns the specification's stated values.
func Defaults() Tunables {
	return Tunables{
		WatchdogTickInterval:   500 * time.Millisecond,
		TimeoutIntervals:       240,
		StrikeTerm:             1,
		StrikeKill:             7,
		StrikeReap:             13,
		StrikeRestartThreshold: 17,

		SupervisorPollInterval: 20 * time.Millisecond,
		HandshakePollInterval:  500 * time.Microsecond,
		DeathObservationBudget: 200 * time.Millisecond,

		DrainTermWindows: []time.Duration{
			3 * time.Second, 4 * time.Second, 5 * time.Second,
			6 * time.Second, 7 * time.Second,
		},
		DrainKillTimeout:      10 * time.Second,
		MaxConsecutiveSignals: 5,

		DefaultTargetFPSLow:  30,
		DefaultTargetFPSHigh: 60,
		UpgradeFPSThreshold:  50,

		DiskFactorMin:       20,
		DiskFactorMax:       100,
		DiskBitrateLowMbps:  45,
		DiskBitrateHighMbps: 180,

		ProbeMaxProbesizeBytes: 256 * 1024 * 1024,
		ProbeMaxAnalyzeDur:     30 * time.Second,
		ProbeMaxFpsFrames:      8 * 120,

		DecimationMaxUp:    12,
		DecimationFracUp:   0.33,
		DecimationMaxDown:  12,
		DecimationFracDown: 0.33,
	}
}

// Load returns Defaults() overridden by any EWX_-prefixed environment
// variable matching a koanf tag above, e.g. EWX_TIMEOUT_INTERVALS=180.
func Load() (Tunables, error) {
	t := Defaults()

	k := koanf.New(".")
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: "EWX_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "EWX_"))
			return key, value
		},
	}), nil); err != nil {
		return t, err
	}

	if err := k.Unmarshal("", &t); err != nil {
		return t, err
	}
	return t, nil
}
