package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Serial     SerialConfig     `yaml:"serial"`
	Phase      PhaseConfig      `yaml:"phase"`
	Formation  FormationConfig  `yaml:"formation"`
	Unlock     UnlockConfig     `yaml:"unlock"`
	Kuramoto   KuramotoConfig   `yaml:"kuramoto"`
	Controller ControllerConfig `yaml:"controller"`
	Mock       MockConfig       `yaml:"mock"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port string `yaml:"port"`
}

// PhaseConfig contains phase engine tuning.
type PhaseConfig struct {
	Alpha              float32       `yaml:"alpha"`               // EMA smoothing factor
	HysteresisMargin   float32       `yaml:"hysteresis_margin"`   // dead band around phase boundaries
	StabilityThreshold time.Duration `yaml:"stability_threshold"` // time in phase before considered stable
}

// FormationConfig contains formation detector tuning.
type FormationConfig struct {
	CoherenceWindow   int     `yaml:"coherence_window"`   // field history samples used for coherence
	CoherenceScale    float32 `yaml:"coherence_scale"`    // empirical variance-to-coherence scale
	NegentropyWidth   float32 `yaml:"negentropy_width"`   // width factor of the negentropy kernel
	KappaThreshold    float32 `yaml:"kappa_threshold"`    // coherence threshold
	EtaThreshold      float32 `yaml:"eta_threshold"`      // negentropy threshold
	ActivityThreshold float32 `yaml:"activity_threshold"` // per-sensor activation level
	ActivityRequired  int     `yaml:"activity_required"`  // active sensor count required
}

// UnlockConfig contains unlock sequencer tuning.
type UnlockConfig struct {
	HighThreshold    float32       `yaml:"high_threshold"`
	LowThreshold     float32       `yaml:"low_threshold"`
	GateValue        float32       `yaml:"gate_value"`
	PassesRequired   int           `yaml:"passes_required"`
	SequenceTimeout  time.Duration `yaml:"sequence_timeout"`
	LockoutDuration  time.Duration `yaml:"lockout_duration"`
	DebounceInterval time.Duration `yaml:"debounce_interval"`
}

// KuramotoConfig contains oscillator network and PLL tuning.
type KuramotoConfig struct {
	BaseFrequency       float32 `yaml:"base_frequency"`       // Hz, natural frequency center
	BaseCoupling        float32 `yaml:"base_coupling"`        // K before magnetic modulation
	ProportionalGain    float32 `yaml:"proportional_gain"`    // PLL Kp
	IntegralGain        float32 `yaml:"integral_gain"`        // PLL Ki
	RelaxationTime      float32 `yaml:"relaxation_time"`      // seconds, phase relaxation constant
	SyncThreshold       float32 `yaml:"sync_threshold"`       // order parameter for synchronization
	LockTolerance       float32 `yaml:"lock_tolerance"`       // |phase error| for PLL lock, radians
	MagneticSensitivity float32 `yaml:"magnetic_sensitivity"` // coupling gain per uT of field magnitude
}

// ControllerConfig contains the two scheduler cadences.
type ControllerConfig struct {
	CycleInterval time.Duration `yaml:"cycle_interval"` // phase -> formation -> unlock cycle
	StepInterval  time.Duration `yaml:"step_interval"`  // oscillator integration step
}

// MockConfig contains mock device configuration.
type MockConfig struct {
	NoiseLevel    float32       `yaml:"noise_level"`    // per-channel noise amplitude
	Bias          float32       `yaml:"bias"`           // baseline field level
	SurgePeriod   time.Duration `yaml:"surge_period"`   // time between coherent episodes
	SurgeDuration time.Duration `yaml:"surge_duration"` // length of a coherent episode
	FrameRate     time.Duration `yaml:"frame_rate"`     // interval between frames
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port: "COM3", // Default for Windows, should be "/dev/ttyACM0" on Linux/Mac
		},
		Phase: PhaseConfig{
			Alpha:              0.1,
			HysteresisMargin:   0.02,
			StabilityThreshold: 500 * time.Millisecond,
		},
		Formation: FormationConfig{
			CoherenceWindow:   32,
			CoherenceScale:    3.16,
			NegentropyWidth:   36,
			KappaThreshold:    0.92,
			EtaThreshold:      0.6180339887, // inverse golden ratio
			ActivityThreshold: 0.3,
			ActivityRequired:  7,
		},
		Unlock: UnlockConfig{
			HighThreshold:    0.85,
			LowThreshold:     0.82,
			GateValue:        0.83,
			PassesRequired:   3,
			SequenceTimeout:  10 * time.Second,
			LockoutDuration:  5 * time.Second,
			DebounceInterval: 100 * time.Millisecond,
		},
		Kuramoto: KuramotoConfig{
			BaseFrequency:       2.0,
			BaseCoupling:        0.3514,
			ProportionalGain:    0.1,
			IntegralGain:        0.01,
			RelaxationTime:      2.0,
			SyncThreshold:       0.92,
			LockTolerance:       0.1,
			MagneticSensitivity: 0.0005,
		},
		Controller: ControllerConfig{
			CycleInterval: 50 * time.Millisecond,
			StepInterval:  5 * time.Millisecond,
		},
		Mock: MockConfig{
			NoiseLevel:    0.02,
			Bias:          0.2,
			SurgePeriod:   20 * time.Second,
			SurgeDuration: 5 * time.Second,
			FrameRate:     20 * time.Millisecond, // 50 frames per second
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Ensure minimum required fields are set (use defaults if missing)
	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}

	if c.Phase.Alpha <= 0 || c.Phase.Alpha > 1 {
		c.Phase.Alpha = def.Phase.Alpha
	}
	if c.Phase.HysteresisMargin <= 0 {
		c.Phase.HysteresisMargin = def.Phase.HysteresisMargin
	}
	if c.Phase.StabilityThreshold <= 0 {
		c.Phase.StabilityThreshold = def.Phase.StabilityThreshold
	}

	if c.Formation.CoherenceWindow <= 0 {
		c.Formation.CoherenceWindow = def.Formation.CoherenceWindow
	}
	if c.Formation.CoherenceScale <= 0 {
		c.Formation.CoherenceScale = def.Formation.CoherenceScale
	}
	if c.Formation.NegentropyWidth <= 0 {
		c.Formation.NegentropyWidth = def.Formation.NegentropyWidth
	}
	if c.Formation.KappaThreshold <= 0 || c.Formation.KappaThreshold > 1 {
		c.Formation.KappaThreshold = def.Formation.KappaThreshold
	}
	if c.Formation.EtaThreshold <= 0 || c.Formation.EtaThreshold > 1 {
		c.Formation.EtaThreshold = def.Formation.EtaThreshold
	}
	if c.Formation.ActivityThreshold <= 0 {
		c.Formation.ActivityThreshold = def.Formation.ActivityThreshold
	}
	if c.Formation.ActivityRequired <= 0 {
		c.Formation.ActivityRequired = def.Formation.ActivityRequired
	}

	if c.Unlock.HighThreshold <= 0 || c.Unlock.HighThreshold > 1 {
		c.Unlock.HighThreshold = def.Unlock.HighThreshold
	}
	if c.Unlock.LowThreshold <= 0 || c.Unlock.LowThreshold >= c.Unlock.HighThreshold {
		c.Unlock.LowThreshold = def.Unlock.LowThreshold
	}
	if c.Unlock.GateValue <= 0 {
		c.Unlock.GateValue = def.Unlock.GateValue
	}
	if c.Unlock.PassesRequired <= 0 {
		c.Unlock.PassesRequired = def.Unlock.PassesRequired
	}
	if c.Unlock.SequenceTimeout <= 0 {
		c.Unlock.SequenceTimeout = def.Unlock.SequenceTimeout
	}
	if c.Unlock.LockoutDuration <= 0 {
		c.Unlock.LockoutDuration = def.Unlock.LockoutDuration
	}
	if c.Unlock.DebounceInterval <= 0 {
		c.Unlock.DebounceInterval = def.Unlock.DebounceInterval
	}

	if c.Kuramoto.BaseFrequency <= 0 {
		c.Kuramoto.BaseFrequency = def.Kuramoto.BaseFrequency
	}
	if c.Kuramoto.BaseCoupling <= 0 {
		c.Kuramoto.BaseCoupling = def.Kuramoto.BaseCoupling
	}
	if c.Kuramoto.ProportionalGain <= 0 {
		c.Kuramoto.ProportionalGain = def.Kuramoto.ProportionalGain
	}
	if c.Kuramoto.IntegralGain <= 0 {
		c.Kuramoto.IntegralGain = def.Kuramoto.IntegralGain
	}
	if c.Kuramoto.RelaxationTime <= 0 {
		c.Kuramoto.RelaxationTime = def.Kuramoto.RelaxationTime
	}
	if c.Kuramoto.SyncThreshold <= 0 || c.Kuramoto.SyncThreshold > 1 {
		c.Kuramoto.SyncThreshold = def.Kuramoto.SyncThreshold
	}
	if c.Kuramoto.LockTolerance <= 0 {
		c.Kuramoto.LockTolerance = def.Kuramoto.LockTolerance
	}
	if c.Kuramoto.MagneticSensitivity <= 0 {
		c.Kuramoto.MagneticSensitivity = def.Kuramoto.MagneticSensitivity
	}

	if c.Controller.CycleInterval <= 0 {
		c.Controller.CycleInterval = def.Controller.CycleInterval
	}
	if c.Controller.StepInterval <= 0 {
		c.Controller.StepInterval = def.Controller.StepInterval
	}

	if c.Mock.FrameRate <= 0 {
		c.Mock.FrameRate = def.Mock.FrameRate
	}
	if c.Mock.SurgePeriod <= 0 {
		c.Mock.SurgePeriod = def.Mock.SurgePeriod
	}
	if c.Mock.SurgeDuration <= 0 {
		c.Mock.SurgeDuration = def.Mock.SurgeDuration
	}
}
