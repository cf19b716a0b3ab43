package scanmatch

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration file.
type Config struct {
	MQTT       MQTTConfig       `yaml:"mqtt" json:"mqtt"`
	HTTP       HTTPConfig       `yaml:"http,omitempty" json:"http,omitempty"`
	Map        MapConfig        `yaml:"map" json:"map"`
	Robots     []RobotConfig    `yaml:"robots" json:"robots"`
	Matcher    MatcherConfig    `yaml:"matcher,omitempty" json:"matcher,omitempty"`
	Refiner    string           `yaml:"refiner,omitempty" json:"refiner,omitempty"` // correlative (default), icp, ndt
	Relocalize RelocalizeConfig `yaml:"relocalize,omitempty" json:"relocalize,omitempty"`

	// TrajectoryPath persists corrected-pose trajectories across restarts.
	TrajectoryPath string `yaml:"trajectoryPath,omitempty" json:"trajectoryPath,omitempty"`
}

// MQTTConfig holds MQTT connection settings.
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	ClientID      string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty" json:"publishPrefix,omitempty"`
	QoS           *int   `yaml:"qos,omitempty" json:"qos,omitempty"`
	Retain        *bool  `yaml:"retain,omitempty" json:"retain,omitempty"`
}

// HTTPConfig holds the debug HTTP server settings.
type HTTPConfig struct {
	Addr string `yaml:"addr,omitempty" json:"addr,omitempty"`
}

// MapConfig points at the occupancy map the service localizes against.
// The descriptor may be a local path or an http(s) URL; remote maps are
// fetched with FetchOccupancyMap.
type MapConfig struct {
	Descriptor string `yaml:"descriptor" json:"descriptor"`
}

// PoseConfig is a pose in configuration files: meters and degrees.
type PoseConfig struct {
	X        float64 `yaml:"x" json:"x"`
	Y        float64 `yaml:"y" json:"y"`
	ThetaDeg float64 `yaml:"thetaDeg" json:"thetaDeg"`
}

// Pose converts to the radian-valued runtime pose.
func (pc PoseConfig) Pose() Pose {
	return Pose{X: pc.X, Y: pc.Y, Theta: NormalizeAngle(pc.ThetaDeg * math.Pi / 180)}
}

// RobotConfig defines one robot from the config file.
type RobotConfig struct {
	ID        string      `yaml:"id" json:"id"`
	ScanTopic string      `yaml:"scanTopic" json:"scanTopic"`
	Initial   *PoseConfig `yaml:"initial,omitempty" json:"initial,omitempty"` // seed pose before the first match
}

// GetInitial returns the robot's configured seed pose, or the origin.
func (rc *RobotConfig) GetInitial() Pose {
	if rc.Initial != nil {
		return rc.Initial.Pose()
	}
	return Pose{}
}

// MatcherConfig tunes the correlative search. Angles are degrees in the
// file and converted to radians for the matcher. Unset fields fall back to
// the stock options.
type MatcherConfig struct {
	LinearSearchWindow         *float64 `yaml:"linearSearchWindow,omitempty" json:"linearSearchWindow,omitempty"`
	AngularSearchWindowDeg     *float64 `yaml:"angularSearchWindowDeg,omitempty" json:"angularSearchWindowDeg,omitempty"`
	TranslationDeltaCostWeight *float64 `yaml:"translationDeltaCostWeight,omitempty" json:"translationDeltaCostWeight,omitempty"`
	RotationDeltaCostWeight    *float64 `yaml:"rotationDeltaCostWeight,omitempty" json:"rotationDeltaCostWeight,omitempty"`
}

// Options resolves the configuration against the defaults.
func (mc *MatcherConfig) Options() MatcherOptions {
	opts := DefaultMatcherOptions()
	if mc == nil {
		return opts
	}
	if mc.LinearSearchWindow != nil {
		opts.LinearSearchWindow = *mc.LinearSearchWindow
	}
	if mc.AngularSearchWindowDeg != nil {
		opts.AngularSearchWindow = *mc.AngularSearchWindowDeg * math.Pi / 180
	}
	if mc.TranslationDeltaCostWeight != nil {
		opts.TranslationDeltaCostWeight = *mc.TranslationDeltaCostWeight
	}
	if mc.RotationDeltaCostWeight != nil {
		opts.RotationDeltaCostWeight = *mc.RotationDeltaCostWeight
	}
	return opts
}

// RelocalizeConfig tunes the low-score retry policy.
type RelocalizeConfig struct {
	Enabled         *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	ScoreThreshold  *float64 `yaml:"scoreThreshold,omitempty" json:"scoreThreshold,omitempty"`
	WindowGrowth    *float64 `yaml:"windowGrowth,omitempty" json:"windowGrowth,omitempty"`
	MaxAttempts     *int     `yaml:"maxAttempts,omitempty" json:"maxAttempts,omitempty"`
	DebounceSeconds *int     `yaml:"debounceSeconds,omitempty" json:"debounceSeconds,omitempty"`
}

// GetRobotByID returns the robot config for the given ID, or nil.
func (c *Config) GetRobotByID(id string) *RobotConfig {
	for i := range c.Robots {
		if c.Robots[i].ID == id {
			return &c.Robots[i]
		}
	}
	return nil
}

// GetPublishPrefix returns the configured pose-topic prefix or "carto".
func (mc *MQTTConfig) GetPublishPrefix() string {
	if mc.PublishPrefix != "" {
		return mc.PublishPrefix
	}
	return "carto"
}

// GetClientID returns the configured MQTT client ID or "carto-matcher".
func (mc *MQTTConfig) GetClientID() string {
	if mc.ClientID != "" {
		return mc.ClientID
	}
	return "carto-matcher"
}

// GetQoS returns the configured publish QoS or 0.
func (mc *MQTTConfig) GetQoS() byte {
	if mc.QoS != nil && *mc.QoS >= 0 && *mc.QoS <= 2 {
		return byte(*mc.QoS)
	}
	return 0
}

// GetRetain returns whether published poses should be retained. Retained is
// the default so late subscribers see the latest pose immediately.
func (mc *MQTTConfig) GetRetain() bool {
	return mc.Retain == nil || *mc.Retain
}

// GetAddr returns the configured HTTP listen address or ":8090".
func (hc *HTTPConfig) GetAddr() string {
	if hc.Addr != "" {
		return hc.Addr
	}
	return ":8090"
}

// GetEnabled returns whether relocalization is on. It defaults to on; the
// policy never fires anyway while scores stay above the threshold.
func (rc *RelocalizeConfig) GetEnabled() bool {
	return rc.Enabled == nil || *rc.Enabled
}

// GetScoreThreshold returns the score below which relocalization kicks in.
func (rc *RelocalizeConfig) GetScoreThreshold() float64 {
	if rc.ScoreThreshold != nil {
		return *rc.ScoreThreshold
	}
	return 0.4
}

// GetWindowGrowth returns the per-attempt search-window multiplier.
func (rc *RelocalizeConfig) GetWindowGrowth() float64 {
	if rc.WindowGrowth != nil && *rc.WindowGrowth > 1 {
		return *rc.WindowGrowth
	}
	return 2.0
}

// GetMaxAttempts returns how many widened retries are allowed per trigger.
func (rc *RelocalizeConfig) GetMaxAttempts() int {
	if rc.MaxAttempts != nil && *rc.MaxAttempts > 0 {
		return *rc.MaxAttempts
	}
	return 3
}

// GetDebounceSeconds returns the minimum spacing between relocalization
// triggers for one robot.
func (rc *RelocalizeConfig) GetDebounceSeconds() int {
	if rc.DebounceSeconds != nil && *rc.DebounceSeconds >= 0 {
		return *rc.DebounceSeconds
	}
	return 30
}

// LoadConfig loads the service configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	// Validate required fields
	if config.MQTT.Broker == "" {
		return nil, fmt.Errorf("mqtt.broker is required")
	}
	if config.Map.Descriptor == "" {
		return nil, fmt.Errorf("map.descriptor is required")
	}
	if len(config.Robots) == 0 {
		return nil, fmt.Errorf("at least one robot must be defined")
	}
	for i, rc := range config.Robots {
		if rc.ID == "" {
			return nil, fmt.Errorf("robots[%d].id is required", i)
		}
		if rc.ScanTopic == "" {
			return nil, fmt.Errorf("robots[%d].scanTopic is required for %s", i, rc.ID)
		}
	}
	switch config.Refiner {
	case "", "correlative", "icp", "ndt":
	default:
		return nil, fmt.Errorf("unknown refiner %q (want correlative, icp or ndt)", config.Refiner)
	}

	return &config, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
