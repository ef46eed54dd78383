package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"raidline/internal/planner"
)

// Config models raidline.yml.
type Config struct {
	Raid     RaidConfig               `yaml:"raid" json:"raid"`
	Signals  map[string]SignalConfig  `yaml:"signals" json:"signals"`
	Dungeons map[string]DungeonConfig `yaml:"dungeons" json:"dungeons"`
	Auth     AuthConfig               `yaml:"auth" json:"auth"`
	Bridge   BridgeConfig             `yaml:"bridge" json:"bridge"`
	Server   ServerConfig             `yaml:"server" json:"server"`
	Log      LogConfig                `yaml:"log" json:"log"`
}

type RaidConfig struct {
	SignupDuration    time.Duration `yaml:"signup_duration" json:"signup_duration"`
	HeadcountDuration time.Duration `yaml:"headcount_duration" json:"headcount_duration"`
	TickInterval      time.Duration `yaml:"tick_interval" json:"tick_interval"`
	ConfirmTimeout    time.Duration `yaml:"confirm_timeout" json:"confirm_timeout"`
	PersistRetry      time.Duration `yaml:"persist_retry" json:"persist_retry"`
	AreaCeiling       int           `yaml:"area_ceiling" json:"area_ceiling"`
	AdmissionSignal   string        `yaml:"admission_signal" json:"admission_signal"`
	Grace             struct {
		Base time.Duration `yaml:"base" json:"base"`
		Step time.Duration `yaml:"step" json:"step"`
	} `yaml:"grace" json:"grace"`
}

type SignalConfig struct {
	Label           string `yaml:"label" json:"label"`
	Cap             int    `yaml:"cap" json:"cap"`
	HighDemandCap   int    `yaml:"high_demand_cap" json:"high_demand_cap"`
	EarlyAccess     bool   `yaml:"early_access" json:"early_access"`
	RevealsLocation bool   `yaml:"reveals_location" json:"reveals_location"`
	CreditCategory  string `yaml:"credit_category" json:"credit_category"`
}

type DungeonConfig struct {
	Name       string   `yaml:"name" json:"name"`
	Category   string   `yaml:"category" json:"category"`
	HighDemand bool     `yaml:"high_demand" json:"high_demand"`
	Signals    []string `yaml:"signals" json:"signals"`
}

type AuthConfig struct {
	AdminRoles []string `yaml:"admin_roles" json:"admin_roles"`
}

type BridgeConfig struct {
	URL     string        `yaml:"url" json:"url"`
	Secret  string        `yaml:"secret" json:"-"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	BasePath string `yaml:"base_path" json:"base_path"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with raidline init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault falls back to the default config when the file is missing.
func LoadOrDefault(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Raid.SignupDuration <= 0 {
		return fmt.Errorf("raid.signup_duration must be positive")
	}
	if c.Raid.HeadcountDuration <= 0 {
		return fmt.Errorf("raid.headcount_duration must be positive")
	}
	if c.Raid.TickInterval < 0 || c.Raid.ConfirmTimeout < 0 || c.Raid.PersistRetry < 0 {
		return fmt.Errorf("raid durations cannot be negative")
	}
	if c.Raid.Grace.Base < 0 || c.Raid.Grace.Step < 0 {
		return fmt.Errorf("raid.grace durations cannot be negative")
	}
	if c.Raid.AreaCeiling < 0 {
		return fmt.Errorf("raid.area_ceiling cannot be negative")
	}
	if len(c.Signals) == 0 {
		return fmt.Errorf("signals is required")
	}
	for kind, s := range c.Signals {
		if kind == "" {
			return fmt.Errorf("signals contains empty kind")
		}
		if s.Cap < 0 || s.HighDemandCap < 0 {
			return fmt.Errorf("signal %s has negative cap", kind)
		}
		if s.Cap == 0 && (s.EarlyAccess || s.RevealsLocation) {
			return fmt.Errorf("signal %s grants access but has no cap", kind)
		}
	}
	if c.Raid.AdmissionSignal == "" {
		return fmt.Errorf("raid.admission_signal is required")
	}
	if _, ok := c.Signals[c.Raid.AdmissionSignal]; !ok {
		return fmt.Errorf("raid.admission_signal %s is not a known signal", c.Raid.AdmissionSignal)
	}
	for name, d := range c.Dungeons {
		if name == "" {
			return fmt.Errorf("dungeons contains empty name")
		}
		for _, kind := range d.Signals {
			if _, ok := c.Signals[kind]; !ok {
				return fmt.Errorf("dungeon %s allows unknown signal %s", name, kind)
			}
		}
	}
	for _, role := range c.Auth.AdminRoles {
		if role == "" {
			return fmt.Errorf("auth.admin_roles contains empty role")
		}
	}
	return nil
}

// Planner builds the capacity planner for this config.
func (c *Config) Planner() planner.Planner {
	p := planner.Planner{
		GraceBase: c.Raid.Grace.Base,
		GraceStep: c.Raid.Grace.Step,
		Kinds:     make(map[string]planner.KindRule, len(c.Signals)),
		Dungeons:  make(map[string]planner.Dungeon, len(c.Dungeons)),
	}
	for kind, s := range c.Signals {
		p.Kinds[kind] = planner.KindRule{Cap: s.Cap, HighDemandCap: s.HighDemandCap}
	}
	for name, d := range c.Dungeons {
		p.Dungeons[name] = planner.Dungeon{Category: d.Category, HighDemand: d.HighDemand, Allowed: d.Signals}
	}
	return p
}

// Label returns the display name of a signal kind.
func (c *Config) Label(kind string) string {
	if s, ok := c.Signals[kind]; ok && s.Label != "" {
		return s.Label
	}
	return kind
}

// DungeonName returns the display name of a dungeon.
func (c *Config) DungeonName(dungeon string) string {
	if d, ok := c.Dungeons[dungeon]; ok && d.Name != "" {
		return d.Name
	}
	return dungeon
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "raidline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `raid:
  signup_duration: 5m
  headcount_duration: 15m
  tick_interval: 5s
  confirm_timeout: 60s
  persist_retry: 15s
  area_ceiling: 50
  admission_signal: join
  grace:
    base: 90s
    step: 1s

signals:
  join:
    label: "Join"
  key:
    label: "Key"
    cap: 2
    high_demand_cap: 1
    reveals_location: true
    credit_category: keys_popped
  vial:
    label: "Vial"
    cap: 1
    reveals_location: true
    credit_category: vials_popped
  rusher:
    label: "Rusher"
    cap: 3
    high_demand_cap: 2
    early_access: true
    reveals_location: true
  supporter:
    label: "Supporter"
    cap: 5
    high_demand_cap: 3
    early_access: true
    reveals_location: true

dungeons:
  void:
    name: "Void"
    category: void
    signals: [join, key, vial, supporter]
  cult:
    name: "Cultist Hideout"
    category: cult
    signals: [join, key, rusher, supporter]
  shatters:
    name: "The Shatters"
    category: shatters
    high_demand: true
    signals: [join, key, rusher, supporter]

auth:
  admin_roles: [admin, security]

bridge:
  url: ""
  timeout: 5s

server:
  addr: 127.0.0.1:8080
  base_path: /v0

log:
  level: info
  format: text
`
