package pricing

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/wattwindow/pkg/types"
	"gopkg.in/yaml.v3"
)

// SlotMinutes is the duration every observation stands for when building
// windows, regardless of how often the feed actually samples.
const SlotMinutes = 60

// Config holds the tunables of the pricing engine. It is passed by value so
// components can't mutate each other's copy; use the With* helpers to derive
// a modified one.
type Config struct {
	// DefaultBreakpoints are used when a zone has no price history.
	DefaultBreakpoints types.Breakpoints
	// LookbackDays is the trailing history used for percentiles.
	LookbackDays int

	// WakingStartHour and WakingEndHour bound, inclusively, the local hours
	// searched for the cheapest waking hour.
	WakingStartHour int
	WakingEndHour   int

	// A recommendation starting at or after TonightStartHour or before
	// TonightEndHour is framed as tonight.
	TonightStartHour int
	TonightEndHour   int

	defaultApplianceMinutes int
	appliances              map[string]int
}

// DefaultConfig returns the built in configuration.
func DefaultConfig() Config {
	return Config{
		DefaultBreakpoints: types.Breakpoints{P25: 25, P50: 35, P75: 45},
		LookbackDays:       30,
		WakingStartHour:    8,
		WakingEndHour:      23,
		TonightStartHour:   18,
		TonightEndHour:     6,

		defaultApplianceMinutes: 90,
		appliances: map[string]int{
			"dishwasher": 120,
			"laundry":    90,
			"dryer":      60,
		},
	}
}

// ApplianceProfile is the contiguous run time an appliance needs.
type ApplianceProfile struct {
	ID              string `json:"id" yaml:"id" toml:"id"`
	DurationMinutes int    `json:"durationMinutes" yaml:"minutes" toml:"minutes"`
}

// RequiredMinutes returns the run time for appliance, falling back to the
// default for unknown appliances.
func (c Config) RequiredMinutes(appliance string) int {
	if m, ok := c.appliances[strings.ToLower(strings.TrimSpace(appliance))]; ok {
		return m
	}
	return c.defaultApplianceMinutes
}

// DefaultApplianceMinutes returns the run time used for unknown appliances.
func (c Config) DefaultApplianceMinutes() int {
	return c.defaultApplianceMinutes
}

// Appliances returns the known appliance profiles sorted by id.
func (c Config) Appliances() []ApplianceProfile {
	out := make([]ApplianceProfile, 0, len(c.appliances))
	for id, m := range c.appliances {
		out = append(out, ApplianceProfile{ID: id, DurationMinutes: m})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// WithAppliances returns a copy of c using the given profiles. A
// defaultMinutes of 0 keeps the current default.
func (c Config) WithAppliances(profiles []ApplianceProfile, defaultMinutes int) (Config, error) {
	appliances := make(map[string]int, len(profiles))
	for _, p := range profiles {
		id := strings.ToLower(strings.TrimSpace(p.ID))
		if id == "" {
			return c, fmt.Errorf("appliance profile missing id")
		}
		if p.DurationMinutes <= 0 {
			return c, fmt.Errorf("appliance %s has invalid duration: %d", id, p.DurationMinutes)
		}
		appliances[id] = p.DurationMinutes
	}
	if defaultMinutes < 0 {
		return c, fmt.Errorf("invalid default appliance duration: %d", defaultMinutes)
	}
	c.appliances = appliances
	if defaultMinutes > 0 {
		c.defaultApplianceMinutes = defaultMinutes
	}
	return c, nil
}

type applianceFile struct {
	DefaultMinutes int                `yaml:"defaultMinutes" toml:"defaultMinutes"`
	Appliances     []ApplianceProfile `yaml:"appliances" toml:"appliances"`
}

// LoadAppliances reads appliance profiles from a YAML or TOML file, picked by
// extension, and returns a copy of c using them.
func (c Config) LoadAppliances(path string) (Config, error) {
	var f applianceFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &f); err != nil {
			return c, fmt.Errorf("failed to decode appliance profiles: %w", err)
		}
	case ".yaml", ".yml":
		b, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("failed to read appliance profiles: %w", err)
		}
		if err := yaml.Unmarshal(b, &f); err != nil {
			return c, fmt.Errorf("failed to decode appliance profiles: %w", err)
		}
	default:
		return c, fmt.Errorf("unsupported appliance profile file: %s", path)
	}
	return c.WithAppliances(f.Appliances, f.DefaultMinutes)
}

// Configured returns the configuration built from flags. The returned value
// is only populated after lflag.Configure runs.
func Configured() *Config {
	cfg := DefaultConfig()
	c := &cfg
	profiles := lflag.String("appliance-profiles", "", "Path to a YAML or TOML file of appliance run times")
	lookback := lflag.Duration("percentile-lookback", time.Duration(cfg.LookbackDays)*24*time.Hour, "Trailing history used to compute price percentiles, rounded down to whole days")

	lflag.Do(func() {
		days := int(*lookback / (24 * time.Hour))
		if days <= 0 {
			panic(fmt.Sprintf("invalid percentile-lookback (%s): must be at least 24h", *lookback))
		}
		c.LookbackDays = days
		if *profiles != "" {
			loaded, err := c.LoadAppliances(*profiles)
			if err != nil {
				panic(fmt.Sprintf("failed to load appliance-profiles (%s): %v", *profiles, err))
			}
			*c = loaded
		}
	})

	return c
}
