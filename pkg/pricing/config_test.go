package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 120, cfg.RequiredMinutes("dishwasher"))
	assert.Equal(t, 90, cfg.RequiredMinutes("laundry"))
	assert.Equal(t, 60, cfg.RequiredMinutes(" Dryer "))
	assert.Equal(t, 90, cfg.RequiredMinutes("oven"))
	assert.Equal(t, 90, cfg.RequiredMinutes(""))
	assert.Equal(t, 90, cfg.DefaultApplianceMinutes())
	assert.Equal(t, []ApplianceProfile{
		{ID: "dishwasher", DurationMinutes: 120},
		{ID: "dryer", DurationMinutes: 60},
		{ID: "laundry", DurationMinutes: 90},
	}, cfg.Appliances())
}

func TestWithAppliances(t *testing.T) {
	cfg := DefaultConfig()

	updated, err := cfg.WithAppliances([]ApplianceProfile{{ID: "EV", DurationMinutes: 240}}, 0)
	require.NoError(t, err)
	assert.Equal(t, 240, updated.RequiredMinutes("ev"))
	assert.Equal(t, 90, updated.RequiredMinutes("dishwasher"))
	// the original is untouched
	assert.Equal(t, 120, cfg.RequiredMinutes("dishwasher"))
	assert.Equal(t, 90, cfg.RequiredMinutes("ev"))

	_, err = cfg.WithAppliances([]ApplianceProfile{{ID: "", DurationMinutes: 10}}, 0)
	assert.Error(t, err)
	_, err = cfg.WithAppliances([]ApplianceProfile{{ID: "ev", DurationMinutes: 0}}, 0)
	assert.Error(t, err)
	_, err = cfg.WithAppliances(nil, -1)
	assert.Error(t, err)
}

func TestLoadAppliances(t *testing.T) {
	dir := t.TempDir()

	t.Run("YAML", func(t *testing.T) {
		path := filepath.Join(dir, "appliances.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
defaultMinutes: 45
appliances:
  - id: dishwasher
    minutes: 150
  - id: heat-pump-dryer
    minutes: 180
`), 0o600))

		cfg, err := DefaultConfig().LoadAppliances(path)
		require.NoError(t, err)
		assert.Equal(t, 150, cfg.RequiredMinutes("dishwasher"))
		assert.Equal(t, 180, cfg.RequiredMinutes("heat-pump-dryer"))
		assert.Equal(t, 45, cfg.RequiredMinutes("laundry"))
	})

	t.Run("TOML", func(t *testing.T) {
		path := filepath.Join(dir, "appliances.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
defaultMinutes = 75

[[appliances]]
id = "laundry"
minutes = 100
`), 0o600))

		cfg, err := DefaultConfig().LoadAppliances(path)
		require.NoError(t, err)
		assert.Equal(t, 100, cfg.RequiredMinutes("laundry"))
		assert.Equal(t, 75, cfg.RequiredMinutes("dryer"))
		assert.Equal(t, 75, cfg.DefaultApplianceMinutes())
	})

	t.Run("Unsupported", func(t *testing.T) {
		_, err := DefaultConfig().LoadAppliances(filepath.Join(dir, "appliances.json"))
		assert.ErrorContains(t, err, "unsupported appliance profile file")
	})

	t.Run("Invalid", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("appliances: [{id: x, minutes: -1}]"), 0o600))
		_, err := DefaultConfig().LoadAppliances(path)
		assert.Error(t, err)

		_, err = DefaultConfig().LoadAppliances(filepath.Join(dir, "missing.toml"))
		assert.Error(t, err)
	})
}
