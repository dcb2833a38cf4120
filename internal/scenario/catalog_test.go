package scenario

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/pitch-labs/internal/domain"
)

const validYAML = `
id: custom
title: Custom
start_gauge: 30
conversion_threshold: 70
max_exchanges: 10
idle_timeout: 90s
`

const validTOML = `
id = "custom-toml"
title = "Custom TOML"
start_gauge = 60
conversion_threshold = 80
max_exchanges = 12

[drift]
interval = "1m"
delta = -2
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestBuiltinScenariosAreValid(t *testing.T) {
	c, err := New("", nil)
	require.NoError(t, err)

	ids := make([]string, 0)
	for _, sc := range c.List() {
		ids = append(ids, sc.ID)
		require.NoError(t, sc.Validate())
	}
	assert.Equal(t, []string{"accounting-firm", "fleet-telematics", "hr-software"}, ids)

	fleet, err := c.Get("fleet-telematics")
	require.NoError(t, err)
	require.NotNil(t, fleet.Drift)
	assert.Equal(t, domain.Duration(45*time.Second), fleet.Drift.Interval)
	assert.True(t, fleet.StickyConversion)
	assert.Equal(t, 0.40, fleet.TierSettings(domain.TierExpert).ReversalProbability)

	acc, err := c.Get("accounting-firm")
	require.NoError(t, err)
	assert.Equal(t, domain.Duration(4*time.Minute), acc.IdleTimeout)
}

func TestParseFormats(t *testing.T) {
	sc, err := Parse("a.yaml", []byte(validYAML))
	require.NoError(t, err)
	assert.Equal(t, 30, *sc.StartGauge)
	assert.Equal(t, domain.Duration(90*time.Second), sc.IdleTimeout)

	sc, err = Parse("b.toml", []byte(validTOML))
	require.NoError(t, err)
	assert.Equal(t, "custom-toml", sc.ID)
	require.NotNil(t, sc.Drift)
	assert.Equal(t, -2, sc.Drift.Delta)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"unknown extension", "a.json", `{}`},
		{"missing start gauge", "a.yaml", "id: x\nconversion_threshold: 70\nmax_exchanges: 5\n"},
		{"unknown field", "a.yaml", validYAML + "colour: blue\n"},
		{"bad mood order", "a.yaml", validYAML + "mood_thresholds:\n  - {mood: neutral, min: 10}\n  - {mood: interested, min: 50}\n"},
		{"bad probability", "a.toml", validTOML + "\n[perturbations.easy]\nevent_probability = 2.0\n"},
		{"malformed", "a.yaml", "id: [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.file, []byte(tt.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidScenario), "got %v", err)
		})
	}
}

func TestDirectoryOverridesAndSkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "custom.yaml", validYAML)
	writeFile(t, dir, "nested/deep/custom.toml", validTOML)
	writeFile(t, dir, "broken.yml", "id: broken\n")
	writeFile(t, dir, "notes.txt", "ignored")
	writeFile(t, dir, "override.yaml", `
id: hr-software
title: Overridden
start_gauge: 10
conversion_threshold: 60
max_exchanges: 8
`)

	c, err := New(dir, nil)
	require.NoError(t, err)

	_, err = c.Get("custom")
	require.NoError(t, err)
	_, err = c.Get("custom-toml")
	require.NoError(t, err)
	_, err = c.Get("broken")
	assert.ErrorIs(t, err, domain.ErrScenarioNotFound)

	hr, err := c.Get("hr-software")
	require.NoError(t, err)
	assert.Equal(t, "Overridden", hr.Title)
	assert.Equal(t, filepath.Join(dir, "override.yaml"), c.Source("hr-software"))
	assert.Len(t, c.List(), 5)
}

func TestReloadKeepsLastGoodVersion(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "custom.yaml", validYAML)

	c, err := New(dir, nil)
	require.NoError(t, err)
	before, err := c.Get("custom")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(p, []byte("id: custom\nstart_gauge: 500\n"), 0o644))
	require.NoError(t, c.Reload())

	after, err := c.Get("custom")
	require.NoError(t, err)
	assert.Same(t, before, after)

	require.NoError(t, os.Remove(p))
	require.NoError(t, c.Reload())
	_, err = c.Get("custom")
	assert.ErrorIs(t, err, domain.ErrScenarioNotFound)
}

func TestNewFailsOnMissingDir(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent"), nil)
	assert.Error(t, err)
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx, 20*time.Millisecond) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// The watcher may not be registered yet; keep rewriting until it notices.
	require.Eventually(t, func() bool {
		writeFile(t, dir, "custom.yaml", validYAML)
		_, err := c.Get("custom")
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatchRequiresDir(t *testing.T) {
	c, err := New("", nil)
	require.NoError(t, err)
	assert.Error(t, c.Watch(context.Background(), 0))
}
