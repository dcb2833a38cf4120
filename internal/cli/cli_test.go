package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/pitch-labs/internal/domain"
	"github.com/ashureev/pitch-labs/internal/store"
)

func executeCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	root := newRootCmd(viper.New())
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestScenariosListShowsBuiltins(t *testing.T) {
	stdout, _, err := executeCLI(t, "", "scenarios", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "accounting-firm")
	assert.Contains(t, stdout, "fleet-telematics")
	assert.Contains(t, stdout, "hr-software")
}

func TestScenariosListJSON(t *testing.T) {
	stdout, _, err := executeCLI(t, "", "scenarios", "list", "--json")
	require.NoError(t, err)

	var list []map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &list))
	assert.Len(t, list, 3)
}

func TestScenariosValidate(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("id: broken\nnot_a_field: 1\n"), 0o600))

	stdout, _, err := executeCLI(t, "", "scenarios", "validate",
		filepath.Join("..", "scenario", "defaults", "hr-software.yaml"), bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, errInvalidScenarios)
	assert.Contains(t, stdout, "ok   ")
	assert.Contains(t, stdout, "FAIL "+bad)
}

func TestScenariosValidateRequiresArgs(t *testing.T) {
	_, _, err := executeCLI(t, "", "scenarios", "validate")
	require.Error(t, err)
}

func TestSimulateFromStdin(t *testing.T) {
	script := strings.Join([]string{
		"# warm-up",
		"Bonjour, comment gérez-vous vos plannings aujourd'hui ?",
		"",
		"Nos clients gagnent du temps chaque semaine.",
	}, "\n")

	stdout, _, err := executeCLI(t, script,
		"simulate", "--scenario", "hr-software", "--tier", "easy", "--seed", "7")
	require.NoError(t, err)
	assert.Contains(t, stdout, "trainee:  Bonjour, comment gérez-vous vos plannings aujourd'hui ?")
	assert.Contains(t, stdout, "[gauge ")
	assert.Contains(t, stdout, `"score"`)
	assert.NotContains(t, stdout, "warm-up")
}

func TestSimulateExpertHidesGauge(t *testing.T) {
	stdout, _, err := executeCLI(t, "Quel est votre besoin ?\n",
		"simulate", "--scenario", "hr-software", "--tier", "expert")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "[gauge ")
	assert.NotContains(t, stdout, `"final_gauge"`)
}

func TestSimulateEventStream(t *testing.T) {
	scriptPath := filepath.Join(t.TempDir(), "script.txt")
	require.NoError(t, os.WriteFile(scriptPath, []byte("Bonjour ?\n"), 0o600))

	stdout, _, err := executeCLI(t, "",
		"simulate", "--scenario", "accounting-firm", "--script", scriptPath, "--events")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.GreaterOrEqual(t, len(lines), 3)

	var first, last struct {
		ID   int64  `json:"event_id"`
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &last))
	assert.Equal(t, "connected", first.Type)
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, "session_ended", last.Type)
}

func TestSimulateRejectsUnknownInputs(t *testing.T) {
	_, _, err := executeCLI(t, "", "simulate", "--scenario", "hr-software", "--tier", "impossible")
	require.Error(t, err)

	_, _, err = executeCLI(t, "", "simulate", "--scenario", "missing")
	require.ErrorIs(t, err, domain.ErrScenarioNotFound)

	_, _, err = executeCLI(t, "", "simulate")
	require.Error(t, err)
}

func TestHistoryListAndShow(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "pitch.db")
	repo, err := store.NewSQLite(dbPath)
	require.NoError(t, err)

	ended := time.Now().UTC().Truncate(time.Second)
	started := ended.Add(-5 * time.Minute)
	final := 64
	rec := &domain.SessionRecord{
		Session: &domain.Session{
			ID:            "sess-1",
			UserID:        "anon_cli",
			ScenarioID:    "hr-software",
			Tier:          domain.TierExpert,
			Gauge:         final,
			Mood:          domain.MoodInterested,
			Phase:         domain.PhaseClosing,
			ExchangeCount: 4,
			Status:        domain.StatusEnded,
			EndType:       domain.EndUser,
			CreatedAt:     started,
			StartedAt:     &started,
			EndedAt:       &ended,
		},
		Report: &domain.Report{
			SessionID:       "sess-1",
			ScenarioID:      "hr-software",
			Tier:            domain.TierExpert,
			EndType:         domain.EndUser,
			Score:           58,
			FinalGauge:      &final,
			Exchanges:       4,
			ObjectionCounts: map[domain.ObjectionType]int{},
			PhasesReached:   []domain.Phase{domain.PhaseOpening},
			Strengths:       []string{},
			Weaknesses:      []string{},
			Perturbations:   []domain.PerturbationOutcome{},
			GeneratedAt:     ended,
		},
	}
	require.NoError(t, repo.PersistSession(context.Background(), rec))
	require.NoError(t, repo.Close())

	stdout, _, err := executeCLI(t, "", "history", "list", "--db", dbPath, "--user", "anon_cli")
	require.NoError(t, err)
	assert.Contains(t, stdout, "sess-1")
	assert.Contains(t, stdout, "hr-software")

	stdout, _, err = executeCLI(t, "", "history", "list", "--db", dbPath, "--user", "someone-else")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "sess-1")

	stdout, _, err = executeCLI(t, "", "history", "show", "sess-1", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, `"score": 58`)
	assert.NotContains(t, stdout, `"final_gauge"`)

	stdout, _, err = executeCLI(t, "", "history", "show", "sess-1", "--db", dbPath, "--raw")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"final_gauge": 64`)
}

func TestHistoryShowUnknownSession(t *testing.T) {
	_, _, err := executeCLI(t, "", "history", "show", "nope", "--db", filepath.Join(t.TempDir(), "x.db"))
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestEnvOverridesFlagDefault(t *testing.T) {
	dir := t.TempDir()
	data, err := os.ReadFile(filepath.Join("..", "scenario", "defaults", "hr-software.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hr-software.yaml"), data, 0o600))
	t.Setenv("PITCHCTL_SCENARIO_DIR", dir)

	stdout, _, err := executeCLI(t, "", "scenarios", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "builtin:")
	assert.Contains(t, stdout, filepath.Join(dir, "hr-software.yaml"))
}
