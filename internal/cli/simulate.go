package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ashureev/pitch-labs/internal/domain"
	"github.com/ashureev/pitch-labs/internal/gauge"
	"github.com/ashureev/pitch-labs/internal/oracle"
	"github.com/ashureev/pitch-labs/internal/perturb"
	"github.com/ashureev/pitch-labs/internal/scenario"
	"github.com/ashureev/pitch-labs/internal/session"
)

const simulateUser = "pitchctl"

type simulateOptions struct {
	scenarioID string
	tier       string
	script     string
	seed       uint64
	events     bool
}

func newSimulateCmd(v *viper.Viper) *cobra.Command {
	var opts simulateOptions

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a script of trainee turns against the scripted prospect",
		Long: "simulate starts a session with the offline scripted oracle, submits one trainee turn per non-empty script line " +
			"(lines starting with # are skipped), ends the session and prints the evaluation report.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulate(cmd, v, opts)
		},
	}

	cmd.Flags().StringVar(&opts.scenarioID, "scenario", "", "Scenario id")
	cmd.Flags().StringVar(&opts.tier, "tier", string(domain.TierMedium), "Difficulty tier (easy, medium, expert)")
	cmd.Flags().StringVar(&opts.script, "script", "-", "Script file, - for stdin")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 1, "Perturbation scheduler seed")
	cmd.Flags().BoolVar(&opts.events, "events", false, "Print the session event stream as NDJSON instead of a transcript")
	_ = cmd.MarkFlagRequired("scenario")

	return cmd
}

func runSimulate(cmd *cobra.Command, v *viper.Viper, opts simulateOptions) error {
	tier := domain.Tier(strings.ToLower(opts.tier))
	if !tier.Valid() {
		return fmt.Errorf("unknown tier %q", opts.tier)
	}

	logger := newLogger(v)
	catalog, err := scenario.New(v.GetString("scenario-dir"), logger)
	if err != nil {
		return fmt.Errorf("load scenarios: %w", err)
	}
	sc, err := catalog.Get(opts.scenarioID)
	if err != nil {
		return err
	}

	lines, err := readScript(cmd.InOrStdin(), opts.script)
	if err != nil {
		return err
	}

	mgr := session.NewManager(session.ManagerConfig{
		Oracle:        oracle.NewScripted(),
		OracleTimeout: 5 * time.Second,
		OutboxSize:    4 * (len(lines) + 4),
		Logger:        logger,
		NewRoller: func() perturb.Roller {
			return rand.New(rand.NewPCG(opts.seed, opts.seed))
		},
	})
	s, token, err := mgr.Start(simulateUser, sc, tier)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if _, err := s.Connect(token); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	if !opts.events {
		fmt.Fprintf(out, "# %s (%s)\n", sc.Title, tier)
		if sc.Opening != "" {
			fmt.Fprintf(out, "prospect: %s\n", sc.Opening)
		}
	}

	ended := false
	for _, line := range lines {
		res, err := s.SubmitTurn(ctx, session.TurnInput{Text: line})
		if err != nil {
			return fmt.Errorf("turn %q: %w", line, err)
		}
		if !opts.events {
			printTurn(out, tier, res)
		}
		if res.Ended {
			ended = true
			break
		}
	}

	var report *domain.Report
	if ended {
		report, _ = s.Report()
	} else {
		report, err = s.End(ctx, domain.EndUser)
		if err != nil {
			return fmt.Errorf("end session: %w", err)
		}
	}

	if opts.events {
		enc := json.NewEncoder(out)
		for _, ev := range s.Outbox().Since(0) {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(session.ClientReport(tier, report))
}

func printTurn(w io.Writer, tier domain.Tier, res *session.TurnResult) {
	fmt.Fprintf(w, "trainee:  %s\n", res.User.Text)
	if res.Perturbation != nil {
		fmt.Fprintf(w, "  ! %s/%s: %s\n", res.Perturbation.Kind, res.Perturbation.Subtype, res.Perturbation.Message)
	}
	p := res.Prospect
	if gauge.IsGaugeVisible(tier) {
		fmt.Fprintf(w, "prospect: %s [gauge %d (%+d), %s, %s]\n", p.Text, p.GaugeAfter, p.GaugeAfter-p.GaugeBefore, p.Mood, p.Phase)
	} else {
		fmt.Fprintf(w, "prospect: %s [%s, %s]\n", p.Text, p.Mood, p.Phase)
	}
	if res.Ended {
		fmt.Fprintf(w, "# session ended: %s\n", res.EndType)
	}
}

func readScript(stdin io.Reader, p string) ([]string, error) {
	r := stdin
	if p != "" && p != "-" {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("open script: %w", err)
		}
		defer f.Close()
		r = f
	}

	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return lines, nil
}
