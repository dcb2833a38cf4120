package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ashureev/pitch-labs/internal/session"
	"github.com/ashureev/pitch-labs/internal/store"
)

func newHistoryCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Read persisted session history",
	}
	cmd.AddCommand(newHistoryListCmd(v), newHistoryShowCmd(v))
	return cmd
}

func openStore(v *viper.Viper) (*store.SQLiteStore, error) {
	repo, err := store.NewSQLite(v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return repo, nil
}

func newHistoryListCmd(v *viper.Viper) *cobra.Command {
	var userID string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ended sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := openStore(v)
			if err != nil {
				return err
			}
			defer repo.Close()

			sessions, err := repo.ListSessions(cmd.Context(), userID, limit)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sessions)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSCENARIO\tTIER\tEND\tSCORE\tGAUGE\tEXCHANGES\tENDED")
			for _, s := range sessions {
				g := "-"
				if s.FinalGauge != nil {
					g = strconv.Itoa(*s.FinalGauge)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%d\t%s\n",
					s.ID, s.ScenarioID, s.Tier, s.EndType, s.Score, g, s.ExchangeCount, s.EndedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Trainee user id (default: all trainees)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of sessions")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")

	return cmd
}

func newHistoryShowCmd(v *viper.Viper) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a persisted session record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openStore(v)
			if err != nil {
				return err
			}
			defer repo.Close()

			rec, err := repo.GetRecord(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !raw && rec.Session != nil {
				rec.Report = session.ClientReport(rec.Session.Tier, rec.Report)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Include gauge values the trainee's tier hides")
	return cmd
}
