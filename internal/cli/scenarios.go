package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ashureev/pitch-labs/internal/scenario"
)

var errInvalidScenarios = errors.New("invalid scenario files")

func newScenariosCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "Inspect and validate scenario files",
	}
	cmd.AddCommand(newScenariosListCmd(v), newScenariosValidateCmd())
	return cmd
}

func newScenariosListCmd(v *viper.Viper) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the scenarios a session can be started from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := scenario.New(v.GetString("scenario-dir"), newLogger(v))
			if err != nil {
				return fmt.Errorf("load scenarios: %w", err)
			}
			list := catalog.List()

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tMAX EXCHANGES\tSOURCE\tTITLE")
			for _, sc := range list {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", sc.ID, sc.MaxExchanges, catalog.Source(sc.ID), sc.Title)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")
	return cmd
}

func newScenariosValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Parse and validate scenario files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, p := range args {
				sc, err := scenario.ParseFile(p)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", p, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok   %s (%s)\n", p, sc.ID)
			}
			if failed > 0 {
				return fmt.Errorf("%w: %d of %d", errInvalidScenarios, failed, len(args))
			}
			return nil
		},
	}
}
