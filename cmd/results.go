package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/occumatch/internal/match"
	"github.com/spigell/occumatch/internal/store"
	"github.com/spigell/occumatch/internal/validation"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Print stored match results as JSON",
	Run: func(cmd *cobra.Command, _ []string) {
		runResults(cmd)
	},
}

func init() {
	rootCmd.AddCommand(resultsCmd)

	resultsCmd.Flags().StringSlice("posting", nil, "only print these posting ids")
	resultsCmd.Flags().StringSlice("state", nil, "only print results in these states")
	resultsCmd.Flags().Bool("diagnostics", false, "include the diagnostics of every printed result")
}

type resultEntry struct {
	Result      *match.Result           `json:"result"`
	Diagnostics []validation.Diagnostic `json:"diagnostics,omitempty"`
}

func runResults(cmd *cobra.Command) {
	ctx := context.Background()

	logger, config := setup()

	st, err := openStore(ctx, config.Store)
	if err != nil {
		logger.Fatal("opening the store", zap.Error(err))
	}
	defer st.Close()

	ids, _ := cmd.Flags().GetStringSlice("posting")
	states, _ := cmd.Flags().GetStringSlice("state")
	withDiagnostics, _ := cmd.Flags().GetBool("diagnostics")

	var results []*match.Result
	if len(ids) > 0 {
		for _, id := range ids {
			r, err := st.GetResult(ctx, id)
			if err != nil {
				logger.Fatal("getting a result", zap.String("posting_id", id), zap.Error(err))
			}
			results = append(results, r)
		}
	} else {
		results, err = st.ListResults(ctx)
		if err != nil {
			logger.Fatal("listing results", zap.Error(err))
		}
	}

	wanted := make(map[match.State]bool, len(states))
	for _, s := range states {
		wanted[match.State(s)] = true
	}

	out := make([]resultEntry, 0, len(results))
	for _, r := range results {
		if len(wanted) > 0 && !wanted[r.State] {
			continue
		}
		entry := resultEntry{Result: r}
		if withDiagnostics {
			entry.Diagnostics, err = st.ListDiagnostics(ctx, store.DiagnosticFilter{PostingID: r.PostingID})
			if err != nil {
				logger.Fatal("listing diagnostics", zap.String("posting_id", r.PostingID), zap.Error(err))
			}
		}
		out = append(out, entry)
	}

	if err := printJSON(out); err != nil {
		logger.Fatal("printing results", zap.Error(err))
	}
}
