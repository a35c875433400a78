package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/occumatch/internal/correction"
	"github.com/spigell/occumatch/internal/validation"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate stored results, apply automatic corrections and escalate the rest",
	Run: func(cmd *cobra.Command, _ []string) {
		runValidate(cmd)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringSlice("posting", nil, "only validate these posting ids")
	validateCmd.Flags().IntP("limit", "l", 0, "stop after this many postings (0 means all)")
	validateCmd.Flags().IntP("workers", "w", 0, "postings validated in parallel")
	validateCmd.Flags().Bool("no-reprocess", false, "escalate reprocess_with_config actions instead of rematching")
	validateCmd.Flags().Bool("reports", false, "print the per-posting reports")
}

type validateSummary struct {
	Postings    int                 `json:"postings"`
	Skipped     int                 `json:"skipped"`
	Detected    int                 `json:"detected"`
	Corrected   int                 `json:"corrected"`
	Escalated   int                 `json:"escalated"`
	Reprocessed int                 `json:"reprocessed"`
	Resolved    int                 `json:"resolved"`
	Pending     map[string]int      `json:"pending_review"`
	Reports     []correction.Report `json:"reports,omitempty"`
}

func runValidate(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, config := setup()

	limit, workers := config.Limit, config.Workers
	if cmd.Flags().Changed("limit") {
		limit, _ = cmd.Flags().GetInt("limit")
	}
	if cmd.Flags().Changed("workers") {
		workers, _ = cmd.Flags().GetInt("workers")
	}
	ids, _ := cmd.Flags().GetStringSlice("posting")

	st, err := openStore(ctx, config.Store)
	if err != nil {
		logger.Fatal("opening the store", zap.Error(err))
	}
	defer st.Close()

	set, err := validation.Load(config.ValidationRules)
	if err != nil {
		logger.Fatal("loading validation rules", zap.Error(err))
	}
	if set.Len() == 0 {
		logger.Warn("no validation rules configured, only pending diagnostics will be handled")
	}
	validator := validation.NewValidator(set, config.ValidationRules, logger)

	tax, err := loadTaxonomy(config)
	if err != nil {
		logger.Fatal("loading the taxonomy", zap.Error(err))
	}

	var (
		reprocessor correction.Reprocessor
		sections    correction.Sections
	)
	if noReprocess, _ := cmd.Flags().GetBool("no-reprocess"); noReprocess || config.Postings == "" {
		logger.Info("reprocessing disabled, reprocess actions will be escalated")
	} else {
		postings, err := loadPostings(config)
		if err != nil {
			logger.Fatal("loading postings", zap.Error(err))
		}
		m, err := buildMatching(ctx, config, st, tax, postings, logger)
		if err != nil {
			logger.Fatal("building the matching engine", zap.Error(err))
		}
		reprocessor = m.engine
		sections = m.sections()
	}

	corrector := correction.New(st, validator, tax, sections, reprocessor, logger)
	reports, err := corrector.Run(ctx, ids, workers, limit)
	if err != nil {
		logger.Fatal("validation failed", zap.Error(err))
	}

	summary := validateSummary{Postings: len(reports), Pending: map[string]int{}}
	for _, rep := range reports {
		if rep.Skipped {
			summary.Skipped++
		}
		if rep.Reprocessed {
			summary.Reprocessed++
		}
		summary.Detected += rep.Detected
		summary.Corrected += rep.Corrected
		summary.Escalated += rep.Escalated
		summary.Resolved += rep.Resolved
	}
	if withReports, _ := cmd.Flags().GetBool("reports"); withReports {
		summary.Reports = reports
	}

	groups, err := correction.PendingReview(ctx, st)
	if err != nil {
		logger.Fatal("reading the review queue", zap.Error(err))
	}
	for _, g := range groups {
		summary.Pending[g.Code] = len(g.Items)
	}

	if err := printJSON(summary); err != nil {
		logger.Fatal("printing the summary", zap.Error(err))
	}
}
