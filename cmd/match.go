package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/occumatch/internal/pipeline"
	"github.com/spigell/occumatch/internal/posting"
	"github.com/spigell/occumatch/internal/rules"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match postings to occupations and skills and store the results",
	Run: func(cmd *cobra.Command, _ []string) {
		runMatch(cmd)
	},
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().StringP("postings", "p", "", "postings file (.json array or .jsonl)")
	matchCmd.Flags().StringP("exclude-file", "e", "", "file with posting ids to skip, one per line. Default is unset.")
	matchCmd.Flags().IntP("limit", "l", 0, "stop after this many postings (0 means all)")
	matchCmd.Flags().IntP("workers", "w", 0, "postings matched in parallel")
	matchCmd.Flags().Bool("watch", false, "keep running and rematch when business rule files change")

	viper.BindPFlag("postings", matchCmd.Flags().Lookup("postings"))
	viper.BindPFlag("exclude-file", matchCmd.Flags().Lookup("exclude-file"))
	viper.BindPFlag("limit", matchCmd.Flags().Lookup("limit"))
	viper.BindPFlag("workers", matchCmd.Flags().Lookup("workers"))
}

func runMatch(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, config := setup()
	logger.Info("starting the occumatch matcher", zap.String("version", version))

	st, err := openStore(ctx, config.Store)
	if err != nil {
		logger.Fatal("opening the store", zap.Error(err))
	}
	defer st.Close()

	tax, err := loadTaxonomy(config)
	if err != nil {
		logger.Fatal("loading the taxonomy", zap.Error(err))
	}
	postings, err := loadPostings(config)
	if err != nil {
		logger.Fatal("loading postings", zap.Error(err))
	}
	logger.Info("postings loaded", zap.Int("count", postings.Len()))

	m, err := buildMatching(ctx, config, st, tax, postings, logger)
	if err != nil {
		logger.Fatal("building the matching engine", zap.Error(err))
	}

	// reviewed results are never rematched, the terminal filter only keeps them out of the batch
	steps := pipeline.DefaultFilters()
	for _, status := range pipeline.Describe(steps) {
		logger.Debug("filter", zap.String("name", status.Name), zap.Bool("enabled", status.Enabled), zap.String("reason", status.Reason))
	}

	filtered, err := pipeline.RunFilters(ctx, &pipeline.FilterConfig{
		ExcludeFile: config.ExcludeFile,
		Limit:       config.Limit,
	}, pipeline.Deps{Store: st, Logger: logger}, steps, postings)
	if err != nil {
		logger.Fatal("filtering failed", zap.Error(err))
	}
	if filtered.Len() == 0 {
		logger.Info("exiting", zap.String("reason", "no postings left after filters"))
		return
	}

	if err := matchOnce(ctx, m, filtered, config.Workers); err != nil {
		logger.Fatal("matching failed", zap.Error(err))
	}

	if watch, _ := cmd.Flags().GetBool("watch"); !watch {
		return
	}
	if err := watchRules(ctx, m, filtered, config, logger); err != nil {
		logger.Fatal("watching rules", zap.Error(err))
	}
}

func matchOnce(ctx context.Context, m *matching, records *posting.Records, workers int) error {
	sum, err := m.engine.Batch(ctx, records, workers, 0)
	if err != nil {
		return err
	}
	return printJSON(sum)
}

// rematch forwards reloads and signals a rerun after each accepted one.
type rematch struct {
	target rules.Reloader
	next   chan<- struct{}
}

func (r rematch) Reload() error {
	if err := r.target.Reload(); err != nil {
		return err
	}
	select {
	case r.next <- struct{}{}:
	default:
	}
	return nil
}

func watchRules(ctx context.Context, m *matching, records *posting.Records, config *Config, logger *zap.Logger) error {
	if len(config.Rules) == 0 {
		logger.Warn("nothing to watch, no business rule paths configured")
		return nil
	}

	next := make(chan struct{}, 1)
	watcher := rules.NewWatcher(config.Rules, rematch{target: m.rules, next: next}, logger)

	logger.Info("watching business rules", zap.Strings("paths", config.Rules))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(ctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-next:
				logger.Info("rules changed, rematching", zap.Int("postings", records.Len()))
				if err := matchOnce(ctx, m, records, config.Workers); err != nil {
					return err
				}
			}
		}
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
