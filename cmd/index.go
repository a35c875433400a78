package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/occumatch/internal/embedding"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the taxonomy vectors file",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Embed every taxonomy occupation and skill and write the vectors file",
	Run: func(cmd *cobra.Command, _ []string) {
		runIndexBuild(cmd)
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexBuildCmd)

	indexBuildCmd.Flags().StringP("output", "o", "", "vectors file to write (default is the configured vectors file)")
	indexBuildCmd.Flags().Int("batch-size", 32, "texts embedded per request")
}

func runIndexBuild(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, config := setup()

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		output = config.Vectors
	}
	if output == "" {
		logger.Fatal("no output file", zap.String("hint", "pass --output or set 'vectors' in the configuration file"))
	}
	batchSize, _ := cmd.Flags().GetInt("batch-size")

	tax, err := loadTaxonomy(config)
	if err != nil {
		logger.Fatal("loading the taxonomy", zap.Error(err))
	}
	mdl, err := newModels(ctx, config, logger)
	if err != nil {
		logger.Fatal("building the embedder", zap.Error(err))
	}

	logger.Info("embedding the taxonomy", zap.Int("nodes", tax.Len()), zap.String("embedder", mdl.embedder.Model()))

	file, err := embedding.Build(ctx, mdl.embedder, tax, batchSize)
	if err != nil {
		logger.Fatal("building vectors", zap.Error(err))
	}
	if err := file.ToFile(output); err != nil {
		logger.Fatal("writing vectors", zap.Error(err))
	}

	logger.Info("vectors written",
		zap.String("filename", output),
		zap.Int("vectors", len(file.Vectors)),
		zap.Int("dim", file.Dim),
	)
}
