package cmd

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/occumatch/internal/audit"
	"github.com/spigell/occumatch/internal/rules"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Report rule effectiveness and propose rules from escalated diagnostics",
	Run: func(cmd *cobra.Command, _ []string) {
		runAudit(cmd)
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().StringP("output", "o", "", "write the JSON report to this file instead of stdout")
}

func runAudit(cmd *cobra.Command) {
	ctx := context.Background()

	logger, config := setup()

	st, err := openStore(ctx, config.Store)
	if err != nil {
		logger.Fatal("opening the store", zap.Error(err))
	}
	defer st.Close()

	// configured rules that never fired still get a line in the report
	var ids []string
	if len(config.Rules) > 0 {
		tax, err := loadTaxonomy(config)
		if err != nil {
			logger.Fatal("loading the taxonomy", zap.Error(err))
		}
		set, err := rules.Load(config.Rules, tax)
		if err != nil {
			logger.Fatal("loading business rules", zap.Error(err))
		}
		for _, r := range set.Rules() {
			ids = append(ids, r.ID)
		}
	}

	cfg := config.Audit
	if cfg == nil {
		cfg = &AuditConfig{Auditor: audit.DefaultAuditorConfig(), Miner: audit.DefaultMinerConfig()}
	}

	report, err := audit.Run(ctx, audit.NewRuleAuditor(st, cfg.Auditor), audit.NewPatternMiner(st, cfg.Miner), ids)
	if err != nil {
		logger.Fatal("auditing", zap.Error(err))
	}

	if problematic := report.Problematic(); len(problematic) > 0 {
		logger.Warn("problematic business rules", zap.Strings("rules", problematic))
	}
	logger.Info("audit finished",
		zap.Int("rules", len(report.Rules)),
		zap.Int("clusters", len(report.Clusters)),
	)

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		if err := printJSON(report); err != nil {
			logger.Fatal("printing the report", zap.Error(err))
		}
		return
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logger.Fatal("encoding the report", zap.Error(err))
	}
	if err := os.WriteFile(output, append(data, '\n'), 0o644); err != nil {
		logger.Fatal("writing the report", zap.Error(err))
	}
	logger.Info("report written", zap.String("filename", output))
}
