package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/occumatch/internal/ai"
	"github.com/spigell/occumatch/internal/correction"
	"github.com/spigell/occumatch/internal/match"
	"github.com/spigell/occumatch/internal/posting"
	"github.com/spigell/occumatch/internal/store"
	"github.com/spigell/occumatch/internal/taxonomy"
)

const (
	PromptValidate      = "Validate"
	PromptReject        = "Reject"
	PromptOverride      = "Validate with another occupation"
	PromptSuggest       = "Ask the reviewer model for a suggestion"
	PromptShowCandidate = "Show candidates"
	PromptBack          = "back"
	PromptQuit          = "quit"
)

var errQuit = errors.New("quit requested")

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Walk the pending-review queue and validate or reject escalated results",
	Run: func(cmd *cobra.Command, _ []string) {
		runReview(cmd)
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)

	reviewCmd.Flags().Bool("suggest", false, "offer occupation suggestions from the Gemini reviewer")
	reviewCmd.Flags().Bool("list", false, "print the queue as JSON and exit")
}

type reviewSession struct {
	store    store.Store
	taxonomy *taxonomy.Store
	reviewer ai.Reviewer
	postings *posting.Records
	timeout  time.Duration
	logger   *zap.Logger
}

func runReview(cmd *cobra.Command) {
	ctx := context.Background()

	logger, config := setup()

	st, err := openStore(ctx, config.Store)
	if err != nil {
		logger.Fatal("opening the store", zap.Error(err))
	}
	defer st.Close()

	if list, _ := cmd.Flags().GetBool("list"); list {
		groups, err := correction.PendingReview(ctx, st)
		if err != nil {
			logger.Fatal("reading the review queue", zap.Error(err))
		}
		if err := printJSON(groups); err != nil {
			logger.Fatal("printing the queue", zap.Error(err))
		}
		return
	}

	tax, err := loadTaxonomy(config)
	if err != nil {
		logger.Fatal("loading the taxonomy", zap.Error(err))
	}

	session := &reviewSession{store: st, taxonomy: tax, logger: logger}
	if config.Retrieval != nil {
		session.timeout = config.Retrieval.ModelTimeout
	}
	if config.Postings != "" {
		if session.postings, err = loadPostings(config); err != nil {
			logger.Warn("postings unavailable, reviewer will only see titles", zap.Error(err))
		}
	}
	if suggest, _ := cmd.Flags().GetBool("suggest"); suggest {
		var gcfg *GeminiConfig
		if config.AI != nil {
			gcfg = config.AI.Gemini
		}
		provider, err := newGeminiProvider(ctx, gcfg, logger)
		if err != nil {
			logger.Warn("skipping reviewer suggestions", zap.Error(err))
		} else {
			session.reviewer = provider.reviewer()
		}
	}

	if err := session.run(ctx); err != nil && !errors.Is(err, errQuit) {
		logger.Fatal("exiting", zap.Error(err))
	}
}

func (s *reviewSession) run(ctx context.Context) error {
	for {
		groups, err := correction.PendingReview(ctx, s.store)
		if err != nil {
			return err
		}
		if len(groups) == 0 {
			s.logger.Info("exiting", zap.String("reason", "review queue is empty"))
			return nil
		}

		items := make([]string, 0)
		for _, g := range groups {
			for _, d := range g.Items {
				items = append(items, fmt.Sprintf("%s %s / %s", d.PostingID, g.Code, d.Field))
			}
		}

		queuePrompt := promptui.Select{
			Label: "Choose a posting and press ENTER",
			Items: append(items, PromptQuit),
			Size:  15,
		}
		_, selected, err := queuePrompt.Run()
		if err != nil {
			return err
		}
		if selected == PromptQuit {
			return errQuit
		}

		postingID := strings.Split(selected, " ")[0]
		if err := s.reviewOne(ctx, postingID); err != nil {
			if errors.Is(err, errQuit) {
				return err
			}
			s.logger.Error("review failed", zap.String("posting_id", postingID), zap.Error(err))
		}
	}
}

func (s *reviewSession) reviewOne(ctx context.Context, postingID string) error {
	r, err := s.store.GetResult(ctx, postingID)
	if err != nil {
		return err
	}

	s.logger.Info("reviewing",
		zap.String("posting_id", r.PostingID),
		zap.String("title", r.Title),
		zap.String("occupation_code", r.OccupationCode),
		zap.String("occupation_label", r.OccupationLabel),
		zap.String("decision_method", string(r.DecisionMethod)),
		zap.String("rule_occupation_code", r.RuleOccupationCode),
		zap.Float64("confidence", r.Confidence),
	)

	actions := []string{PromptValidate, PromptReject, PromptOverride, PromptShowCandidate}
	if s.reviewer != nil {
		actions = append(actions, PromptSuggest)
	}
	actions = append(actions, PromptBack, PromptQuit)

	for {
		actionPrompt := promptui.Select{Label: fmt.Sprintf("%s %s", r.PostingID, r.Title), Items: actions}
		_, action, err := actionPrompt.Run()
		if err != nil {
			return err
		}

		switch action {
		case PromptValidate:
			return s.decide(ctx, r.PostingID, match.StateValidated, "")
		case PromptReject:
			return s.decide(ctx, r.PostingID, match.StateRejected, "")
		case PromptOverride:
			code, err := s.askOccupation()
			if err != nil {
				return err
			}
			return s.decide(ctx, r.PostingID, match.StateValidated, code)
		case PromptShowCandidate:
			for i, c := range r.Candidates {
				fmt.Printf("%2d. %s %s (score %.3f)\n", i+1, c.Code, c.Label, c.Score())
			}
		case PromptSuggest:
			s.suggest(ctx, r)
		case PromptBack:
			return nil
		case PromptQuit:
			return errQuit
		default:
			return fmt.Errorf("invalid action: %s", action)
		}
	}
}

func (s *reviewSession) decide(ctx context.Context, postingID string, state match.State, code string) error {
	r, err := correction.Review(ctx, s.store, s.taxonomy, postingID, state, code, time.Now().UTC())
	if err != nil {
		return err
	}
	s.logger.Info("result reviewed",
		zap.String("posting_id", r.PostingID),
		zap.String("state", string(r.State)),
		zap.String("occupation_code", r.OccupationCode),
	)
	return nil
}

func (s *reviewSession) askOccupation() (string, error) {
	p := promptui.Prompt{
		Label: "Occupation code",
		Validate: func(input string) error {
			if !s.taxonomy.Has(strings.TrimSpace(input), taxonomy.KindOccupation) {
				return errors.New("unknown occupation code")
			}
			return nil
		},
	}
	code, err := p.Run()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(code), nil
}

// suggest only prints the reviewer's ranking; nothing is applied.
func (s *reviewSession) suggest(ctx context.Context, r *match.Result) {
	options := make([]ai.Candidate, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		options = append(options, ai.Candidate{Code: c.Code, Label: c.Label, Score: c.Score()})
	}

	text := r.Title
	if s.postings != nil {
		if rec := s.postings.FindByID(r.PostingID); rec != nil {
			text = rec.Text()
		}
	}

	suggestions, err := ai.ClassifyWithTimeout(ctx, s.reviewer, s.timeout, text, options)
	if err != nil {
		s.logger.Warn("reviewer failed, showing the automatic ranking", zap.Error(err))
	}
	for i, c := range suggestions {
		fmt.Printf("%2d. %s %s (score %.2f) %s\n", i+1, c.Code, c.Label, c.Score, c.Reason)
	}
}
