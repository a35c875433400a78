package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldProvider is the structured log field key for the model provider name.
	FieldProvider = "ai_provider"
	// FieldModel is the structured log field key for the model identifier.
	FieldModel = "ai_model"
	// FieldPostingID identifies the posting a log entry refers to.
	FieldPostingID = "posting_id"
	// FieldRuleID identifies a business or validation rule.
	FieldRuleID = "rule_id"
	// FieldStage names the pipeline stage.
	FieldStage = "stage"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields safely attaches the provided fields to the logger.
// A nil logger becomes a no-op logger.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// CommonFields returns fields that describe the model provider and model.
// Empty values are ignored.
func CommonFields(provider, model string) []zap.Field {
	return StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)
}

// WithCommonFields attaches the provider fields to the provided logger.
func WithCommonFields(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, CommonFields(provider, model)...)
}

// PostingFields describes a posting and, optionally, the pipeline stage handling it.
func PostingFields(postingID, stage string) []zap.Field {
	return StringFields(
		StringField{Key: FieldPostingID, Value: postingID},
		StringField{Key: FieldStage, Value: stage},
	)
}

// WithPosting attaches posting fields to the logger.
func WithPosting(logger *zap.Logger, postingID, stage string) *zap.Logger {
	return WithFields(logger, PostingFields(postingID, stage)...)
}

// RuleFields describes a rule firing or a detection.
func RuleFields(postingID, ruleID string) []zap.Field {
	return StringFields(
		StringField{Key: FieldPostingID, Value: postingID},
		StringField{Key: FieldRuleID, Value: ruleID},
	)
}
