package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStringFieldsSkipsBlank(t *testing.T) {
	fields := StringFields(
		StringField{Key: " " + FieldRuleID + " ", Value: "  br-nurse  "},
		StringField{Key: FieldStage, Value: "\t"},
		StringField{Key: "", Value: "orphan"},
	)

	if len(fields) != 1 {
		t.Fatalf("expected 1 field, got %d", len(fields))
	}
	if fields[0].Key != FieldRuleID || fields[0].String != "br-nurse" {
		t.Fatalf("unexpected field: %+v", fields[0])
	}
	if got := StringFields(); len(got) != 0 {
		t.Fatalf("expected no fields, got %d", len(got))
	}
}

func TestEnrichedLoggers(t *testing.T) {
	tests := []struct {
		name   string
		enrich func(*zap.Logger) *zap.Logger
		want   map[string]interface{}
	}{
		{
			name:   "plain fields",
			enrich: func(l *zap.Logger) *zap.Logger { return WithFields(l, zap.String("index", "occupations")) },
			want:   map[string]interface{}{"index": "occupations"},
		},
		{
			name:   "provider and model",
			enrich: func(l *zap.Logger) *zap.Logger { return WithCommonFields(l, " gemini ", "gemini-embedding-001") },
			want:   map[string]interface{}{FieldProvider: "gemini", FieldModel: "gemini-embedding-001"},
		},
		{
			name:   "empty provider omitted",
			enrich: func(l *zap.Logger) *zap.Logger { return WithCommonFields(l, "", "overlap") },
			want:   map[string]interface{}{FieldModel: "overlap"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, observed := observer.New(zapcore.InfoLevel)
			tt.enrich(zap.New(core)).Info("entry")

			entries := observed.All()
			if len(entries) != 1 {
				t.Fatalf("expected 1 entry, got %d", len(entries))
			}
			ctx := entries[0].ContextMap()
			if len(ctx) != len(tt.want) {
				t.Fatalf("unexpected context %v", ctx)
			}
			for k, v := range tt.want {
				if ctx[k] != v {
					t.Fatalf("field %s = %v, want %v", k, ctx[k], v)
				}
			}

			// A nil base logger falls back to a no-op logger.
			tt.enrich(nil).Info("dropped")
		})
	}
}

func TestPostingFields(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	WithPosting(logger, " p-1 ", "rerank").Debug("stage done")

	entries := observed.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	ctx := entries[0].ContextMap()
	if ctx[FieldPostingID] != "p-1" {
		t.Fatalf("expected posting id p-1, got %q", ctx[FieldPostingID])
	}
	if ctx[FieldStage] != "rerank" {
		t.Fatalf("expected stage rerank, got %q", ctx[FieldStage])
	}

	fields := PostingFields("p-1", "")
	if len(fields) != 1 {
		t.Fatalf("expected empty stage to be omitted, got %d fields", len(fields))
	}
}

func TestRuleFields(t *testing.T) {
	fields := RuleFields("p-2", "br-software")
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(fields))
	}
	if fields[1].Key != FieldRuleID || fields[1].String != "br-software" {
		t.Fatalf("unexpected rule field: %+v", fields[1])
	}
}
