package correction

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spigell/occumatch/internal/match"
	"github.com/spigell/occumatch/internal/taxonomy"
	"github.com/spigell/occumatch/internal/validation"
)

// correctionID identifies an applied transform on a result.
func correctionID(rule *validation.Rule) string {
	c := rule.Correction
	return fmt.Sprintf("%s/%s/%s", rule.ID, c.Transform, rule.TargetField())
}

// apply runs one deterministic transform on r.
func apply(r *match.Result, rule *validation.Rule, store *taxonomy.Store) error {
	c := rule.Correction
	field := rule.TargetField()
	if r.Attributes == nil {
		r.Attributes = make(map[string]any)
	}

	switch c.Transform {
	case validation.TransformSetNull:
		r.Attributes[field] = nil
	case validation.TransformSetValue:
		r.Attributes[field] = c.Value
	case validation.TransformCopyFrom:
		v, ok := r.Field(c.Source)
		if !ok {
			return fmt.Errorf("copy_from: source field %q is missing", c.Source)
		}
		r.Attributes[field] = v
	case validation.TransformMapValue:
		v, err := mapValue(r.Attributes[field], c.Mapping)
		if err != nil {
			return fmt.Errorf("map_value %q: %w", field, err)
		}
		r.Attributes[field] = v
	case validation.TransformDeriveGroupCode:
		if store == nil {
			return fmt.Errorf("derive_group_code: no taxonomy")
		}
		group := store.GroupCode(r.OccupationCode)
		if group == "" {
			return fmt.Errorf("derive_group_code: no group for occupation %q", r.OccupationCode)
		}
		r.GroupCode = group
	default:
		return fmt.Errorf("unknown transform %q", c.Transform)
	}
	return nil
}

func mapValue(current any, mapping map[string]any) (any, error) {
	if current == nil {
		return nil, fmt.Errorf("value is null")
	}
	key := strings.TrimSpace(fmt.Sprint(current))
	if v, ok := mapping[key]; ok {
		return v, nil
	}
	keys := make([]string, 0, len(mapping))
	for k := range mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			return mapping[k], nil
		}
	}
	return nil, fmt.Errorf("no mapping for %q", key)
}
