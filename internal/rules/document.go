package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigError is a rule configuration problem found at load time.
type ConfigError struct {
	Source string
	RuleID string
	Err    error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("rule config")
	if e.Source != "" {
		b.WriteString(" ")
		b.WriteString(e.Source)
	}
	if e.RuleID != "" {
		fmt.Fprintf(&b, " rule %q", e.RuleID)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Entry is one decoded list item together with the file it came from.
type Entry struct {
	Source string
	Raw    map[string]any
}

// ExpandPaths resolves directories to the YAML and JSON files they contain, sorted by name.
func ExpandPaths(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		var files []string
		for _, e := range entries {
			if e.IsDir() || !isDocument(e.Name()) {
				continue
			}
			files = append(files, filepath.Join(p, e.Name()))
		}
		sort.Strings(files)
		out = append(out, files...)
	}
	return out, nil
}

// ReadList reads the list stored under key from every document in paths.
// A document may also be a bare list.
func ReadList(paths []string, key string) ([]Entry, error) {
	files, err := ExpandPaths(paths)
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}

		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, &ConfigError{Source: file, Err: err}
		}

		var items []any
		switch v := doc.(type) {
		case nil:
			continue
		case []any:
			items = v
		case map[string]any:
			list, ok := v[key]
			if !ok {
				continue
			}
			items, ok = list.([]any)
			if !ok {
				return nil, &ConfigError{Source: file, Err: fmt.Errorf("%q must be a list", key)}
			}
		default:
			return nil, &ConfigError{Source: file, Err: fmt.Errorf("unexpected document of type %T", doc)}
		}

		for i, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, &ConfigError{Source: file, Err: fmt.Errorf("%s[%d] must be a mapping", key, i)}
			}
			out = append(out, Entry{Source: file, Raw: m})
		}
	}
	return out, nil
}

func isDocument(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
