package posting

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadFile reads postings from a JSON array or a JSON-lines file.
// Files ending in .jsonl or .ndjson are read line by line.
func LoadFile(path string) (*Records, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return &Records{}, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return decodeLines(data)
	default:
		return decodeArray(data)
	}
}

func decodeArray(data []byte) (*Records, error) {
	var items []*Record
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode postings: %w", err)
	}

	records := &Records{}
	for i, rec := range items {
		if err := check(rec); err != nil {
			return nil, fmt.Errorf("posting #%d: %w", i, err)
		}
		records.Items = append(records.Items, rec)
	}
	if err := checkUnique(records); err != nil {
		return nil, err
	}
	return records, nil
}

func decodeLines(data []byte) (*Records, error) {
	records := &Records{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("line %d: decode posting: %w", line, err)
		}
		if err := check(&rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records.Items = append(records.Items, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := checkUnique(records); err != nil {
		return nil, err
	}
	return records, nil
}

func check(rec *Record) error {
	if rec == nil {
		return errors.New("empty posting")
	}
	rec.ID = strings.TrimSpace(rec.ID)
	if rec.ID == "" {
		return errors.New("posting id is required")
	}
	return nil
}

func checkUnique(records *Records) error {
	seen := make(map[string]struct{}, records.Len())
	for _, rec := range records.Items {
		if _, ok := seen[rec.ID]; ok {
			return fmt.Errorf("duplicate posting id %q", rec.ID)
		}
		seen[rec.ID] = struct{}{}
	}
	return nil
}

// LoadIDs reads one posting id per line. Blank lines and lines starting
// with # are ignored; an empty file yields no ids.
func LoadIDs(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var ids []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ids %s: %w", path, err)
	}
	return ids, nil
}
