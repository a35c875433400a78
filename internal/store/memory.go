package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spigell/occumatch/internal/match"
	"github.com/spigell/occumatch/internal/rules"
	"github.com/spigell/occumatch/internal/validation"
)

// Memory is an in-process Store. Results are kept in their canonical
// encoding so callers never share memory with the store.
type Memory struct {
	mu          sync.Mutex
	results     map[string][]byte
	locks       map[string]*sync.Mutex
	diagnostics []validation.Diagnostic
	firings     map[string]rules.Firing
	now         func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		results: make(map[string][]byte),
		locks:   make(map[string]*sync.Mutex),
		firings: make(map[string]rules.Firing),
		now:     time.Now,
	}
}

func (m *Memory) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (m *Memory) load(id string) (*match.Result, error) {
	m.mu.Lock()
	data, ok := m.results[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return match.Decode(data)
}

func (m *Memory) save(r *match.Result) error {
	data, err := r.Encode()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.results[r.PostingID] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetResult(_ context.Context, postingID string) (*match.Result, error) {
	return m.load(postingID)
}

func (m *Memory) UpsertResult(_ context.Context, r *match.Result) (bool, error) {
	unlock := m.lock(r.PostingID)
	defer unlock()

	prev, err := m.load(r.PostingID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}
	if prev != nil && prev.State.IsTerminal() {
		return false, ErrTerminal
	}

	write, err := prepare(prev, r)
	if err != nil || !write {
		return false, err
	}
	return true, m.save(r)
}

func (m *Memory) Update(_ context.Context, postingID string, fn func(*match.Result) error) (*match.Result, error) {
	unlock := m.lock(postingID)
	defer unlock()

	prev, err := m.load(postingID)
	if err != nil {
		return nil, err
	}
	if prev.State.IsTerminal() {
		return prev, ErrTerminal
	}

	next := prev.Clone()
	if err := fn(next); err != nil {
		return prev, err
	}
	next.PostingID = postingID

	write, err := prepare(prev, next)
	if err != nil {
		return prev, err
	}
	if !write {
		return prev, nil
	}
	if err := m.save(next); err != nil {
		return prev, err
	}
	return next, nil
}

func (m *Memory) ListResults(_ context.Context) ([]*match.Result, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.results))
	for id := range m.results {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)

	out := make([]*match.Result, 0, len(ids))
	for _, id := range ids {
		r, err := m.load(id)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *Memory) AppendDiagnostic(_ context.Context, d validation.Diagnostic) (validation.Diagnostic, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.diagnostics {
		if existing.Open() && sameDetection(existing, d) {
			return existing, false, nil
		}
	}

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.DetectedAt.IsZero() {
		d.DetectedAt = m.now().UTC()
	}
	m.diagnostics = append(m.diagnostics, d)
	return d, true, nil
}

func (m *Memory) SaveDiagnostic(_ context.Context, d validation.Diagnostic) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.diagnostics {
		if m.diagnostics[i].ID == d.ID {
			m.diagnostics[i] = d
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ListDiagnostics(_ context.Context, f DiagnosticFilter) ([]validation.Diagnostic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]validation.Diagnostic, 0)
	for _, d := range m.diagnostics {
		if f.match(d) {
			out = append(out, d)
		}
	}
	sortDiagnostics(out)
	return out, nil
}

func (m *Memory) AppendFiring(_ context.Context, f rules.Firing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.firings[f.ID]; !ok {
		m.firings[f.ID] = f
	}
	return nil
}

func (m *Memory) ListFirings(_ context.Context, ruleID string) ([]rules.Firing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]rules.Firing, 0)
	for _, f := range m.firings {
		if ruleID == "" || f.RuleID == ruleID {
			out = append(out, f)
		}
	}
	sortFirings(out)
	return out, nil
}

func (m *Memory) Close() error { return nil }
