package taxonomy

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spigell/occumatch/internal/utils"
)

type Kind string

const (
	KindOccupation Kind = "occupation"
	KindSkill      Kind = "skill"
	KindGroup      Kind = "group"
)

type Relation string

const (
	RelationNone      Relation = ""
	RelationEssential Relation = "essential"
	RelationOptional  Relation = "optional"
)

// MaxDepth bounds every parent walk.
const MaxDepth = 16

var (
	ErrCycle         = errors.New("taxonomy hierarchy contains a cycle")
	ErrUnknownParent = errors.New("unknown parent code")
	ErrUnknownSkill  = errors.New("unknown skill code")
	ErrDuplicateCode = errors.New("duplicate node code")
)

type SkillRelation struct {
	SkillCode string   `yaml:"skill_code" json:"skill_code"`
	Relation  Relation `yaml:"relation" json:"relation"`
}

// Node is an occupation, skill or group entry of the taxonomy.
type Node struct {
	Code           string          `yaml:"code" json:"code"`
	Label          string          `yaml:"label" json:"label"`
	AltLabels      []string        `yaml:"alt_labels,omitempty" json:"alt_labels,omitempty"`
	ParentCode     string          `yaml:"parent_code,omitempty" json:"parent_code,omitempty"`
	Kind           Kind            `yaml:"kind,omitempty" json:"kind,omitempty"`
	GroupCode      string          `yaml:"group_code,omitempty" json:"group_code,omitempty"`
	SkillRelations []SkillRelation `yaml:"skill_relations,omitempty" json:"skill_relations,omitempty"`
}

// Labels returns the preferred label followed by the alternates.
func (n *Node) Labels() []string {
	out := make([]string, 0, 1+len(n.AltLabels))
	out = append(out, n.Label)
	out = append(out, n.AltLabels...)
	return out
}

// Text is the text embedded for the node.
func (n *Node) Text() string {
	return strings.Join(n.Labels(), "; ")
}

// Store is a read-only index over the taxonomy. Safe for concurrent use after New returns.
type Store struct {
	nodes     map[string]*Node
	byKind    map[Kind][]*Node
	relations map[string]map[string]Relation
	labels    map[Kind]map[string][]string
	groups    map[string]string
}

// New validates nodes and builds the indexes.
func New(nodes []*Node) (*Store, error) {
	s := &Store{
		nodes:     make(map[string]*Node, len(nodes)),
		byKind:    make(map[Kind][]*Node),
		relations: make(map[string]map[string]Relation),
		labels:    make(map[Kind]map[string][]string),
		groups:    make(map[string]string),
	}

	for i, n := range nodes {
		if n == nil {
			continue
		}
		n.Code = strings.TrimSpace(n.Code)
		if n.Code == "" {
			return nil, fmt.Errorf("node #%d: code is required", i)
		}
		if strings.TrimSpace(n.Label) == "" {
			return nil, fmt.Errorf("node %q: label is required", n.Code)
		}
		if n.Kind == "" {
			n.Kind = KindOccupation
		}
		switch n.Kind {
		case KindOccupation, KindSkill, KindGroup:
		default:
			return nil, fmt.Errorf("node %q: unknown kind %q", n.Code, n.Kind)
		}
		if _, ok := s.nodes[n.Code]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCode, n.Code)
		}
		s.nodes[n.Code] = n
	}

	for _, n := range s.nodes {
		if n.ParentCode != "" {
			if _, ok := s.nodes[n.ParentCode]; !ok {
				return nil, fmt.Errorf("%w: node %q references %q", ErrUnknownParent, n.Code, n.ParentCode)
			}
		}
	}

	for code := range s.nodes {
		if _, err := s.Ancestors(code); err != nil {
			return nil, err
		}
	}

	for _, n := range s.nodes {
		s.byKind[n.Kind] = append(s.byKind[n.Kind], n)

		if s.labels[n.Kind] == nil {
			s.labels[n.Kind] = make(map[string][]string)
		}
		for _, label := range n.Labels() {
			key := utils.NormalizeText(label)
			if key == "" {
				continue
			}
			s.labels[n.Kind][key] = appendUnique(s.labels[n.Kind][key], n.Code)
		}

		if len(n.SkillRelations) > 0 {
			rel := make(map[string]Relation, len(n.SkillRelations))
			for _, sr := range n.SkillRelations {
				skill, ok := s.nodes[sr.SkillCode]
				if !ok || skill.Kind != KindSkill {
					return nil, fmt.Errorf("%w: occupation %q references %q", ErrUnknownSkill, n.Code, sr.SkillCode)
				}
				switch sr.Relation {
				case RelationEssential, RelationOptional:
				default:
					return nil, fmt.Errorf("occupation %q: unknown relation %q for skill %q", n.Code, sr.Relation, sr.SkillCode)
				}
				// essential wins when a skill is listed twice
				if rel[sr.SkillCode] != RelationEssential {
					rel[sr.SkillCode] = sr.Relation
				}
			}
			s.relations[n.Code] = rel
		}

		s.groups[n.Code] = s.resolveGroup(n)
	}

	for kind := range s.byKind {
		list := s.byKind[kind]
		sort.Slice(list, func(i, j int) bool { return list[i].Code < list[j].Code })
	}
	for _, byLabel := range s.labels {
		for key := range byLabel {
			sort.Strings(byLabel[key])
		}
	}

	return s, nil
}

// Ancestors returns parent codes from the nearest to the root.
func (s *Store) Ancestors(code string) ([]string, error) {
	n, ok := s.nodes[code]
	if !ok {
		return nil, fmt.Errorf("unknown code %q", code)
	}

	var out []string
	seen := map[string]struct{}{code: {}}
	for depth := 0; n.ParentCode != ""; depth++ {
		if depth >= MaxDepth {
			return nil, fmt.Errorf("%w: depth bound exceeded at %q", ErrCycle, code)
		}
		if _, dup := seen[n.ParentCode]; dup {
			return nil, fmt.Errorf("%w: %q revisits %q", ErrCycle, code, n.ParentCode)
		}
		seen[n.ParentCode] = struct{}{}
		out = append(out, n.ParentCode)
		n = s.nodes[n.ParentCode]
	}
	return out, nil
}

func (s *Store) resolveGroup(n *Node) string {
	if n.GroupCode != "" {
		return n.GroupCode
	}
	ancestors, _ := s.Ancestors(n.Code)
	for _, code := range ancestors {
		parent := s.nodes[code]
		if parent.GroupCode != "" {
			return parent.GroupCode
		}
		if parent.Kind == KindGroup {
			return parent.Code
		}
	}
	return ""
}

func (s *Store) Get(code string) (*Node, bool) {
	n, ok := s.nodes[code]
	return n, ok
}

// Has reports whether code exists with the given kind.
func (s *Store) Has(code string, kind Kind) bool {
	n, ok := s.nodes[code]
	return ok && n.Kind == kind
}

func (s *Store) Len() int {
	return len(s.nodes)
}

// Nodes returns nodes of a kind ordered by code.
func (s *Store) Nodes(kind Kind) []*Node {
	return s.byKind[kind]
}

// Relation returns how skill relates to occupation.
func (s *Store) Relation(occupation, skill string) Relation {
	return s.relations[occupation][skill]
}

// GroupCode returns the explicit group code of a node or of its nearest ancestor group.
func (s *Store) GroupCode(code string) string {
	return s.groups[code]
}

// LookupLabel returns codes whose preferred or alternate label equals text after normalization.
func (s *Store) LookupLabel(kind Kind, text string) []string {
	return s.labels[kind][utils.NormalizeText(text)]
}

func (s *Store) Label(code string) string {
	if n, ok := s.nodes[code]; ok {
		return n.Label
	}
	return ""
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
