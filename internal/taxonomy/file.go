package taxonomy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type document struct {
	Nodes []*Node `yaml:"nodes"`
}

// LoadFile reads a YAML or JSON node list, either bare or under a "nodes" key.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	nodes, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode taxonomy %s: %w", path, err)
	}

	store, err := New(nodes)
	if err != nil {
		return nil, fmt.Errorf("taxonomy %s: %w", path, err)
	}
	return store, nil
}

func decode(data []byte) ([]*Node, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	if root.Content[0].Kind == yaml.SequenceNode {
		var nodes []*Node
		if err := root.Content[0].Decode(&nodes); err != nil {
			return nil, err
		}
		return nodes, nil
	}

	var doc document
	if err := root.Content[0].Decode(&doc); err != nil {
		return nil, err
	}
	return doc.Nodes, nil
}
