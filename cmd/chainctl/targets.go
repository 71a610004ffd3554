package main

import (
	"fmt"
	"os"

	chainmanager "chain_manager"

	"gopkg.in/yaml.v3"
)

// readTargets reads a yaml mapping of joint name to position, keeping file order.
func readTargets(path string) (chainmanager.JointState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return chainmanager.JointState{}, err
	}
	return parseTargets(data)
}

func parseTargets(data []byte) (chainmanager.JointState, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return chainmanager.JointState{}, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return chainmanager.JointState{}, fmt.Errorf("targets must be a mapping of joint name to position")
	}

	mapping := doc.Content[0]
	names := make([]string, 0, len(mapping.Content)/2)
	positions := make([]float64, 0, len(mapping.Content)/2)
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key, value := mapping.Content[i], mapping.Content[i+1]
		var position float64
		if err := value.Decode(&position); err != nil {
			return chainmanager.JointState{}, fmt.Errorf("position of joint %s (line %d): %w", key.Value, value.Line, err)
		}
		names = append(names, key.Value)
		positions = append(positions, position)
	}
	return chainmanager.NewJointState(names, positions, nil)
}
