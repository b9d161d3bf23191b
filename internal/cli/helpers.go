package cli

import (
	"encoding/json"
	"fmt"

	"sigs.k8s.io/yaml"
)

func printResponse(response any, output string) error {
	switch output {
	case yamlFormat:
		data, err := yaml.Marshal(response)
		if err != nil {
			return fmt.Errorf("marshalling response: %w", err)
		}
		fmt.Print(string(data))
	default:
		data, err := json.MarshalIndent(response, "", "  ")
		if err != nil {
			return fmt.Errorf("marshalling response: %w", err)
		}
		fmt.Println(string(data))
	}
	return nil
}
