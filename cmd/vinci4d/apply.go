package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vinci4d/engine/pkg/client"
	"github.com/vinci4d/engine/pkg/errdefs"
	"github.com/vinci4d/engine/pkg/types"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a configuration file",
	Long: `Apply a Vinci4D configuration from a YAML file.

Examples:
  # Create a grid
  vinci4d apply -f grid.yaml

  # Register a function
  vinci4d apply -f function.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// Resource represents a generic Vinci4D resource manifest
type Resource struct {
	APIVersion string                 `yaml:"apiVersion"`
	Kind       string                 `yaml:"kind"`
	Metadata   ResourceMetadata       `yaml:"metadata"`
	Spec       map[string]interface{} `yaml:"spec"`
}

type ResourceMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

	var resource Resource
	if err := yaml.Unmarshal(data, &resource); err != nil {
		return fmt.Errorf("failed to parse YAML: %v", err)
	}

	c := apiClient(cmd)

	switch resource.Kind {
	case "Grid":
		return applyGrid(c, &resource)
	case "Function":
		return applyFunction(c, &resource)
	default:
		return fmt.Errorf("unsupported resource kind: %s", resource.Kind)
	}
}

func applyGrid(c *client.Client, resource *Resource) error {
	name := resource.Metadata.Name
	length := getInt(resource.Spec, "length", 1)
	width := getInt(resource.Spec, "width", 1)

	// Grids are identified by UID, so apply matches on name
	grids, err := c.ListGrids()
	if err != nil {
		return err
	}
	for _, g := range grids {
		if g.Name == name && g.Status != types.GridStatusTerminated {
			fmt.Printf("Grid already exists: %s (UID: %s, skipping)\n", name, g.UID)
			return nil
		}
	}

	fmt.Printf("Creating grid: %s\n", name)
	grid, err := c.CreateGrid(name, length, width)
	if err != nil {
		return fmt.Errorf("failed to create grid: %v", err)
	}
	fmt.Printf("✓ Grid created: %s (UID: %s, %d workers provisioning)\n",
		name, grid.UID, grid.Capacity())
	return nil
}

func applyFunction(c *client.Client, resource *Resource) error {
	name := resource.Metadata.Name
	gridUID := getString(resource.Spec, "gridUID", "")
	scriptPath := getString(resource.Spec, "scriptPath", "")

	if gridUID == "" {
		return fmt.Errorf("function gridUID is required")
	}
	if scriptPath == "" {
		return fmt.Errorf("function scriptPath is required")
	}

	if _, err := c.GetGrid(gridUID); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("grid %s not found", gridUID)
		}
		return err
	}

	params := make(map[string]interface{})
	if p, ok := resource.Spec["params"].(map[string]interface{}); ok {
		params = p
	}

	fn := &types.Function{
		Name:           name,
		GridUID:        gridUID,
		ScriptPath:     scriptPath,
		ArtifactoryURL: getString(resource.Spec, "artifactoryURL", ""),
		DockerImage:    getString(resource.Spec, "dockerImage", ""),
		BatchSize:      getInt(resource.Spec, "batchSize", 1),
		Params:         params,
		Resources: types.ResourceRequirements{
			CPU:            getFloat(resource.Spec, "cpu", 1.0),
			MemoryMB:       int64(getInt(resource.Spec, "memoryMB", 1024)),
			GPU:            getBool(resource.Spec, "gpu", false),
			TimeoutSeconds: getInt(resource.Spec, "timeoutSeconds", 0),
		},
	}

	fmt.Printf("Creating function: %s\n", name)
	created, err := c.CreateFunction(fn)
	if err != nil {
		return fmt.Errorf("failed to create function: %v", err)
	}
	fmt.Printf("✓ Function created: %s (UID: %s)\n", name, created.UID)
	return nil
}

// Helper functions
func getString(m map[string]interface{}, key, defaultValue string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return defaultValue
}

func getInt(m map[string]interface{}, key string, defaultValue int) int {
	if v, ok := m[key]; ok {
		switch val := v.(type) {
		case int:
			return val
		case float64:
			return int(val)
		}
	}
	return defaultValue
}

func getFloat(m map[string]interface{}, key string, defaultValue float64) float64 {
	if v, ok := m[key]; ok {
		switch val := v.(type) {
		case float64:
			return val
		case int:
			return float64(val)
		}
	}
	return defaultValue
}

func getBool(m map[string]interface{}, key string, defaultValue bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return defaultValue
}
