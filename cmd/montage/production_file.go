package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bobarin/montage/internal/models"
)

// loadProduction reads a production from a YAML or JSON file.
func loadProduction(path string) (models.Production, error) {
	var prod models.Production
	data, err := os.ReadFile(path)
	if err != nil {
		return prod, fmt.Errorf("read production: %w", err)
	}
	if err := yaml.Unmarshal(data, &prod); err != nil {
		return prod, fmt.Errorf("parse production %s: %w", path, err)
	}
	if len(prod.Scenes) == 0 {
		return prod, models.ConfigError("production %s has no scenes", path)
	}
	return prod, nil
}
