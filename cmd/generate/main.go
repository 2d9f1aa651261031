package main

import (
	"log"
	"os"
	"path/filepath"

	"github.com/rxtech-lab/btcusd-dataset/pkg/config"
	"gopkg.in/yaml.v3"
)

const (
	schemaName       = "updater-config.json"
	sampleConfigName = "updater.yaml"
)

// generate writes the configuration schema and, if missing, a sample configuration into dir.
func generate(dir string) error {
	schemaJSON, err := config.GenerateSchemaJSON()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	schemaPath := filepath.Join(dir, schemaName)
	if err := os.WriteFile(schemaPath, []byte(schemaJSON), 0o644); err != nil {
		return err
	}

	log.Printf("Schema successfully generated at %s", schemaPath)

	sampleConfigPath := filepath.Join(dir, sampleConfigName)
	if _, err := os.Stat(sampleConfigPath); !os.IsNotExist(err) {
		return nil
	}

	yamlBytes, err := yaml.Marshal(config.Default())
	if err != nil {
		return err
	}

	yamlBytes = append([]byte("# yaml-language-server: $schema="+schemaName+"\n"), yamlBytes...)
	if err := os.WriteFile(sampleConfigPath, yamlBytes, 0o644); err != nil {
		return err
	}

	log.Printf("Sample config successfully generated at %s", sampleConfigPath)

	return nil
}

func main() {
	if err := generate("./config"); err != nil {
		log.Fatalf("Failed to generate config files: %v", err)
	}
}
