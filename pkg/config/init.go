package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// sectionComments documents each top-level section of a generated file.
var sectionComments = map[string]string{
	"logging": "Logging: level (DEBUG, INFO, WARN, ERROR), format (text, json), output (stdout, stderr, file path)",
	"server":  "Process settings and the Prometheus endpoint (/metrics, /stats)",
	"disk":    "File-system disk. type: memory, filesystem, badger, bolt or s3; sectors are 512 bytes",
	"swap":    "Swap disk, same options as disk. Every 8 sectors hold one 4 KiB page",
	"cache":   "Sector cache in front of the disk. flush_interval 0 disables write-behind",
	"memory":  "Simulated physical memory: frames are 4 KiB; max_stack_size is in bytes",
}

// InitConfig writes the default configuration to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes the default configuration to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateYAMLWithComments renders cfg as YAML with a header and one comment
// per section. Durations are written in Go duration syntax so they read
// back through viper unchanged.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var root yaml.Node
	if err := root.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	setScalar(&root, cfg.Server.ShutdownTimeout.String(), "server", "shutdown_timeout")
	setScalar(&root, cfg.Cache.FlushInterval.String(), "cache", "flush_interval")

	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		if c, ok := sectionComments[key.Value]; ok {
			key.HeadComment = c
		}
	}

	var buf bytes.Buffer
	buf.WriteString("# dittocore Configuration File\n")
	buf.WriteString("#\n")
	buf.WriteString("# Every value can be overridden with DITTOCORE_<SECTION>_<KEY>,\n")
	buf.WriteString("# e.g. DITTOCORE_LOGGING_LEVEL=DEBUG.\n\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// setScalar replaces the value at path in a mapping node with a string.
func setScalar(node *yaml.Node, value string, path ...string) {
	for _, key := range path {
		node = mappingValue(node, key)
		if node == nil {
			return
		}
	}
	node.Kind = yaml.ScalarNode
	node.Tag = "!!str"
	node.Value = value
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
