package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/phoenix-pocx/phoenixd/internal/observability"
)

// SaveMining writes the mining section into the YAML config file at path,
// preserving any other sections already in the file. An empty path selects
// the file the configuration was loaded from, or DefaultConfigPath.
//
// The write is atomic: a temp file in the same directory is renamed over
// the target.
func SaveMining(m *MiningConfig, path, reason string) (string, error) {
	if m == nil {
		return "", fmt.Errorf("mining config is nil")
	}
	if err := m.Validate(); err != nil {
		return "", err
	}
	path = strings.TrimSpace(path)
	if path == "" {
		path = ConfigFileUsed()
	}
	if path == "" {
		path = DefaultConfigPath()
	}

	doc := map[string]any{}
	if b, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return "", fmt.Errorf("parse existing config %s: %w", path, err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read existing config %s: %w", path, err)
	}
	doc["mining"] = m

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "config.yaml.tmp.*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("rename config: %w", err)
	}

	if logger := observability.CLILogger; logger != nil {
		logger.Info("Saved mining config", zap.String("path", path), zap.String("reason", reason))
	}

	configMu.Lock()
	if appConfig != nil {
		next := *appConfig
		next.Mining = *m
		appConfig = &next
	}
	configMu.Unlock()
	return path, nil
}
