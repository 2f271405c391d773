package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/patrickspencer/hydranotify/internal/pipeline"
)

// WatchConfig lists the jobs to monitor. Dir optionally names a directory
// of *.yaml watch files whose lists are merged into this one.
type WatchConfig struct {
	Jobsets     []string `yaml:"jobsets" json:"jobsets"`
	Jobs        []string `yaml:"jobs" json:"jobs"`
	Systems     []string `yaml:"systems" json:"systems"`
	Maintainers []string `yaml:"maintainers" json:"maintainers"`
	Dir         string   `yaml:"dir" json:"-"`
}

// Append adds the entries of other to w.
func (w *WatchConfig) Append(other WatchConfig) {
	w.Jobsets = append(w.Jobsets, other.Jobsets...)
	w.Jobs = append(w.Jobs, other.Jobs...)
	w.Systems = append(w.Systems, other.Systems...)
	w.Maintainers = append(w.Maintainers, other.Maintainers...)
}

// ParseWatchYAML parses a single watch file.
func ParseWatchYAML(data []byte) (*WatchConfig, error) {
	var w WatchConfig
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	w.Dir = ""
	return &w, nil
}

// LoadWatchDir reads all *.yaml files from dir and merges them in file
// name order.
func LoadWatchDir(dir string) (*WatchConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	merged := &WatchConfig{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		w, err := ParseWatchYAML(data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		merged.Append(*w)
	}

	return merged, nil
}

// Resolve merges the watch directory, if any, and returns the pipeline
// input. Systems fall back to DefaultSystems when none are listed.
func (w WatchConfig) Resolve() (pipeline.Watch, error) {
	all := WatchConfig{
		Jobsets:     append([]string(nil), w.Jobsets...),
		Jobs:        append([]string(nil), w.Jobs...),
		Systems:     append([]string(nil), w.Systems...),
		Maintainers: append([]string(nil), w.Maintainers...),
	}
	if w.Dir != "" {
		fromDir, err := LoadWatchDir(w.Dir)
		if err != nil {
			return pipeline.Watch{}, fmt.Errorf("watch dir: %w", err)
		}
		all.Append(*fromDir)
	}

	systems := all.Systems
	if len(systems) == 0 {
		systems = append([]string(nil), DefaultSystems...)
	}
	return pipeline.Watch{
		Jobsets:     all.Jobsets,
		Jobs:        all.Jobs,
		Systems:     systems,
		Maintainers: all.Maintainers,
	}, nil
}
