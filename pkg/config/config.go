// Package config provides configuration loading and management for ctmesh.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"ctmesh/pkg/segmentation"
)

// TissueConfig holds the tunable cleanup and extraction parameters of one
// tissue class. Density thresholds are fixed per class and not configurable.
type TissueConfig struct {
	// Radius is the structuring element radius in voxels
	Radius int `yaml:"radius"`

	// MinSize is the smallest connected component kept, in voxels
	MinSize int `yaml:"minSize"`

	// Stride is the marching cubes sampling step
	Stride int `yaml:"stride"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`

		// TargetSpacing is the isotropic voxel size in mm after resampling
		TargetSpacing float64 `yaml:"targetSpacing"`

		// ChunkDepth is the number of output slices interpolated per resampling task
		ChunkDepth int `yaml:"chunkDepth"`
	} `yaml:"processing"`

	// Tissues holds per-class overrides
	Tissues struct {
		Skull  TissueConfig `yaml:"skull"`
		Brain  TissueConfig `yaml:"brain"`
		Vessel TissueConfig `yaml:"vessel"`
	} `yaml:"tissues"`

	// Output parameters
	Output struct {
		// MeshFile is where the JSON mesh document is written
		MeshFile string `yaml:"meshFile"`

		// STLDir receives one binary STL per tissue when set
		STLDir string `yaml:"stlDir"`

		// PreviewDir receives PNG previews of the volume and masks when set
		PreviewDir string `yaml:"previewDir"`

		// PreviewSize is the length the shorter preview side is scaled up to
		PreviewSize int `yaml:"previewSize"`

		// IsoFile receives an STL of the volume contoured at IsoHU when set
		IsoFile string  `yaml:"isoFile"`
		IsoHU   float64 `yaml:"isoHU"`

		// IsoStep is the marching cubes sampling step of the iso-surface
		IsoStep int `yaml:"isoStep"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		// Mode selects the zap preset: "dev" or "prod"
		Mode string `yaml:"mode"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.TargetSpacing = 1.0
	cfg.Processing.ChunkDepth = 8

	table := segmentation.DefaultTable()
	cfg.Tissues.Skull = tissueConfigOf(table[segmentation.Skull])
	cfg.Tissues.Brain = tissueConfigOf(table[segmentation.Brain])
	cfg.Tissues.Vessel = tissueConfigOf(table[segmentation.Vessel])

	cfg.Output.MeshFile = "meshes.json"
	cfg.Output.PreviewSize = 256
	cfg.Output.IsoHU = 300
	cfg.Output.IsoStep = 2
	cfg.Output.Verbose = false

	cfg.Logging.Mode = "dev"

	return cfg
}

func tissueConfigOf(p segmentation.Params) TissueConfig {
	return TissueConfig{Radius: p.Radius, MinSize: p.MinSize, Stride: p.Stride}
}

// TissueTable returns the default tissue table with this configuration's
// overrides applied
func (c *Config) TissueTable() segmentation.Table {
	table := segmentation.DefaultTable()
	apply := func(class segmentation.TissueClass, tc TissueConfig) {
		p := table[class]
		p.Radius = tc.Radius
		p.MinSize = tc.MinSize
		p.Stride = tc.Stride
		table[class] = p
	}
	apply(segmentation.Skull, c.Tissues.Skull)
	apply(segmentation.Brain, c.Tissues.Brain)
	apply(segmentation.Vessel, c.Tissues.Vessel)
	return table
}

// Validate checks that the configuration values are usable
func (c *Config) Validate() error {
	if c.Processing.NumCores < 1 {
		return fmt.Errorf("processing.numCores must be at least 1, got %d", c.Processing.NumCores)
	}
	if c.Processing.TargetSpacing <= 0 {
		return fmt.Errorf("processing.targetSpacing must be positive, got %g", c.Processing.TargetSpacing)
	}
	if c.Processing.ChunkDepth < 1 {
		return fmt.Errorf("processing.chunkDepth must be at least 1, got %d", c.Processing.ChunkDepth)
	}
	if c.Output.PreviewSize < 0 {
		return fmt.Errorf("output.previewSize must not be negative, got %d", c.Output.PreviewSize)
	}
	if c.Output.IsoStep < 1 {
		return fmt.Errorf("output.isoStep must be at least 1, got %d", c.Output.IsoStep)
	}
	for name, tc := range map[string]TissueConfig{
		"skull":  c.Tissues.Skull,
		"brain":  c.Tissues.Brain,
		"vessel": c.Tissues.Vessel,
	} {
		if tc.Radius < 0 {
			return fmt.Errorf("tissues.%s.radius must not be negative", name)
		}
		if tc.MinSize < 0 {
			return fmt.Errorf("tissues.%s.minSize must not be negative", name)
		}
		if tc.Stride < 1 {
			return fmt.Errorf("tissues.%s.stride must be at least 1", name)
		}
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
