package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctmesh/pkg/segmentation"
)

// TestDefaultConfig verifies the defaults mirror the built-in tissue table
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1.0, cfg.Processing.TargetSpacing)
	assert.Equal(t, TissueConfig{Radius: 2, MinSize: 1000, Stride: 3}, cfg.Tissues.Skull)
	assert.Equal(t, TissueConfig{Radius: 1, MinSize: 500, Stride: 2}, cfg.Tissues.Brain)
	assert.Equal(t, TissueConfig{Radius: 1, MinSize: 50, Stride: 1}, cfg.Tissues.Vessel)
	assert.Equal(t, segmentation.DefaultTable(), cfg.TissueTable())
	assert.Equal(t, 256, cfg.Output.PreviewSize)
	assert.Equal(t, 300.0, cfg.Output.IsoHU)
	assert.Equal(t, 2, cfg.Output.IsoStep)
	assert.Empty(t, cfg.Output.IsoFile)
}

// TestLoadConfigMissingFile verifies that a missing file yields defaults
func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Tissues, cfg.Tissues)
}

// TestSaveAndLoadConfig verifies a round trip through YAML keeps overrides
func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ctmesh.yaml")

	cfg := DefaultConfig()
	cfg.Processing.NumCores = 3
	cfg.Processing.TargetSpacing = 0.5
	cfg.Tissues.Vessel.MinSize = 10
	cfg.Output.STLDir = "stl"
	cfg.Output.IsoFile = "stl/bone.stl"
	cfg.Output.IsoHU = 150
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Processing.NumCores)
	assert.Equal(t, 0.5, loaded.Processing.TargetSpacing)
	assert.Equal(t, "stl", loaded.Output.STLDir)
	assert.Equal(t, "stl/bone.stl", loaded.Output.IsoFile)
	assert.Equal(t, 150.0, loaded.Output.IsoHU)

	table := loaded.TissueTable()
	assert.Equal(t, 10, table[segmentation.Vessel].MinSize)
	assert.Equal(t, segmentation.Opening, table[segmentation.Vessel].Morphology)
}

// TestLoadConfigPartialOverride verifies unspecified keys keep their defaults
func TestLoadConfigPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tissues:\n  skull:\n    stride: 4\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Tissues.Skull.Stride)
	assert.Equal(t, 1000, cfg.Tissues.Skull.MinSize)
	assert.Equal(t, 2, cfg.Tissues.Skull.Radius)
}

// TestLoadConfigInvalid verifies that bad values are rejected
func TestLoadConfigInvalid(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"badYAML":    "processing: [",
		"zeroStride": "tissues:\n  brain:\n    stride: 0\n",
		"spacing":    "processing:\n  targetSpacing: -1\n",
		"isoStep":    "output:\n  isoStep: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0644))
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Processing.ChunkDepth, cfg.Processing.ChunkDepth)
}
