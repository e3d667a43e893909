package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	Generation GenerationConfig `toml:"generation"`
	Models     ModelsConfig     `toml:"models"`
	Render     RenderConfig     `toml:"render"`
	Review     ReviewConfig     `toml:"review"`
	Knowledge  KnowledgeConfig  `toml:"knowledge"`
	Paths      PathsConfig      `toml:"paths"`
	Debug      bool             `toml:"debug"`
}

// GenerationConfig holds iteration-loop settings
type GenerationConfig struct {
	DefaultDuration        float64 `toml:"default_duration"`
	DefaultFPS             int     `toml:"default_fps"`
	DefaultWidth           int     `toml:"default_width"`
	DefaultHeight          int     `toml:"default_height"`
	MaxIterations          int     `toml:"max_iterations"`
	LibraryUpdateThreshold int     `toml:"library_update_threshold"`
}

// ModelsConfig selects the completion model per agent
type ModelsConfig struct {
	Director   string `toml:"director"`
	Programmer string `toml:"programmer"`
	Reviewer   string `toml:"reviewer"`
}

// RenderConfig holds renderer settings
type RenderConfig struct {
	BlenderPath string `toml:"blender_path"`
	Engine      string `toml:"engine"`
	Samples     int    `toml:"samples"`
	Quality     string `toml:"quality"`
	Format      string `toml:"format"`
	Codec       string `toml:"codec"`
	TimeoutSecs int    `toml:"timeout_secs"`
}

// ReviewConfig holds reviewer settings
type ReviewConfig struct {
	KeyFrameCount   int `toml:"key_frame_count"`
	MaxImageWidth   int `toml:"max_image_width"`
	MaxImageHeight  int `toml:"max_image_height"`
	FinalFrameLimit int `toml:"final_frame_limit"`
}

// KnowledgeConfig holds retrieval settings
type KnowledgeConfig struct {
	ChunkSize    int `toml:"chunk_size"`
	ChunkOverlap int `toml:"chunk_overlap"`
	QueryResults int `toml:"query_results"`
}

// PathsConfig holds the filesystem layout
type PathsConfig struct {
	OutputDir       string `toml:"output_dir"`
	TempDir         string `toml:"temp_dir"`
	DatabasePath    string `toml:"database_path"`
	CustomFunctions string `toml:"custom_functions"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".kubrick")
	return &Config{
		Generation: GenerationConfig{
			DefaultDuration:        5.0,
			DefaultFPS:             24,
			DefaultWidth:           1920,
			DefaultHeight:          1080,
			MaxIterations:          15,
			LibraryUpdateThreshold: 3,
		},
		Models: ModelsConfig{
			Director:   "gpt-4o",
			Programmer: "gpt-4o",
			Reviewer:   "gpt-4o",
		},
		Render: RenderConfig{
			BlenderPath: "blender",
			Engine:      "CYCLES",
			Samples:     128,
			Quality:     "HIGH",
			Format:      "FFMPEG",
			Codec:       "H264",
			TimeoutSecs: 300,
		},
		Review: ReviewConfig{
			KeyFrameCount:   5,
			MaxImageWidth:   1024,
			MaxImageHeight:  1024,
			FinalFrameLimit: 30,
		},
		Knowledge: KnowledgeConfig{
			ChunkSize:    1000,
			ChunkOverlap: 100,
			QueryResults: 5,
		},
		Paths: PathsConfig{
			OutputDir:       filepath.Join(base, "output"),
			TempDir:         filepath.Join(base, "temp"),
			DatabasePath:    filepath.Join(base, "kubrick.db"),
			CustomFunctions: filepath.Join(base, "custom_functions.json"),
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.Paths.OutputDir = ExpandPath(cfg.Paths.OutputDir)
	cfg.Paths.TempDir = ExpandPath(cfg.Paths.TempDir)
	cfg.Paths.DatabasePath = ExpandPath(cfg.Paths.DatabasePath)
	cfg.Paths.CustomFunctions = ExpandPath(cfg.Paths.CustomFunctions)
	cfg.Render.BlenderPath = ExpandPath(cfg.Render.BlenderPath)

	return cfg, nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "kubrick", "config.toml")
}
