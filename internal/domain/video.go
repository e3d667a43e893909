package domain

import "time"

// VideoDescription is the immutable input to one generation run.
type VideoDescription struct {
	Text      string            `json:"text"`
	Duration  float64           `json:"duration"` // seconds
	FPS       int               `json:"fps"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// TotalFrames returns the number of frames implied by duration and frame rate.
func (v VideoDescription) TotalFrames() int {
	return int(float64(v.FPS) * v.Duration)
}

// RenderSettings configures the renderer. It carries no behavior; defaults
// apply when absent.
type RenderSettings struct {
	Width             int    `json:"width"`
	Height            int    `json:"height"`
	ResolutionPercent int    `json:"resolution_percent"`
	FPS               int    `json:"fps"`
	Format            string `json:"format"`
	Codec             string `json:"codec"`
	Quality           string `json:"quality"`
	Samples           int    `json:"samples"`
}

// DefaultRenderSettings returns the standard high-quality render configuration.
func DefaultRenderSettings() RenderSettings {
	return RenderSettings{
		Width:             1920,
		Height:            1080,
		ResolutionPercent: 100,
		FPS:               24,
		Format:            "FFMPEG",
		Codec:             "H264",
		Quality:           "HIGH",
		Samples:           128,
	}
}
