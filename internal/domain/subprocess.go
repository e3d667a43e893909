// Package domain holds the core data model for the video generation pipeline.
package domain

// SubProcess is one of the five fixed cinematographic categories a video
// description is decomposed into.
type SubProcess string

const (
	SubProcessScene          SubProcess = "scene"
	SubProcessCharacter      SubProcess = "character"
	SubProcessMotion         SubProcess = "motion"
	SubProcessLighting       SubProcess = "lighting"
	SubProcessCinematography SubProcess = "cinematography"
)

// Taxonomy returns all sub-process categories in their fixed processing order.
// Scene building depends on this order: later categories assume earlier ones
// already mutated the scene.
func Taxonomy() []SubProcess {
	return []SubProcess{
		SubProcessScene,
		SubProcessCharacter,
		SubProcessMotion,
		SubProcessLighting,
		SubProcessCinematography,
	}
}

// Ordinal returns the stable taxonomy index of s, or -1 for an unknown category.
func (s SubProcess) Ordinal() int {
	for i, t := range Taxonomy() {
		if s == t {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the five taxonomy categories.
func (s SubProcess) Valid() bool {
	return s.Ordinal() >= 0
}

// SubProcessDescription is one decomposed unit of work, produced by the
// director and read-only thereafter.
type SubProcessDescription struct {
	Type        SubProcess     `json:"type"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Order       int            `json:"order"`

	// Dependencies is declared by the director but never read by the
	// scheduler; taxonomy order alone governs sequencing.
	Dependencies []string `json:"dependencies,omitempty"`
}
