package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Input bounds for a generation request.
const (
	MinDescriptionLen = 5
	MaxDescriptionLen = 2000
	MinDuration       = 0.1
	MaxDuration       = 300.0
	MinFPS            = 1
	MaxFPS            = 120
	MinDimension      = 240
	MaxWidth          = 7680
	MaxHeight         = 4320
)

// ValidateDescription checks the free-text video description.
func ValidateDescription(text string) error {
	text = strings.TrimSpace(text)
	if len(text) < MinDescriptionLen {
		return fmt.Errorf("description too short (minimum %d characters)", MinDescriptionLen)
	}
	if len(text) > MaxDescriptionLen {
		return fmt.Errorf("description too long (maximum %d characters)", MaxDescriptionLen)
	}
	return nil
}

// ValidateVideoDescription checks all numeric fields of a generation request.
func ValidateVideoDescription(v VideoDescription) error {
	if err := ValidateDescription(v.Text); err != nil {
		return err
	}
	if v.Duration < MinDuration || v.Duration > MaxDuration {
		return fmt.Errorf("duration %.2fs out of range [%.1f, %.1f]", v.Duration, MinDuration, MaxDuration)
	}
	if v.FPS < MinFPS || v.FPS > MaxFPS {
		return fmt.Errorf("fps %d out of range [%d, %d]", v.FPS, MinFPS, MaxFPS)
	}
	if v.Width < MinDimension || v.Height < MinDimension {
		return fmt.Errorf("resolution %dx%d too small (minimum %dx%d)", v.Width, v.Height, MinDimension, MinDimension)
	}
	if v.Width > MaxWidth || v.Height > MaxHeight {
		return fmt.Errorf("resolution %dx%d too large (maximum %dx%d)", v.Width, v.Height, MaxWidth, MaxHeight)
	}
	return nil
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	repeatedUnderscores = regexp.MustCompile(`_+`)
)

// SanitizeFilename replaces filesystem-unsafe characters in a user-supplied
// output filename. An empty result falls back to a timestamped name.
func SanitizeFilename(name string) string {
	s := unsafeFilenameChars.ReplaceAllString(name, "_")
	s = repeatedUnderscores.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_. ")
	if s == "" {
		s = "file_" + time.Now().Format(runIDLayout)
	}
	return s
}
