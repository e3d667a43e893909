package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"log"
	"strings"
	"time"

	"golang.org/x/image/draw"

	"github.com/kubrick-video/kubrick/internal/domain"
	"github.com/kubrick-video/kubrick/internal/llm"
	"github.com/kubrick-video/kubrick/internal/prompts"
)

// FrameExtractor pulls frames out of a rendered video file. The Blender
// executor satisfies this.
type FrameExtractor interface {
	ExtractVideoFrames(ctx context.Context, videoPath string, max int) [][]byte
}

// ReviewerConfig bounds how much image data one review sends to the model.
type ReviewerConfig struct {
	KeyFrameCount   int
	MaxImageWidth   int
	MaxImageHeight  int
	FinalFrameLimit int
}

// Reviewer judges rendered frames against a sub-process description. It
// never returns errors: anything that goes wrong inside a review becomes
// FAILED feedback with score 0, which the loop treats like any other
// rejection.
type Reviewer struct {
	client    llm.Client
	prompts   *prompts.Loader
	extractor FrameExtractor
	model     string
	config    ReviewerConfig
}

// NewReviewer creates a reviewer. Extractor is only needed for final-video
// review and may be nil otherwise.
func NewReviewer(client llm.Client, loader *prompts.Loader, extractor FrameExtractor, model string, config ReviewerConfig) *Reviewer {
	if config.KeyFrameCount <= 0 {
		config.KeyFrameCount = 5
	}
	if config.MaxImageWidth <= 0 {
		config.MaxImageWidth = 1024
	}
	if config.MaxImageHeight <= 0 {
		config.MaxImageHeight = 1024
	}
	if config.FinalFrameLimit <= 0 {
		config.FinalFrameLimit = 30
	}
	return &Reviewer{
		client:    client,
		prompts:   loader,
		extractor: extractor,
		model:     model,
		config:    config,
	}
}

// categoryMetrics lists what the reviewer is told to judge per category.
var categoryMetrics = map[domain.SubProcess]struct{ primary, secondary []string }{
	domain.SubProcessScene: {
		primary:   []string{"asset placement", "scale accuracy", "environment consistency"},
		secondary: []string{"texture quality", "lighting integration"},
	},
	domain.SubProcessCharacter: {
		primary:   []string{"character visibility", "positioning", "scale", "orientation"},
		secondary: []string{"rigging quality", "mesh integrity"},
	},
	domain.SubProcessMotion: {
		primary:   []string{"motion smoothness", "trajectory accuracy", "speed consistency"},
		secondary: []string{"physics realism", "keyframe timing"},
	},
	domain.SubProcessLighting: {
		primary:   []string{"illumination quality", "shadow accuracy", "mood matching"},
		secondary: []string{"color temperature", "exposure balance"},
	},
	domain.SubProcessCinematography: {
		primary:   []string{"framing", "camera movement", "focus", "composition"},
		secondary: []string{"motion blur", "depth of field"},
	},
}

var generalMetrics = []string{"visual quality", "prompt adherence", "technical correctness"}

// metricScore is one named metric in the structured verdict. Strict
// structured output cannot express a map keyed by metric name.
type metricScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// reviewResponse is the structured verdict requested from the model.
type reviewResponse struct {
	Passed      bool          `json:"passed"`
	Score       float64       `json:"score"`
	Issues      []string      `json:"issues"`
	Suggestions []string      `json:"suggestions"`
	Metrics     []metricScore `json:"metrics"`
}

// ReviewOutput reviews captured frames for one sub-process.
func (r *Reviewer) ReviewOutput(ctx context.Context, sub domain.SubProcessDescription, frames [][]byte) domain.ReviewFeedback {
	log.Printf("[reviewer] reviewing %s output (%d frames)", sub.Type, len(frames))

	if len(frames) == 0 {
		return domain.FailedFeedback("no frames available for review",
			"check visual output generation")
	}

	prepared := r.prepareFrames(frames)
	if len(prepared) == 0 {
		return domain.FailedFeedback("no reviewable frames after preparation",
			"check rendered frame format")
	}

	metrics := categoryMetrics[sub.Type]
	prompt, err := r.prompts.BuildReviewPrompt(prompts.ReviewData{
		Type:        string(sub.Type),
		Description: sub.Description,
		Parameters:  formatParameters(sub.Parameters),
		Primary:     strings.Join(metrics.primary, ", "),
		Secondary:   strings.Join(metrics.secondary, ", "),
		General:     strings.Join(generalMetrics, ", "),
	})
	if err != nil {
		return downgrade("building review prompt", err)
	}

	raw, err := r.client.Complete(ctx, llm.Request{
		Model:       r.model,
		Prompt:      prompt,
		Images:      prepared,
		Schema:      llm.GenerateSchema[reviewResponse](),
		SchemaName:  "frame_review",
		MaxTokens:   1000,
		Temperature: 0.5,
	})
	if err != nil {
		return downgrade("review completion", err)
	}

	var resp reviewResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return downgrade("parsing review", err)
	}

	var metricValues map[string]float64
	if len(resp.Metrics) > 0 {
		metricValues = make(map[string]float64, len(resp.Metrics))
		for _, m := range resp.Metrics {
			metricValues[m.Name] = m.Score
		}
	}

	feedback := domain.ReviewFeedback{
		Status:      domain.DeriveStatus(resp.Passed, resp.Score),
		Score:       resp.Score,
		Issues:      resp.Issues,
		Suggestions: resp.Suggestions,
		Metrics:     metricValues,
		ReviewedAt:  time.Now(),
	}
	log.Printf("[reviewer] review completed: status=%s score=%.2f", feedback.Status, feedback.Score)
	return feedback
}

// ReviewFinalVideo extracts leading frames from the rendered video and
// reviews them against the whole description as a synthetic cinematography
// sub-process.
func (r *Reviewer) ReviewFinalVideo(ctx context.Context, videoPath, description string) domain.ReviewFeedback {
	if r.extractor == nil {
		return domain.FailedFeedback("no frame extractor configured",
			"check reviewer wiring")
	}

	frames := r.extractor.ExtractVideoFrames(ctx, videoPath, r.config.FinalFrameLimit)
	if len(frames) == 0 {
		return domain.FailedFeedback("failed to load video",
			"check video file path and format")
	}

	overall := domain.SubProcessDescription{
		Type:        domain.SubProcessCinematography,
		Description: description,
		Parameters:  map[string]any{"review_type": "final"},
	}
	return r.ReviewOutput(ctx, overall, frames)
}

// downgrade converts an internal reviewer failure into FAILED feedback.
func downgrade(stage string, err error) domain.ReviewFeedback {
	log.Printf("[reviewer] %s failed: %v", stage, err)
	return domain.FailedFeedback(fmt.Sprintf("review failed: %v", err),
		"check visual output generation")
}

// prepareFrames samples key frames evenly across the capture, downscales
// anything over the configured bounds, and re-encodes as JPEG. Frames that
// fail to decode are dropped.
func (r *Reviewer) prepareFrames(frames [][]byte) [][]byte {
	sampled := sampleFrames(frames, r.config.KeyFrameCount)

	prepared := make([][]byte, 0, len(sampled))
	for _, data := range sampled {
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			log.Printf("[reviewer] dropping undecodable frame: %v", err)
			continue
		}
		img = r.downscale(img)

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			log.Printf("[reviewer] dropping unencodable frame: %v", err)
			continue
		}
		prepared = append(prepared, buf.Bytes())
	}
	return prepared
}

// sampleFrames picks count frames evenly across the slice, always including
// the first and last. Fewer frames than count come back unchanged.
func sampleFrames(frames [][]byte, count int) [][]byte {
	if len(frames) <= count {
		return frames
	}
	sampled := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		idx := i * (len(frames) - 1) / (count - 1)
		sampled = append(sampled, frames[idx])
	}
	return sampled
}

// downscale shrinks an image to fit the configured bounds, preserving
// aspect ratio. Images already within bounds pass through.
func (r *Reviewer) downscale(img image.Image) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	scaleW := float64(r.config.MaxImageWidth) / float64(w)
	scaleH := float64(r.config.MaxImageHeight) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	if scale >= 1 {
		return img
	}

	dst := image.NewRGBA(image.Rect(0, 0, int(float64(w)*scale), int(float64(h)*scale)))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
