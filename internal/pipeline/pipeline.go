// Package pipeline orchestrates the generate-execute-review loop that turns
// a text description into a rendered video. The director decomposes the
// description, the programmer writes Blender scripts per sub-process, the
// executor renders preview frames, and the reviewer decides whether each
// script is accepted into the accumulated scene.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/kubrick-video/kubrick/internal/agents"
	"github.com/kubrick-video/kubrick/internal/config"
	"github.com/kubrick-video/kubrick/internal/domain"
	"github.com/kubrick-video/kubrick/internal/runstore"
	"github.com/kubrick-video/kubrick/internal/system"
)

// Decomposer breaks a video description into ordered sub-processes.
type Decomposer interface {
	Decompose(ctx context.Context, desc domain.VideoDescription) ([]domain.SubProcessDescription, error)
}

// Generator produces Blender scripts and grows the function library.
type Generator interface {
	Generate(ctx context.Context, sub domain.SubProcessDescription, feedback *domain.ReviewFeedback) (string, error)
	UpdateLibrary(ctx context.Context, feedback domain.ReviewFeedback) (bool, error)
}

// Reviewer judges rendered output. Neither method returns an error; internal
// failures come back as FAILED feedback.
type Reviewer interface {
	ReviewOutput(ctx context.Context, sub domain.SubProcessDescription, frames [][]byte) domain.ReviewFeedback
	ReviewFinalVideo(ctx context.Context, videoPath, description string) domain.ReviewFeedback
}

// ScriptExecutor is the rendering boundary.
type ScriptExecutor interface {
	Execute(ctx context.Context, script, outputPath string, settings domain.RenderSettings, startFrame, endFrame int) domain.ExecutionResult
	Validate(ctx context.Context, script string) (bool, string)
	CaptureFrames(ctx context.Context, script string, frames []int, settings domain.RenderSettings) [][]byte
}

// RunStore persists decompositions and results. Persistence failures never
// fail a run; they are logged and the run continues.
type RunStore interface {
	SaveDecomposition(runID domain.RunID, desc domain.VideoDescription, subs []domain.SubProcessDescription) error
	SaveResult(result *domain.RunResult) error
}

// KnowledgeBase is the retrieval store surface the pipeline manages.
type KnowledgeBase interface {
	Load(ctx context.Context, documents []string, metadata []map[string]string, sourceType string) (int, error)
	Stats(ctx context.Context) (map[string]any, error)
}

// FunctionCatalog is the library surface needed for stats.
type FunctionCatalog interface {
	List() []string
}

// Pipeline wires the collaborators together. All fields are set by New;
// Store, Knowledge, and Catalog may be nil, which disables persistence,
// knowledge loading, and the corresponding stats sections.
type Pipeline struct {
	cfg       *config.Config
	director  Decomposer
	coder     Generator
	reviewer  Reviewer
	executor  ScriptExecutor
	store     RunStore
	knowledge KnowledgeBase
	catalog   FunctionCatalog
	now       func() time.Time
}

// New creates a pipeline. A nil clock defaults to time.Now.
func New(cfg *config.Config, director Decomposer, coder Generator, reviewer Reviewer, executor ScriptExecutor, store RunStore, knowledge KnowledgeBase, catalog FunctionCatalog, clock func() time.Time) *Pipeline {
	if clock == nil {
		clock = time.Now
	}
	return &Pipeline{
		cfg:       cfg,
		director:  director,
		coder:     coder,
		reviewer:  reviewer,
		executor:  executor,
		store:     store,
		knowledge: knowledge,
		catalog:   catalog,
		now:       clock,
	}
}

// GenerateVideo runs the full pipeline for one description. Everything that
// can go wrong inside the pipeline is recorded in the returned RunResult;
// the error return is non-nil only when the context was cancelled or the
// description itself is invalid.
func (p *Pipeline) GenerateVideo(ctx context.Context, description, outputFilename string, settings *domain.RenderSettings) (*domain.RunResult, error) {
	start := p.now()

	desc := domain.VideoDescription{
		Text:      description,
		Duration:  p.cfg.Generation.DefaultDuration,
		FPS:       p.cfg.Generation.DefaultFPS,
		Width:     p.cfg.Generation.DefaultWidth,
		Height:    p.cfg.Generation.DefaultHeight,
		CreatedAt: start,
	}
	if err := domain.ValidateVideoDescription(desc); err != nil {
		return nil, err
	}

	runID := domain.NewRunID(start)
	if outputFilename == "" {
		outputFilename = runID.String() + ".mp4"
	} else {
		outputFilename = domain.SanitizeFilename(outputFilename)
	}
	outputPath := filepath.Join(p.cfg.Paths.OutputDir, outputFilename)

	result := &domain.RunResult{
		RunID:       runID,
		Description: description,
		OutputPath:  outputPath,
	}

	log.Printf("[pipeline] starting run %s: %s", runID, truncate(description, 100))

	log.Printf("[pipeline] phase 1: decomposing description")
	subs, err := p.director.Decompose(ctx, desc)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var de *agents.DecompositionError
		if errors.As(err, &de) {
			result.AddError("decomposition", de.Error())
		} else {
			result.AddError("decomposition", err.Error())
		}
		return p.finish(result, start), nil
	}

	if p.store != nil {
		if err := p.store.SaveDecomposition(runID, desc, subs); err != nil {
			log.Printf("[pipeline] saving decomposition failed: %v", err)
		}
	}

	accumulated := baseScript
	for i, sub := range subs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("[pipeline] phase 2.%d: processing %s", i+1, sub.Type)

		outcome, _ := p.processSubProcess(ctx, sub, accumulated, desc)
		result.Outcomes = append(result.Outcomes, outcome)
		result.TotalIterations += outcome.Iterations

		if outcome.Accepted {
			accumulated += "\n\n" + outcome.Script
		} else {
			log.Printf("[pipeline] %s not accepted: %s", sub.Type, outcome.FailReason)
			result.AddError(string(sub.Type), outcome.FailReason)
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	log.Printf("[pipeline] phase 3: rendering final video")
	renderResult := p.renderFinalVideo(ctx, accumulated, outputPath, desc, settings)
	if renderResult.Success {
		result.Success = true
		log.Printf("[pipeline] video generated: %s", outputPath)

		final := p.reviewer.ReviewFinalVideo(ctx, outputPath, description)
		score := final.Score
		result.FinalScore = &score
		result.FinalReview = &final
	} else {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		result.AddError("rendering", renderResult.Error)
	}

	return p.finish(result, start), nil
}

func (p *Pipeline) finish(result *domain.RunResult, start time.Time) *domain.RunResult {
	result.Elapsed = p.now().Sub(start)
	if p.store != nil {
		if err := p.store.SaveResult(result); err != nil {
			log.Printf("[pipeline] saving result failed: %v", err)
		}
	}
	log.Printf("[pipeline] run %s finished: success=%v iterations=%d elapsed=%s",
		result.RunID, result.Success, result.TotalIterations, result.Elapsed.Round(time.Millisecond))
	return result
}

// renderFinalVideo appends the render trigger to the accumulated script and
// executes it over the full frame range.
func (p *Pipeline) renderFinalVideo(ctx context.Context, script, outputPath string, desc domain.VideoDescription, settings *domain.RenderSettings) domain.ExecutionResult {
	finalScript := script + "\n\nrender_output()\n"

	rs := domain.DefaultRenderSettings()
	rs.Width = desc.Width
	rs.Height = desc.Height
	rs.FPS = desc.FPS
	if settings != nil {
		rs = *settings
	}

	return p.executor.Execute(ctx, finalScript, outputPath, rs, 1, desc.TotalFrames())
}

// LoadKnowledge adds documents to the knowledge base.
func (p *Pipeline) LoadKnowledge(ctx context.Context, documents []string, metadata []map[string]string, sourceType string) (int, error) {
	if p.knowledge == nil {
		return 0, fmt.Errorf("no knowledge base configured")
	}
	log.Printf("[pipeline] loading %d documents into knowledge base", len(documents))
	return p.knowledge.Load(ctx, documents, metadata, sourceType)
}

// Stats describes the pipeline's current state.
type Stats struct {
	KnowledgeBase   map[string]any  `json:"knowledge_base,omitempty"`
	FunctionCount   int             `json:"function_count"`
	Functions       []string        `json:"functions,omitempty"`
	MaxIterations   int             `json:"max_iterations"`
	OutputDirectory string          `json:"output_directory"`
	BlenderPath     string          `json:"blender_path"`
	Host            system.Snapshot `json:"host"`
}

// GetPipelineStats reports knowledge-base, library, configuration, and host
// information.
func (p *Pipeline) GetPipelineStats(ctx context.Context) Stats {
	stats := Stats{
		MaxIterations:   p.cfg.Generation.MaxIterations,
		OutputDirectory: p.cfg.Paths.OutputDir,
		BlenderPath:     p.cfg.Render.BlenderPath,
		Host:            system.Capture(),
	}
	if p.knowledge != nil {
		if kb, err := p.knowledge.Stats(ctx); err == nil {
			stats.KnowledgeBase = kb
		} else {
			log.Printf("[pipeline] knowledge stats failed: %v", err)
		}
	}
	if p.catalog != nil {
		stats.Functions = p.catalog.List()
		stats.FunctionCount = len(stats.Functions)
	}
	return stats
}

var _ RunStore = (*runstore.Store)(nil)

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
