package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/kubrick-video/kubrick/internal/domain"
)

// Phase is one step of the per-iteration state machine.
type Phase string

const (
	PhaseGenerating Phase = "generating"
	PhaseValidating Phase = "validating"
	PhaseCapturing  Phase = "capturing"
	PhaseReviewing  Phase = "reviewing"
	PhaseAccepted   Phase = "accepted"
	PhaseExhausted  Phase = "exhausted"
)

// IterationRecord traces one iteration of a sub-process loop: the phases it
// went through and the feedback it ended with.
type IterationRecord struct {
	Index    int
	Phases   []Phase
	Feedback *domain.ReviewFeedback
}

// baseScript is prepended to every run before any sub-process contribution.
// It clears mesh objects, guarantees a camera, and sets dim world lighting
// so early previews are never pitch black.
const baseScript = `import bpy
import math
from mathutils import Vector, Matrix, Euler

for obj in list(bpy.data.objects):
    if obj.type == 'MESH':
        bpy.data.objects.remove(obj, do_unlink=True)

scene = bpy.context.scene
scene.frame_set(1)

if "Camera" not in bpy.data.objects:
    cam_data = bpy.data.cameras.new(name="Camera")
    cam = bpy.data.objects.new("Camera", cam_data)
    scene.collection.objects.link(cam)
    scene.camera = cam
    cam.location = (7, -7, 5)
    cam.rotation_euler = (1.1, 0, 0.785)

world = bpy.data.worlds.new(name="World")
scene.world = world
world.use_nodes = True
bg = world.node_tree.nodes["Background"]
bg.inputs[0].default_value[:3] = (0.05, 0.05, 0.05)
`

// processSubProcess runs the iteration loop for one sub-process: generate a
// script, validate it against the accumulated scene, capture preview frames,
// review them, and either accept or feed the review back into the next
// attempt. The returned trace records each iteration for inspection.
func (p *Pipeline) processSubProcess(ctx context.Context, sub domain.SubProcessDescription, accumulated string, desc domain.VideoDescription) (domain.SubProcessOutcome, []IterationRecord) {
	maxIterations := p.cfg.Generation.MaxIterations
	threshold := p.cfg.Generation.LibraryUpdateThreshold

	outcome := domain.SubProcessOutcome{Type: sub.Type}
	var trace []IterationRecord
	var feedback *domain.ReviewFeedback

	for i := 0; i < maxIterations; i++ {
		if ctx.Err() != nil {
			outcome.Iterations = i
			outcome.FailReason = ctx.Err().Error()
			return outcome, trace
		}

		record := IterationRecord{Index: i}
		log.Printf("[pipeline]   iteration %d/%d for %s", i+1, maxIterations, sub.Type)

		record.Phases = append(record.Phases, PhaseGenerating)
		script, err := p.coder.Generate(ctx, sub, feedback)
		if err != nil {
			// Generation failure is fatal to this sub-process only.
			log.Printf("[pipeline]   script generation failed: %v", err)
			outcome.Iterations = i + 1
			outcome.FailReason = err.Error()
			trace = append(trace, record)
			return outcome, trace
		}

		candidate := accumulated + "\n" + script

		record.Phases = append(record.Phases, PhaseValidating)
		if valid, diagnostic := p.executor.Validate(ctx, candidate); !valid {
			log.Printf("[pipeline]   script validation failed: %s", diagnostic)
			fb := domain.FailedFeedback(
				fmt.Sprintf("Script syntax error: %s", diagnostic),
				"Fix Python syntax errors", "Check Blender API usage")
			feedback = &fb
			record.Feedback = feedback
			trace = append(trace, record)
			continue
		}

		record.Phases = append(record.Phases, PhaseCapturing)
		frames := p.executor.CaptureFrames(ctx, candidate,
			keyFrames(desc.TotalFrames(), p.cfg.Review.KeyFrameCount),
			domain.DefaultRenderSettings())
		if len(frames) == 0 {
			log.Printf("[pipeline]   failed to capture preview frames")
			fb := domain.FailedFeedback("Failed to render preview",
				"Check script execution", "Verify scene setup")
			feedback = &fb
			record.Feedback = feedback
			trace = append(trace, record)
			continue
		}

		record.Phases = append(record.Phases, PhaseReviewing)
		fb := p.reviewer.ReviewOutput(ctx, sub, frames)
		feedback = &fb
		record.Feedback = feedback

		if fb.Passed() {
			log.Printf("[pipeline]   review passed with score %.2f", fb.Score)
			record.Phases = append(record.Phases, PhaseAccepted)
			trace = append(trace, record)
			outcome.Accepted = true
			outcome.Iterations = i + 1
			outcome.Score = fb.Score
			outcome.Script = script
			return outcome, trace
		}

		log.Printf("[pipeline]   review not passed (status=%s score=%.2f)", fb.Status, fb.Score)
		if i > threshold {
			p.tryLibraryUpdate(ctx, fb)
		}
		trace = append(trace, record)
	}

	log.Printf("[pipeline]   max iterations reached for %s", sub.Type)
	if len(trace) > 0 {
		last := &trace[len(trace)-1]
		last.Phases = append(last.Phases, PhaseExhausted)
	}
	outcome.Iterations = maxIterations
	outcome.FailReason = "Max iterations reached"
	return outcome, trace
}

// tryLibraryUpdate asks the programmer to grow the function library from
// review feedback. Failures here never affect the iteration loop.
func (p *Pipeline) tryLibraryUpdate(ctx context.Context, feedback domain.ReviewFeedback) {
	log.Printf("[pipeline]   attempting function library update")
	updated, err := p.coder.UpdateLibrary(ctx, feedback)
	if err != nil {
		log.Printf("[pipeline]   library update failed: %v", err)
		return
	}
	if updated {
		log.Printf("[pipeline]   function library updated")
	}
}

// keyFrames picks the frame numbers to capture for review. Short videos
// review every frame; longer ones sample count frames spread evenly and
// always ending on the last frame.
func keyFrames(totalFrames, count int) []int {
	if totalFrames <= count {
		frames := make([]int, 0, totalFrames)
		for i := 1; i <= totalFrames; i++ {
			frames = append(frames, i)
		}
		return frames
	}

	// Evenly spaced frame indices, first and last always included.
	// 48 frames sampled at 5 gives 1, 12, 24, 36, 48.
	step := float64(totalFrames-1) / float64(count-1)
	frames := make([]int, 0, count)
	for i := 0; i < count; i++ {
		frames = append(frames, int(float64(i)*step)+1)
	}
	return frames
}
