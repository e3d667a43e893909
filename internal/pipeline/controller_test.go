package pipeline

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/kubrick-video/kubrick/internal/config"
	"github.com/kubrick-video/kubrick/internal/domain"
)

// fakeDirector returns a canned decomposition.
type fakeDirector struct {
	subs []domain.SubProcessDescription
	err  error
}

func (f *fakeDirector) Decompose(ctx context.Context, desc domain.VideoDescription) ([]domain.SubProcessDescription, error) {
	return f.subs, f.err
}

// fakeCoder scripts the programmer's behavior per call.
type fakeCoder struct {
	generate   func(call int, sub domain.SubProcessDescription, fb *domain.ReviewFeedback) (string, error)
	calls      int
	updateArgs []domain.ReviewFeedback
	updateErr  error
}

func (f *fakeCoder) Generate(ctx context.Context, sub domain.SubProcessDescription, fb *domain.ReviewFeedback) (string, error) {
	f.calls++
	if f.generate == nil {
		return "pass", nil
	}
	return f.generate(f.calls, sub, fb)
}

func (f *fakeCoder) UpdateLibrary(ctx context.Context, fb domain.ReviewFeedback) (bool, error) {
	f.updateArgs = append(f.updateArgs, fb)
	return f.updateErr == nil, f.updateErr
}

// fakeReviewer judges by script conventions: scripts containing "pass" pass.
type fakeReviewer struct {
	review func(sub domain.SubProcessDescription, frames [][]byte) domain.ReviewFeedback
	final  domain.ReviewFeedback
}

func (f *fakeReviewer) ReviewOutput(ctx context.Context, sub domain.SubProcessDescription, frames [][]byte) domain.ReviewFeedback {
	if f.review == nil {
		return domain.ReviewFeedback{Status: domain.ReviewPassed, Score: 0.9}
	}
	return f.review(sub, frames)
}

func (f *fakeReviewer) ReviewFinalVideo(ctx context.Context, videoPath, description string) domain.ReviewFeedback {
	return f.final
}

// fakeExecutor validates and captures according to configurable hooks.
type fakeExecutor struct {
	validate func(script string) (bool, string)
	capture  func(script string, frames []int) [][]byte

	executedScript string
	executedPath   string
	executedEnd    int
	executeResult  domain.ExecutionResult
	captureFrames  [][]int
}

func (f *fakeExecutor) Execute(ctx context.Context, script, outputPath string, settings domain.RenderSettings, startFrame, endFrame int) domain.ExecutionResult {
	f.executedScript = script
	f.executedPath = outputPath
	f.executedEnd = endFrame
	return f.executeResult
}

func (f *fakeExecutor) Validate(ctx context.Context, script string) (bool, string) {
	if f.validate == nil {
		return true, ""
	}
	return f.validate(script)
}

func (f *fakeExecutor) CaptureFrames(ctx context.Context, script string, frames []int, settings domain.RenderSettings) [][]byte {
	f.captureFrames = append(f.captureFrames, frames)
	if f.capture == nil {
		return [][]byte{{1}}
	}
	return f.capture(script, frames)
}

type fakeStore struct {
	decompRunID domain.RunID
	result      *domain.RunResult
}

func (f *fakeStore) SaveDecomposition(runID domain.RunID, desc domain.VideoDescription, subs []domain.SubProcessDescription) error {
	f.decompRunID = runID
	return nil
}

func (f *fakeStore) SaveResult(result *domain.RunResult) error {
	f.result = result
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.OutputDir = t.TempDir()
	return cfg
}

func testPipeline(cfg *config.Config, director *fakeDirector, coder *fakeCoder, reviewer *fakeReviewer, executor *fakeExecutor, store RunStore) *Pipeline {
	clock := func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }
	return New(cfg, director, coder, reviewer, executor, store, nil, nil, clock)
}

func motionSub() domain.SubProcessDescription {
	return domain.SubProcessDescription{Type: domain.SubProcessMotion, Description: "bouncing arc", Order: 2}
}

func testVideoDesc() domain.VideoDescription {
	return domain.VideoDescription{Text: "a bouncing cube", Duration: 2.0, FPS: 24, Width: 1920, Height: 1080}
}

func TestKeyFrames(t *testing.T) {
	tests := []struct {
		total, count int
		want         []int
	}{
		{48, 5, []int{1, 12, 24, 36, 48}},
		{120, 5, []int{1, 30, 60, 90, 120}},
		{5, 5, []int{1, 2, 3, 4, 5}},
		{3, 5, []int{1, 2, 3}},
		{6, 5, []int{1, 2, 3, 4, 6}},
	}
	for _, tt := range tests {
		if got := keyFrames(tt.total, tt.count); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("keyFrames(%d, %d) = %v, want %v", tt.total, tt.count, got, tt.want)
		}
	}
}

func TestProcessSubProcess_AcceptedFirstIteration(t *testing.T) {
	cfg := testConfig(t)
	executor := &fakeExecutor{}
	p := testPipeline(cfg, nil, &fakeCoder{}, &fakeReviewer{}, executor, nil)

	outcome, trace := p.processSubProcess(context.Background(), motionSub(), baseScript, testVideoDesc())
	if !outcome.Accepted {
		t.Fatalf("not accepted: %+v", outcome)
	}
	if outcome.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", outcome.Iterations)
	}
	if outcome.Script != "pass" {
		t.Errorf("Script = %q", outcome.Script)
	}
	if outcome.Score != 0.9 {
		t.Errorf("Score = %v", outcome.Score)
	}

	wantPhases := []Phase{PhaseGenerating, PhaseValidating, PhaseCapturing, PhaseReviewing, PhaseAccepted}
	if len(trace) != 1 || !reflect.DeepEqual(trace[0].Phases, wantPhases) {
		t.Errorf("trace = %+v", trace)
	}

	// Preview capture uses the key-frame rule over the default settings.
	want := keyFrames(testVideoDesc().TotalFrames(), cfg.Review.KeyFrameCount)
	if !reflect.DeepEqual(executor.captureFrames[0], want) {
		t.Errorf("captured frames %v, want %v", executor.captureFrames[0], want)
	}
}

func TestProcessSubProcess_FeedbackThreadedAcrossIterations(t *testing.T) {
	cfg := testConfig(t)
	var seenFeedback []*domain.ReviewFeedback
	coder := &fakeCoder{
		generate: func(call int, sub domain.SubProcessDescription, fb *domain.ReviewFeedback) (string, error) {
			seenFeedback = append(seenFeedback, fb)
			return "attempt", nil
		},
	}
	reviewer := &fakeReviewer{
		review: func(sub domain.SubProcessDescription, frames [][]byte) domain.ReviewFeedback {
			if len(seenFeedback) >= 3 {
				return domain.ReviewFeedback{Status: domain.ReviewPassed, Score: 0.85}
			}
			return domain.ReviewFeedback{
				Status: domain.ReviewNeedsRevision, Score: 0.6,
				Issues: []string{"cube misplaced"},
			}
		},
	}
	p := testPipeline(cfg, nil, coder, reviewer, &fakeExecutor{}, nil)

	outcome, _ := p.processSubProcess(context.Background(), motionSub(), baseScript, testVideoDesc())
	if !outcome.Accepted || outcome.Iterations != 3 {
		t.Fatalf("outcome = %+v, want accepted at iteration 3", outcome)
	}

	if seenFeedback[0] != nil {
		t.Error("first attempt saw feedback")
	}
	for i := 1; i < 3; i++ {
		if seenFeedback[i] == nil || seenFeedback[i].Issues[0] != "cube misplaced" {
			t.Errorf("attempt %d feedback = %+v", i+1, seenFeedback[i])
		}
	}
}

func TestProcessSubProcess_GenerationErrorIsFatal(t *testing.T) {
	cfg := testConfig(t)
	coder := &fakeCoder{
		generate: func(call int, sub domain.SubProcessDescription, fb *domain.ReviewFeedback) (string, error) {
			if call == 2 {
				return "", errors.New("provider down")
			}
			return "attempt", nil
		},
	}
	reviewer := &fakeReviewer{
		review: func(sub domain.SubProcessDescription, frames [][]byte) domain.ReviewFeedback {
			return domain.ReviewFeedback{Status: domain.ReviewFailed, Score: 0.1}
		},
	}
	p := testPipeline(cfg, nil, coder, reviewer, &fakeExecutor{}, nil)

	outcome, trace := p.processSubProcess(context.Background(), motionSub(), baseScript, testVideoDesc())
	if outcome.Accepted {
		t.Fatal("accepted despite generation error")
	}
	if outcome.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", outcome.Iterations)
	}
	if !strings.Contains(outcome.FailReason, "provider down") {
		t.Errorf("FailReason = %q", outcome.FailReason)
	}
	// The fatal iteration stops at the generating phase.
	last := trace[len(trace)-1]
	if !reflect.DeepEqual(last.Phases, []Phase{PhaseGenerating}) {
		t.Errorf("last phases = %v", last.Phases)
	}
}

func TestProcessSubProcess_ValidationFailureSynthesizesFeedback(t *testing.T) {
	cfg := testConfig(t)
	var seenFeedback []*domain.ReviewFeedback
	coder := &fakeCoder{
		generate: func(call int, sub domain.SubProcessDescription, fb *domain.ReviewFeedback) (string, error) {
			seenFeedback = append(seenFeedback, fb)
			return "attempt", nil
		},
	}
	executor := &fakeExecutor{
		validate: func(script string) (bool, string) {
			if len(seenFeedback) == 1 {
				return false, "NameError: bad_call"
			}
			return true, ""
		},
	}
	p := testPipeline(cfg, nil, coder, &fakeReviewer{}, executor, nil)

	outcome, trace := p.processSubProcess(context.Background(), motionSub(), baseScript, testVideoDesc())
	if !outcome.Accepted || outcome.Iterations != 2 {
		t.Fatalf("outcome = %+v", outcome)
	}

	fb := seenFeedback[1]
	if fb == nil || fb.Status != domain.ReviewFailed || fb.Score != 0.0 {
		t.Fatalf("synthesized feedback = %+v", fb)
	}
	if !strings.Contains(fb.Issues[0], "NameError: bad_call") {
		t.Errorf("issue = %q", fb.Issues[0])
	}
	// The failed iteration never reached capture or review.
	if !reflect.DeepEqual(trace[0].Phases, []Phase{PhaseGenerating, PhaseValidating}) {
		t.Errorf("first iteration phases = %v", trace[0].Phases)
	}
}

func TestProcessSubProcess_CaptureFailureSynthesizesFeedback(t *testing.T) {
	cfg := testConfig(t)
	var seenFeedback []*domain.ReviewFeedback
	coder := &fakeCoder{
		generate: func(call int, sub domain.SubProcessDescription, fb *domain.ReviewFeedback) (string, error) {
			seenFeedback = append(seenFeedback, fb)
			return "attempt", nil
		},
	}
	executor := &fakeExecutor{
		capture: func(script string, frames []int) [][]byte {
			if len(seenFeedback) == 1 {
				return nil
			}
			return [][]byte{{1}}
		},
	}
	p := testPipeline(cfg, nil, coder, &fakeReviewer{}, executor, nil)

	outcome, _ := p.processSubProcess(context.Background(), motionSub(), baseScript, testVideoDesc())
	if !outcome.Accepted || outcome.Iterations != 2 {
		t.Fatalf("outcome = %+v", outcome)
	}
	fb := seenFeedback[1]
	if fb == nil || fb.Status != domain.ReviewFailed || fb.Issues[0] != "Failed to render preview" {
		t.Errorf("synthesized feedback = %+v", fb)
	}
}

func TestProcessSubProcess_Exhaustion(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generation.MaxIterations = 4
	reviewer := &fakeReviewer{
		review: func(sub domain.SubProcessDescription, frames [][]byte) domain.ReviewFeedback {
			return domain.ReviewFeedback{Status: domain.ReviewFailed, Score: 0.2}
		},
	}
	p := testPipeline(cfg, nil, &fakeCoder{}, reviewer, &fakeExecutor{}, nil)

	outcome, trace := p.processSubProcess(context.Background(), motionSub(), baseScript, testVideoDesc())
	if outcome.Accepted {
		t.Fatal("accepted despite failing reviews")
	}
	if outcome.Iterations != 4 {
		t.Errorf("Iterations = %d, want 4", outcome.Iterations)
	}
	if outcome.FailReason != "Max iterations reached" {
		t.Errorf("FailReason = %q", outcome.FailReason)
	}
	if outcome.Script != "" {
		t.Errorf("rejected outcome carries a script: %q", outcome.Script)
	}
	last := trace[len(trace)-1]
	if last.Phases[len(last.Phases)-1] != PhaseExhausted {
		t.Errorf("last phase = %v", last.Phases)
	}
}

func TestProcessSubProcess_LibraryUpdatePastThreshold(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generation.MaxIterations = 8
	cfg.Generation.LibraryUpdateThreshold = 3
	coder := &fakeCoder{}
	reviewer := &fakeReviewer{
		review: func(sub domain.SubProcessDescription, frames [][]byte) domain.ReviewFeedback {
			return domain.ReviewFeedback{
				Status: domain.ReviewFailed, Score: 0.3,
				Suggestions: []string{"add fog helper"},
			}
		},
	}
	p := testPipeline(cfg, nil, coder, reviewer, &fakeExecutor{}, nil)

	p.processSubProcess(context.Background(), motionSub(), baseScript, testVideoDesc())

	// Iterations are zero-indexed; updates fire when index > threshold, so
	// with 8 iterations and threshold 3 the update runs on indexes 4..7.
	if len(coder.updateArgs) != 4 {
		t.Errorf("library updates = %d, want 4", len(coder.updateArgs))
	}
}

func TestProcessSubProcess_LibraryUpdateFailureDoesNotAbort(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generation.MaxIterations = 6
	coder := &fakeCoder{updateErr: errors.New("provider down")}
	reviewer := &fakeReviewer{
		review: func(sub domain.SubProcessDescription, frames [][]byte) domain.ReviewFeedback {
			return domain.ReviewFeedback{Status: domain.ReviewFailed, Score: 0.3, Suggestions: []string{"x"}}
		},
	}
	p := testPipeline(cfg, nil, coder, reviewer, &fakeExecutor{}, nil)

	outcome, _ := p.processSubProcess(context.Background(), motionSub(), baseScript, testVideoDesc())
	if outcome.Iterations != 6 {
		t.Errorf("Iterations = %d, want full loop despite update failures", outcome.Iterations)
	}
}

func TestProcessSubProcess_ValidatesAgainstAccumulatedScript(t *testing.T) {
	cfg := testConfig(t)
	var validated string
	executor := &fakeExecutor{
		validate: func(script string) (bool, string) {
			validated = script
			return true, ""
		},
	}
	p := testPipeline(cfg, nil, &fakeCoder{}, &fakeReviewer{}, executor, nil)

	accumulated := baseScript + "\n\nscene_part()"
	p.processSubProcess(context.Background(), motionSub(), accumulated, testVideoDesc())

	if !strings.HasPrefix(validated, accumulated) {
		t.Error("candidate script does not start with accumulated script")
	}
	if !strings.HasSuffix(validated, "pass") {
		t.Errorf("candidate script does not end with new script: %q", validated)
	}
}
