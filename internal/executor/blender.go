// Package executor is the Blender subprocess boundary. It turns generated
// Python scripts into rendered output by launching blender in background
// mode, and captures still frames for review.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kubrick-video/kubrick/internal/domain"
)

// Config configures the Blender executor.
type Config struct {
	BlenderPath string
	TempDir     string
	Timeout     time.Duration
	Debug       bool
}

// Blender runs scripts through a blender subprocess.
type Blender struct {
	config Config
}

// New creates a Blender executor. BlenderPath defaults to "blender" on PATH,
// Timeout to five minutes.
func New(config Config) *Blender {
	if config.BlenderPath == "" {
		config.BlenderPath = "blender"
	}
	if config.TempDir == "" {
		config.TempDir = os.TempDir()
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}
	return &Blender{config: config}
}

// Verify checks that the configured blender binary is runnable and returns
// its version line.
func (b *Blender) Verify(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, b.config.BlenderPath, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("blender not found at %q: %w", b.config.BlenderPath, err)
	}
	version, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(version), nil
}

// Execute runs a script with a render-setup preamble and waits for blender
// to exit. Failures are reported inside the result rather than as an error
// so the caller can feed them back into the review loop.
func (b *Blender) Execute(ctx context.Context, script, outputPath string, settings domain.RenderSettings, startFrame, endFrame int) domain.ExecutionResult {
	start := time.Now()

	full := b.renderSetup(outputPath, settings, startFrame, endFrame) + "\n\n" + script
	result := b.run(ctx, full, "")
	result.Duration = time.Since(start)

	if result.Success {
		if _, err := os.Stat(outputPath); err == nil {
			result.Artifacts = append(result.Artifacts, outputPath)
		}
	}
	return result
}

// Validate executes the script without rendering to check that it runs in
// Blender's Python environment. Returns ok plus a diagnostic on failure.
func (b *Blender) Validate(ctx context.Context, script string) (bool, string) {
	const marker = "SCRIPT_VALID"
	full := script + "\n\nprint(\"" + marker + "\")\n"

	result := b.run(ctx, full, "")
	if result.Success && strings.Contains(result.Output, marker) {
		return true, ""
	}
	diagnostic := result.Error
	if diagnostic == "" {
		diagnostic = "script validation failed"
	}
	return false, diagnostic
}

// CaptureFrames renders still images at the given frame numbers, in
// parallel. Per-frame failures are logged and skipped so the reviewer gets
// whatever frames succeeded; an empty slice means everything failed.
func (b *Blender) CaptureFrames(ctx context.Context, script string, frames []int, settings domain.RenderSettings) [][]byte {
	type captured struct {
		index int
		data  []byte
	}

	var mu sync.Mutex
	var results []captured

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, frame := range frames {
		g.Go(func() error {
			data, err := b.captureFrame(ctx, script, frame, settings)
			if err != nil {
				log.Printf("[executor] frame %d capture failed: %v", frame, err)
				return nil
			}
			mu.Lock()
			results = append(results, captured{index: i, data: data})
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })
	out := make([][]byte, 0, len(results))
	for _, r := range results {
		out = append(out, r.data)
	}
	return out
}

func (b *Blender) captureFrame(ctx context.Context, script string, frame int, settings domain.RenderSettings) ([]byte, error) {
	framePath := filepath.Join(b.config.TempDir,
		fmt.Sprintf("frame_%d_%d.png", time.Now().UnixNano(), frame))
	defer os.Remove(framePath)

	still := fmt.Sprintf(`%s

import bpy
bpy.context.scene.frame_set(%d)
bpy.context.scene.render.image_settings.file_format = 'PNG'
bpy.context.scene.render.filepath = %q
bpy.ops.render.render(write_still=True)
`, b.renderSetup(framePath, settings, frame, frame)+"\n\n"+script, frame, framePath)

	result := b.run(ctx, still, "")
	if !result.Success {
		return nil, fmt.Errorf("render failed: %s", result.Error)
	}
	data, err := os.ReadFile(framePath)
	if err != nil {
		return nil, fmt.Errorf("reading rendered frame: %w", err)
	}
	return data, nil
}

// ExtractVideoFrames pulls the leading frames out of a rendered video file
// for the final review, capped at max. Extraction failures return nil.
func (b *Blender) ExtractVideoFrames(ctx context.Context, videoPath string, max int) [][]byte {
	if max <= 0 {
		return nil
	}

	dir, err := os.MkdirTemp(b.config.TempDir, "finalreview-")
	if err != nil {
		log.Printf("[executor] frame extraction temp dir: %v", err)
		return nil
	}
	defer os.RemoveAll(dir)

	ctx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	pattern := filepath.Join(dir, "frame_%04d.png")
	cmd := exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error",
		"-i", videoPath, "-frames:v", fmt.Sprint(max), pattern)
	if out, err := cmd.CombinedOutput(); err != nil {
		log.Printf("[executor] ffmpeg frame extraction failed: %s: %v", bytes.TrimSpace(out), err)
		return nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, "frame_*.png"))
	if err != nil {
		return nil
	}
	sort.Strings(matches)

	var frames [][]byte
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		frames = append(frames, data)
	}
	return frames
}

// run writes the script to a temp file and executes blender against it.
func (b *Blender) run(ctx context.Context, script, sceneFile string) domain.ExecutionResult {
	start := time.Now()

	scriptFile, err := os.CreateTemp(b.config.TempDir, "blender_script_*.py")
	if err != nil {
		return domain.ExecutionResult{Error: fmt.Sprintf("creating script file: %v", err), Duration: time.Since(start)}
	}
	defer os.Remove(scriptFile.Name())

	if _, err := scriptFile.WriteString(script); err != nil {
		scriptFile.Close()
		return domain.ExecutionResult{Error: fmt.Sprintf("writing script file: %v", err), Duration: time.Since(start)}
	}
	scriptFile.Close()

	ctx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	args := []string{"--background"}
	if sceneFile != "" {
		args = append(args, sceneFile)
	}
	args = append(args, "--python", scriptFile.Name())

	if b.config.Debug {
		log.Printf("[executor] running %s %s", b.config.BlenderPath, strings.Join(args, " "))
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.config.BlenderPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	duration := time.Since(start)

	result := domain.ExecutionResult{
		Output:   stdout.String(),
		Duration: duration,
	}
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		result.Error = fmt.Sprintf("blender timed out after %s", b.config.Timeout)
	case err != nil:
		result.Error = strings.TrimSpace(stderr.String())
		if result.Error == "" {
			result.Error = err.Error()
		}
	default:
		result.Success = true
	}

	if b.config.Debug {
		log.Printf("[executor] blender finished in %.2fs success=%v", duration.Seconds(), result.Success)
	}
	return result
}

// renderSetup builds the Python preamble that configures render settings,
// frame range, and output path. It defines render_output() for the
// controller to append when the final video should actually be rendered.
func (b *Blender) renderSetup(outputPath string, settings domain.RenderSettings, startFrame, endFrame int) string {
	var sb strings.Builder
	sb.WriteString("import bpy\n\n")
	sb.WriteString("bpy.ops.object.select_all(action='SELECT')\n")
	sb.WriteString("bpy.ops.object.delete(use_global=False)\n\n")
	sb.WriteString("scene = bpy.context.scene\n")
	sb.WriteString("scene.render.engine = 'CYCLES'\n")
	fmt.Fprintf(&sb, "scene.render.image_settings.file_format = %q\n", settings.Format)
	if settings.Format == "FFMPEG" {
		sb.WriteString("scene.render.ffmpeg.format = 'MPEG4'\n")
		fmt.Fprintf(&sb, "scene.render.ffmpeg.codec = %q\n", settings.Codec)
		crf := "MEDIUM"
		if settings.Quality == "HIGH" {
			crf = "HIGH"
		}
		fmt.Fprintf(&sb, "scene.render.ffmpeg.constant_rate_factor = %q\n", crf)
	}
	fmt.Fprintf(&sb, "scene.render.resolution_x = %d\n", settings.Width)
	fmt.Fprintf(&sb, "scene.render.resolution_y = %d\n", settings.Height)
	fmt.Fprintf(&sb, "scene.render.resolution_percentage = %d\n", settings.ResolutionPercent)
	fmt.Fprintf(&sb, "scene.render.fps = %d\n", settings.FPS)
	fmt.Fprintf(&sb, "scene.frame_start = %d\n", startFrame)
	fmt.Fprintf(&sb, "scene.frame_end = %d\n", endFrame)
	fmt.Fprintf(&sb, "scene.cycles.samples = %d\n", settings.Samples)
	fmt.Fprintf(&sb, "scene.render.filepath = %q\n\n", outputPath)
	sb.WriteString("def render_output():\n    bpy.ops.render.render(animation=True)\n")
	return sb.String()
}
