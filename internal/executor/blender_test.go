package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kubrick-video/kubrick/internal/domain"
)

// fakeBlender writes a shell script that stands in for the blender binary.
func fakeBlender(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blender")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew_Defaults(t *testing.T) {
	b := New(Config{})
	if b.config.BlenderPath != "blender" {
		t.Errorf("BlenderPath = %q", b.config.BlenderPath)
	}
	if b.config.Timeout != 5*time.Minute {
		t.Errorf("Timeout = %v", b.config.Timeout)
	}
}

func TestExecute_Success(t *testing.T) {
	bin := fakeBlender(t, `echo "Blender quit"`)
	b := New(Config{BlenderPath: bin, TempDir: t.TempDir()})

	result := b.Execute(context.Background(), "print('hi')", "/nonexistent/out.mp4",
		domain.DefaultRenderSettings(), 1, 120)
	if !result.Success {
		t.Fatalf("Success = false, error %q", result.Error)
	}
	if len(result.Artifacts) != 0 {
		t.Errorf("artifacts listed for missing output: %v", result.Artifacts)
	}
	if !strings.Contains(result.Output, "Blender quit") {
		t.Errorf("stdout not captured: %q", result.Output)
	}
}

func TestExecute_FailureCapturesStderr(t *testing.T) {
	bin := fakeBlender(t, `echo "Python error: NameError" >&2; exit 1`)
	b := New(Config{BlenderPath: bin, TempDir: t.TempDir()})

	result := b.Execute(context.Background(), "broken", "/tmp/out.mp4",
		domain.DefaultRenderSettings(), 1, 24)
	if result.Success {
		t.Fatal("Success = true for failing subprocess")
	}
	if !strings.Contains(result.Error, "NameError") {
		t.Errorf("Error = %q, want stderr content", result.Error)
	}
}

func TestExecute_Timeout(t *testing.T) {
	bin := fakeBlender(t, `sleep 5`)
	b := New(Config{BlenderPath: bin, TempDir: t.TempDir(), Timeout: 100 * time.Millisecond})

	result := b.Execute(context.Background(), "print('hi')", "/tmp/out.mp4",
		domain.DefaultRenderSettings(), 1, 24)
	if result.Success {
		t.Fatal("Success = true after timeout")
	}
	if !strings.Contains(result.Error, "timed out") {
		t.Errorf("Error = %q, want timeout message", result.Error)
	}
}

func TestValidate(t *testing.T) {
	ok := fakeBlender(t, `cat "$3" >/dev/null 2>&1; echo "SCRIPT_VALID"`)
	b := New(Config{BlenderPath: ok, TempDir: t.TempDir()})
	valid, diag := b.Validate(context.Background(), "print('hi')")
	if !valid {
		t.Errorf("valid = false, diagnostic %q", diag)
	}

	bad := fakeBlender(t, `echo "SyntaxError: invalid syntax" >&2; exit 1`)
	b = New(Config{BlenderPath: bad, TempDir: t.TempDir()})
	valid, diag = b.Validate(context.Background(), "def broken(")
	if valid {
		t.Error("valid = true for failing subprocess")
	}
	if !strings.Contains(diag, "SyntaxError") {
		t.Errorf("diagnostic = %q", diag)
	}
}

func TestCaptureFrames_PartialResults(t *testing.T) {
	// The stub renders nothing, so every frame fails and the result is
	// empty rather than an error.
	bin := fakeBlender(t, `exit 0`)
	b := New(Config{BlenderPath: bin, TempDir: t.TempDir()})

	frames := b.CaptureFrames(context.Background(), "print('hi')",
		[]int{1, 12, 24}, domain.DefaultRenderSettings())
	if len(frames) != 0 {
		t.Errorf("got %d frames from a stub that renders none", len(frames))
	}
}

func TestCaptureFrames_ScriptTargetsFramePath(t *testing.T) {
	// The stub copies the generated script aside so the test can check what
	// blender would actually run.
	dir := t.TempDir()
	copied := filepath.Join(dir, "captured_script.py")
	bin := fakeBlender(t, `cp "$3" "`+copied+`"`)
	b := New(Config{BlenderPath: bin, TempDir: dir})

	b.CaptureFrames(context.Background(), "print('hi')", []int{12}, domain.DefaultRenderSettings())

	data, err := os.ReadFile(copied)
	if err != nil {
		t.Fatalf("stub never received a script: %v", err)
	}
	script := string(data)
	if !strings.Contains(script, "bpy.context.scene.frame_set(12)") {
		t.Error("capture script missing frame_set")
	}
	if !strings.Contains(script, `bpy.context.scene.render.filepath = "`) ||
		!strings.Contains(script, `.png"`) {
		t.Errorf("capture script does not target a png frame path:\n%s", script)
	}
	if strings.Contains(script, "MISSING") {
		t.Errorf("malformed format verb in capture script:\n%s", script)
	}
}

func TestExtractVideoFrames_BadInput(t *testing.T) {
	b := New(Config{BlenderPath: "blender", TempDir: t.TempDir()})
	if frames := b.ExtractVideoFrames(context.Background(), "/nonexistent.mp4", 30); frames != nil {
		t.Errorf("expected nil for missing video, got %d frames", len(frames))
	}
	if frames := b.ExtractVideoFrames(context.Background(), "anything.mp4", 0); frames != nil {
		t.Error("expected nil for zero cap")
	}
}

func TestRenderSetup(t *testing.T) {
	b := New(Config{TempDir: t.TempDir()})
	settings := domain.DefaultRenderSettings()
	setup := b.renderSetup("/out/video.mp4", settings, 1, 120)

	for _, want := range []string{
		"scene.render.engine = 'CYCLES'",
		`scene.render.image_settings.file_format = "FFMPEG"`,
		`scene.render.ffmpeg.codec = "H264"`,
		"scene.render.resolution_x = 1920",
		"scene.render.resolution_y = 1080",
		"scene.render.fps = 24",
		"scene.frame_start = 1",
		"scene.frame_end = 120",
		"scene.cycles.samples = 128",
		`scene.render.filepath = "/out/video.mp4"`,
		"def render_output():",
	} {
		if !strings.Contains(setup, want) {
			t.Errorf("render setup missing %q", want)
		}
	}
}
