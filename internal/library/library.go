// Package library manages the catalog of Blender helper functions that the
// programmer agent can reference when generating scripts. Builtin functions
// ship embedded in the binary; learned functions are overlaid from a JSON
// file on disk and reloaded when it changes.
package library

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kubrick-video/kubrick/internal/domain"
)

//go:embed builtin/*.py
var builtinFS embed.FS

// categoryFunctions maps each sub-process category to the function names that
// are relevant when generating scripts for it. Names missing from the catalog
// are skipped silently, which lets a learned function fill the hole later.
var categoryFunctions = map[domain.SubProcess][]string{
	domain.SubProcessScene: {
		"clear_scene", "import_asset", "scale_asset", "position_asset",
		"apply_material", "duplicate_asset",
	},
	domain.SubProcessCharacter: {
		"import_asset", "scale_asset", "rotate_asset", "position_asset",
	},
	domain.SubProcessMotion: {
		"set_motion", "create_walk_cycle", "create_jump_motion",
		"apply_armature_action",
	},
	domain.SubProcessLighting: {
		"setup_three_point_lighting", "setup_natural_lighting",
		"setup_dramatic_lighting", "setup_studio_lighting",
		"setup_hdri_lighting",
	},
	domain.SubProcessCinematography: {
		"setup_camera", "animate_orbit_camera", "animate_dolly_camera",
		"animate_tracking_camera", "animate_handheld_camera",
		"setup_render_settings",
	},
}

// dangerousPatterns are flagged by ValidateSyntax. Generated scripts run
// inside a Blender subprocess we launched ourselves, so these are warnings
// for the operator, not a sandbox.
var dangerousPatterns = []string{
	"os.system",
	"subprocess.",
	"exec(",
	"eval(",
	"__import__",
	"open(",
}

// Library holds the function catalog: embedded builtins plus learned custom
// functions. Custom functions may shadow builtins in memory, but only the
// non-builtin subset is persisted.
type Library struct {
	mu         sync.RWMutex
	funcs      map[string]string
	builtin    map[string]string // embedded source, kept to undo shadowing
	fromFile   map[string]struct{}
	customPath string
}

// New loads the builtin catalog and overlays custom functions from
// customPath, if the file exists.
func New(customPath string) (*Library, error) {
	lib := &Library{
		funcs:      make(map[string]string),
		builtin:    make(map[string]string),
		fromFile:   make(map[string]struct{}),
		customPath: customPath,
	}

	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil, fmt.Errorf("reading builtin catalog: %w", err)
	}
	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), ".py")
		code, err := builtinFS.ReadFile("builtin/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading builtin function %s: %w", name, err)
		}
		lib.funcs[name] = strings.TrimSpace(string(code))
		lib.builtin[name] = strings.TrimSpace(string(code))
	}

	if err := lib.loadCustom(); err != nil {
		log.Printf("[library] failed to load custom functions from %s: %v", customPath, err)
	}

	return lib, nil
}

func (l *Library) loadCustom() error {
	if l.customPath == "" {
		return nil
	}

	custom := make(map[string]string)
	data, err := os.ReadFile(l.customPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &custom); err != nil {
			return fmt.Errorf("parsing custom functions: %w", err)
		}
	case os.IsNotExist(err):
		// A removed file reads as an empty custom set.
	default:
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Functions from a previous load that are gone from the file are
	// dropped; a shadowed builtin reverts to its embedded source.
	for name := range l.fromFile {
		if _, ok := custom[name]; ok {
			continue
		}
		if code, ok := l.builtin[name]; ok {
			l.funcs[name] = code
		} else {
			delete(l.funcs, name)
		}
	}

	l.fromFile = make(map[string]struct{}, len(custom))
	for name, code := range custom {
		l.funcs[name] = code
		l.fromFile[name] = struct{}{}
	}
	return nil
}

// Get returns the source of a function by name.
func (l *Library) Get(name string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	code, ok := l.funcs[name]
	return code, ok
}

// List returns all function names in sorted order.
func (l *Library) List() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.funcs))
	for name := range l.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of functions in the catalog.
func (l *Library) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.funcs)
}

// IsBuiltin reports whether a name belongs to the embedded catalog.
func (l *Library) IsBuiltin(name string) bool {
	_, ok := l.builtin[name]
	return ok
}

// RelevantFor assembles the function sources relevant to a sub-process
// category as a single text block for prompt injection. Mapped names absent
// from the catalog are skipped.
func (l *Library) RelevantFor(sp domain.SubProcess) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var blocks []string
	for _, name := range categoryFunctions[sp] {
		code, ok := l.funcs[name]
		if !ok {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("# Function: %s\n%s", name, code))
	}
	return strings.Join(blocks, "\n\n")
}

// Update adds or replaces a function. When persist is true the custom subset
// is written back to disk; a persistence failure is logged, not returned, so
// the in-memory update always sticks.
func (l *Library) Update(name, code string, persist bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("function name must not be empty")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("function %s: code must not be empty", name)
	}

	l.mu.Lock()
	l.funcs[name] = code
	if persist {
		// A persisted non-builtin becomes part of the custom file, so a
		// later reload owns its lifecycle.
		if _, builtin := l.builtin[name]; !builtin {
			l.fromFile[name] = struct{}{}
		}
	}
	l.mu.Unlock()

	if persist {
		if err := l.saveCustom(); err != nil {
			log.Printf("[library] failed to persist custom functions: %v", err)
		}
	}
	return nil
}

// saveCustom writes the non-builtin functions to the custom path as JSON.
func (l *Library) saveCustom() error {
	if l.customPath == "" {
		return nil
	}

	l.mu.RLock()
	custom := make(map[string]string)
	for name, code := range l.funcs {
		if _, ok := l.builtin[name]; ok {
			continue
		}
		custom[name] = code
	}
	l.mu.RUnlock()

	data, err := json.MarshalIndent(custom, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.customPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(l.customPath, data, 0o644)
}

// ValidateSyntax runs structural checks on a generated function body and
// scans for patterns that warrant operator attention. The result is
// advisory: a false return means the code is malformed enough to reject, a
// non-empty warning means it referenced something worth a log line.
func (l *Library) ValidateSyntax(code string) (bool, string) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return false, "empty function body"
	}
	if !strings.Contains(trimmed, "def ") {
		return false, "no function definition found"
	}

	// Unbalanced brackets catch the common truncated-generation failure.
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	counts := make(map[rune]int)
	for _, r := range trimmed {
		switch r {
		case '(', '[', '{':
			counts[r]++
		case ')', ']', '}':
			counts[pairs[r]]--
		}
	}
	for open, n := range counts {
		if n != 0 {
			return false, fmt.Sprintf("unbalanced %q", open)
		}
	}

	var warnings []string
	for _, pattern := range dangerousPatterns {
		if strings.Contains(trimmed, pattern) {
			warnings = append(warnings, pattern)
		}
	}
	if len(warnings) > 0 {
		return true, "uses " + strings.Join(warnings, ", ")
	}
	return true, ""
}

// Watch reloads the custom function file when it changes on disk. It runs
// until the context is cancelled. Changes are debounced so editors that
// write in multiple syscalls trigger a single reload.
func (l *Library) Watch(ctx context.Context) error {
	if l.customPath == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(l.customPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		reload := func() {
			if err := l.loadCustom(); err != nil {
				log.Printf("[library] reload failed: %v", err)
				return
			}
			log.Printf("[library] reloaded custom functions from %s", l.customPath)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(l.customPath) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(500*time.Millisecond, reload)
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return nil
}
