package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/kubrick-video/kubrick/internal/domain"
	"github.com/kubrick-video/kubrick/internal/knowledge"
	"github.com/kubrick-video/kubrick/internal/library"
	"github.com/kubrick-video/kubrick/internal/llm"
	"github.com/kubrick-video/kubrick/internal/prompts"
)

// Programmer generates Blender Python scripts for sub-processes and grows
// the function library from review feedback.
type Programmer struct {
	client    llm.Client
	prompts   *prompts.Loader
	library   *library.Library
	retriever knowledge.Retriever
	model     string
	queryK    int
}

// NewProgrammer creates a programmer bound to a function library.
func NewProgrammer(client llm.Client, loader *prompts.Loader, lib *library.Library, retriever knowledge.Retriever, model string, queryK int) *Programmer {
	return &Programmer{
		client:    client,
		prompts:   loader,
		library:   lib,
		retriever: retriever,
		model:     model,
		queryK:    queryK,
	}
}

// Generate produces a Blender script for a sub-process. When feedback from a
// prior non-passing iteration is supplied, it is woven into the prompt so
// the next attempt addresses the reported issues. Failures come back as
// *GenerationError.
func (p *Programmer) Generate(ctx context.Context, sub domain.SubProcessDescription, feedback *domain.ReviewFeedback) (string, error) {
	log.Printf("[programmer] generating script for %s", sub.Type)

	data := prompts.GenerateData{
		Type:        string(sub.Type),
		Description: sub.Description,
		Parameters:  formatParameters(sub.Parameters),
		Functions:   p.library.RelevantFor(sub.Type),
		Context:     ragContext(ctx, p.retriever, sub.Description, p.queryK),
	}
	if feedback != nil && !feedback.Passed() {
		data.HasFeedback = true
		data.Issues = strings.Join(feedback.Issues, "\n- ")
		data.Suggestions = strings.Join(feedback.Suggestions, "\n- ")
	}

	prompt, err := p.prompts.BuildGeneratePrompt(data)
	if err != nil {
		return "", &GenerationError{Type: sub.Type, Err: err}
	}

	raw, err := p.client.Complete(ctx, llm.Request{
		Model:       p.model,
		Prompt:      prompt,
		MaxTokens:   2000,
		Temperature: 0.7,
	})
	if err != nil {
		return "", &GenerationError{Type: sub.Type, Err: err}
	}

	script := ExtractCode(raw)
	if strings.TrimSpace(script) == "" {
		return "", &GenerationError{Type: sub.Type, Err: fmt.Errorf("empty script")}
	}
	return script, nil
}

// libraryFunction is one new or revised function in the structured response.
type libraryFunction struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// libraryUpdateResponse carries new or revised functions as a list; strict
// structured output cannot express a map keyed by function name.
type libraryUpdateResponse struct {
	Functions []libraryFunction `json:"functions"`
}

// UpdateLibrary asks the model for new library functions that would address
// the accumulated feedback and folds them into the library. Returns true
// when at least one function was added. Feedback without suggestions is a
// no-op.
func (p *Programmer) UpdateLibrary(ctx context.Context, feedback domain.ReviewFeedback) (bool, error) {
	if len(feedback.Suggestions) == 0 {
		return false, nil
	}

	log.Printf("[programmer] updating function library from feedback")

	prompt, err := p.prompts.BuildLibraryUpdatePrompt(prompts.LibraryUpdateData{
		Issues:      strings.Join(feedback.Issues, "\n- "),
		Suggestions: strings.Join(feedback.Suggestions, "\n- "),
	})
	if err != nil {
		return false, err
	}

	raw, err := p.client.Complete(ctx, llm.Request{
		Model:       p.model,
		Prompt:      prompt,
		Schema:      llm.GenerateSchema[libraryUpdateResponse](),
		SchemaName:  "library_update",
		Temperature: 0.7,
	})
	if err != nil {
		return false, err
	}

	var resp libraryUpdateResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return false, fmt.Errorf("parsing library update: %w", err)
	}

	added := 0
	for _, fn := range resp.Functions {
		code := ExtractCode(fn.Code)
		if ok, warning := p.library.ValidateSyntax(code); !ok {
			log.Printf("[programmer] rejecting function %s: %s", fn.Name, warning)
			continue
		} else if warning != "" {
			log.Printf("[programmer] function %s %s", fn.Name, warning)
		}
		if err := p.library.Update(fn.Name, code, true); err != nil {
			log.Printf("[programmer] library update for %s: %v", fn.Name, err)
			continue
		}
		added++
	}

	if added > 0 {
		log.Printf("[programmer] added %d functions to library", added)
	}
	return added > 0, nil
}

// ExtractCode pulls the first fenced code block out of a model response, or
// returns the trimmed text when no fence is present.
func ExtractCode(text string) string {
	if idx := strings.Index(text, "```python"); idx >= 0 {
		rest := text[idx+len("```python"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		// Skip a language tag on the fence line.
		if nl := strings.Index(rest, "\n"); nl >= 0 && !strings.ContainsAny(rest[:nl], " \t") {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	return strings.TrimSpace(text)
}

// formatParameters renders sub-process parameters as stable key: value lines.
func formatParameters(params map[string]any) string {
	if len(params) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %v\n", k, params[k])
	}
	return strings.TrimRight(sb.String(), "\n")
}
