// Package agents holds the three LLM-backed roles of the generation loop:
// the director decomposes a description into sub-processes, the programmer
// turns sub-processes into Blender scripts, and the reviewer judges rendered
// frames.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/kubrick-video/kubrick/internal/domain"
	"github.com/kubrick-video/kubrick/internal/knowledge"
	"github.com/kubrick-video/kubrick/internal/llm"
	"github.com/kubrick-video/kubrick/internal/prompts"
)

// Director decomposes a video description into ordered sub-processes.
type Director struct {
	client    llm.Client
	prompts   *prompts.Loader
	retriever knowledge.Retriever
	model     string
	queryK    int
}

// NewDirector creates a director. Retriever may be nil; decomposition then
// runs without retrieved context.
func NewDirector(client llm.Client, loader *prompts.Loader, retriever knowledge.Retriever, model string, queryK int) *Director {
	return &Director{
		client:    client,
		prompts:   loader,
		retriever: retriever,
		model:     model,
		queryK:    queryK,
	}
}

// parameterEntry is one key/value pair in a structured response. Strict
// structured output requires every object property to be declared up front,
// so free-form parameters travel as an array of pairs rather than a map.
type parameterEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// decompositionEntry is one category's slot in the structured response. Every
// category is present in the schema; Needed marks the ones the description
// actually calls for.
type decompositionEntry struct {
	Needed      bool             `json:"needed"`
	Description string           `json:"description"`
	Parameters  []parameterEntry `json:"parameters"`
}

// decompositionResponse carries one entry per taxonomy category.
type decompositionResponse struct {
	Scene          decompositionEntry `json:"scene"`
	Character      decompositionEntry `json:"character"`
	Motion         decompositionEntry `json:"motion"`
	Lighting       decompositionEntry `json:"lighting"`
	Cinematography decompositionEntry `json:"cinematography"`
}

func (r *decompositionResponse) entry(sp domain.SubProcess) decompositionEntry {
	switch sp {
	case domain.SubProcessScene:
		return r.Scene
	case domain.SubProcessCharacter:
		return r.Character
	case domain.SubProcessMotion:
		return r.Motion
	case domain.SubProcessLighting:
		return r.Lighting
	case domain.SubProcessCinematography:
		return r.Cinematography
	}
	return decompositionEntry{}
}

// Decompose turns a validated video description into sub-processes in
// taxonomy order. All failures come back as *DecompositionError.
func (d *Director) Decompose(ctx context.Context, desc domain.VideoDescription) ([]domain.SubProcessDescription, error) {
	log.Printf("[director] decomposing: %s", truncate(desc.Text, 50))

	prompt, err := d.prompts.BuildDecomposePrompt(prompts.DecomposeData{
		Text:     desc.Text,
		Duration: desc.Duration,
		FPS:      desc.FPS,
		Width:    desc.Width,
		Height:   desc.Height,
		Context:  ragContext(ctx, d.retriever, desc.Text, d.queryK),
	})
	if err != nil {
		return nil, &DecompositionError{Err: err}
	}

	raw, err := d.client.Complete(ctx, llm.Request{
		Model:       d.model,
		Prompt:      prompt,
		Schema:      llm.GenerateSchema[decompositionResponse](),
		SchemaName:  "video_decomposition",
		Temperature: 0.7,
	})
	if err != nil {
		return nil, &DecompositionError{Err: err}
	}

	var resp decompositionResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, &DecompositionError{Err: fmt.Errorf("parsing decomposition: %w", err)}
	}

	var subs []domain.SubProcessDescription
	for idx, sp := range domain.Taxonomy() {
		entry := resp.entry(sp)
		if !entry.Needed || strings.TrimSpace(entry.Description) == "" {
			continue
		}
		params := make(map[string]any, len(entry.Parameters))
		for _, p := range entry.Parameters {
			params[p.Key] = p.Value
		}
		subs = append(subs, domain.SubProcessDescription{
			Type:        sp,
			Description: entry.Description,
			Parameters:  params,
			Order:       idx,
		})
	}

	if len(subs) == 0 {
		return nil, &DecompositionError{Err: fmt.Errorf("no sub-processes in decomposition")}
	}

	log.Printf("[director] decomposed into %d sub-processes", len(subs))
	return subs, nil
}

// ragContext retrieves supporting snippets for a query. Retrieval never
// fails a caller: nil retriever or empty results produce an empty context.
func ragContext(ctx context.Context, r knowledge.Retriever, query string, k int) string {
	if r == nil {
		return ""
	}
	snippets := r.Query(ctx, query, k)
	if len(snippets) == 0 {
		return ""
	}
	docs := make([]string, 0, len(snippets))
	for _, s := range snippets {
		docs = append(docs, s.Document)
	}
	return strings.Join(docs, "\n\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
