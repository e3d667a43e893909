// Package knowledge provides the retrieval collaborator: a store of scripting
// documentation and tutorial snippets queryable by free text.
package knowledge

import "context"

// Snippet is one ranked retrieval result. Distance is 0 for a perfect match
// and grows toward 1 as relevance drops.
type Snippet struct {
	Document string
	Metadata map[string]string
	Distance float64
}

// Retriever answers free-text queries with ranked snippets. Implementations
// must return an empty slice on failure, never an error; the pipeline treats
// retrieval as best-effort context.
type Retriever interface {
	Query(ctx context.Context, text string, k int) []Snippet
}

// RetrieverFunc adapts a function to the Retriever interface, used by tests.
type RetrieverFunc func(ctx context.Context, text string, k int) []Snippet

// Query implements Retriever.
func (f RetrieverFunc) Query(ctx context.Context, text string, k int) []Snippet {
	return f(ctx, text, k)
}
