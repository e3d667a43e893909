package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kubrick-video/kubrick/internal/agents"
	"github.com/kubrick-video/kubrick/internal/config"
	"github.com/kubrick-video/kubrick/internal/domain"
	"github.com/kubrick-video/kubrick/internal/executor"
	"github.com/kubrick-video/kubrick/internal/knowledge"
	"github.com/kubrick-video/kubrick/internal/library"
	"github.com/kubrick-video/kubrick/internal/llm"
	"github.com/kubrick-video/kubrick/internal/pipeline"
	"github.com/kubrick-video/kubrick/internal/prompts"
	"github.com/kubrick-video/kubrick/internal/runstore"
)

var (
	generateOutput   string
	generateDuration float64
	generateFPS      int
	listLimit        int
	loadSourceType   string
	loadTutorials    bool
)

func init() {
	generateCmd := &cobra.Command{
		Use:   "generate DESCRIPTION",
		Short: "Generate a video from a text description",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runGenerate,
	}
	generateCmd.Flags().StringVar(&generateOutput, "output", "", "output filename (defaults to the run id)")
	generateCmd.Flags().Float64Var(&generateDuration, "duration", 0, "video duration in seconds")
	generateCmd.Flags().IntVar(&generateFPS, "fps", 0, "frames per second")
	rootCmd.AddCommand(generateCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List past generation runs",
		RunE:  runList,
	}
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum runs to show")
	rootCmd.AddCommand(listCmd)

	showCmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show the full result of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
	rootCmd.AddCommand(showCmd)

	knowledgeCmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Manage the retrieval knowledge base",
	}
	loadCmd := &cobra.Command{
		Use:   "load FILE...",
		Short: "Load documents into the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runKnowledgeLoad,
	}
	loadCmd.Flags().StringVar(&loadSourceType, "type", "general", "source type (general, tutorial, api_docs)")
	loadCmd.Flags().BoolVar(&loadTutorials, "tutorials", false, "treat files as tutorial JSON ({title, transcript, url} lists)")
	knowledgeCmd.AddCommand(loadCmd)
	knowledgeCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show knowledge base statistics",
		RunE:  runKnowledgeStats,
	})
	rootCmd.AddCommand(knowledgeCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show pipeline statistics",
		RunE:  runStats,
	}
	rootCmd.AddCommand(statsCmd)

	libraryCmd := &cobra.Command{
		Use:   "library",
		Short: "Inspect the Blender function library",
	}
	libraryCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List library functions",
		RunE:  runLibraryList,
	})
	rootCmd.AddCommand(libraryCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// buildPipeline wires the full pipeline from configuration. The returned
// cleanup closes the stores.
func buildPipeline(cfg *config.Config) (*pipeline.Pipeline, func(), error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}

	for _, dir := range []string{cfg.Paths.OutputDir, cfg.Paths.TempDir, filepath.Dir(cfg.Paths.DatabasePath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
	}

	client := llm.NewOpenAI(apiKey)
	loader := prompts.DefaultLoader(".")

	lib, err := library.New(cfg.Paths.CustomFunctions)
	if err != nil {
		return nil, nil, fmt.Errorf("loading function library: %w", err)
	}

	kb, err := knowledge.NewStore(cfg.Paths.DatabasePath, knowledge.Options{
		ChunkSize:    cfg.Knowledge.ChunkSize,
		ChunkOverlap: cfg.Knowledge.ChunkOverlap,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening knowledge base: %w", err)
	}

	runs, err := runstore.New(cfg.Paths.DatabasePath)
	if err != nil {
		kb.Close()
		return nil, nil, fmt.Errorf("opening run store: %w", err)
	}

	blender := executor.New(executor.Config{
		BlenderPath: cfg.Render.BlenderPath,
		TempDir:     cfg.Paths.TempDir,
		Timeout:     time.Duration(cfg.Render.TimeoutSecs) * time.Second,
		Debug:       cfg.Debug,
	})

	queryK := cfg.Knowledge.QueryResults
	director := agents.NewDirector(client, loader, kb, cfg.Models.Director, queryK)
	programmer := agents.NewProgrammer(client, loader, lib, kb, cfg.Models.Programmer, queryK)
	reviewer := agents.NewReviewer(client, loader, blender, cfg.Models.Reviewer, agents.ReviewerConfig{
		KeyFrameCount:   cfg.Review.KeyFrameCount,
		MaxImageWidth:   cfg.Review.MaxImageWidth,
		MaxImageHeight:  cfg.Review.MaxImageHeight,
		FinalFrameLimit: cfg.Review.FinalFrameLimit,
	})

	p := pipeline.New(cfg, director, programmer, reviewer, blender, runs, kb, lib, nil)
	cleanup := func() {
		kb.Close()
		runs.Close()
	}
	return p, cleanup, nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if generateDuration > 0 {
		cfg.Generation.DefaultDuration = generateDuration
	}
	if generateFPS > 0 {
		cfg.Generation.DefaultFPS = generateFPS
	}

	p, cleanup, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	description := strings.Join(args, " ")
	result, err := p.GenerateVideo(cmd.Context(), description, generateOutput, nil)
	if err != nil {
		return err
	}

	fmt.Printf("Run:        %s\n", result.RunID)
	fmt.Printf("Success:    %v\n", result.Success)
	fmt.Printf("Iterations: %d\n", result.TotalIterations)
	fmt.Printf("Elapsed:    %s\n", result.Elapsed.Round(time.Second))
	if result.Success {
		fmt.Printf("Output:     %s\n", result.OutputPath)
		if result.FinalScore != nil {
			fmt.Printf("Score:      %.2f\n", *result.FinalScore)
		}
	}
	for _, outcome := range result.Outcomes {
		mark := "ok"
		if !outcome.Accepted {
			mark = "failed"
		}
		fmt.Printf("  %-16s %-7s %d iterations\n", outcome.Type, mark, outcome.Iterations)
	}
	for _, e := range result.Errors {
		fmt.Printf("  error [%s]: %s\n", e.Phase, e.Message)
	}
	if !result.Success {
		return fmt.Errorf("generation did not produce a video")
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := runstore.New(cfg.Paths.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListResults(listLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSUCCESS\tITER\tSCORE\tELAPSED\tWHEN\tDESCRIPTION")
	for _, run := range runs {
		score := "-"
		if run.FinalScore != nil {
			score = fmt.Sprintf("%.2f", *run.FinalScore)
		}
		desc := run.Description
		if len(desc) > 40 {
			desc = desc[:40] + "..."
		}
		fmt.Fprintf(w, "%s\t%v\t%d\t%s\t%s\t%s\t%s\n",
			run.RunID, run.Success, run.TotalIterations, score,
			run.Elapsed.Round(time.Second), humanize.Time(run.CreatedAt), desc)
	}
	return w.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
	runID, err := domain.ParseRunID(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := runstore.New(cfg.Paths.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := store.GetResult(runID)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// tutorialEntry matches the tutorial JSON format: a list of objects with a
// title, transcript, and optional url.
type tutorialEntry struct {
	Title      string `json:"title"`
	Transcript string `json:"transcript"`
	URL        string `json:"url"`
}

func runKnowledgeLoad(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.DatabasePath), 0o755); err != nil {
		return err
	}
	kb, err := knowledge.NewStore(cfg.Paths.DatabasePath, knowledge.Options{
		ChunkSize:    cfg.Knowledge.ChunkSize,
		ChunkOverlap: cfg.Knowledge.ChunkOverlap,
	})
	if err != nil {
		return err
	}
	defer kb.Close()

	var documents []string
	var metadata []map[string]string
	sourceType := loadSourceType

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if loadTutorials {
			var tutorials []tutorialEntry
			if err := json.Unmarshal(data, &tutorials); err != nil {
				return fmt.Errorf("parsing tutorials from %s: %w", path, err)
			}
			for _, tut := range tutorials {
				documents = append(documents, tut.Transcript)
				metadata = append(metadata, map[string]string{
					"title": tut.Title,
					"url":   tut.URL,
				})
			}
			sourceType = "tutorial"
		} else {
			documents = append(documents, string(data))
			metadata = append(metadata, map[string]string{"source": path})
		}
	}

	count, err := kb.Load(cmd.Context(), documents, metadata, sourceType)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d documents as %d chunks.\n", len(documents), count)
	return nil
}

func runKnowledgeStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	kb, err := knowledge.NewStore(cfg.Paths.DatabasePath, knowledge.Options{})
	if err != nil {
		return err
	}
	defer kb.Close()

	stats, err := kb.Stats(cmd.Context())
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, cleanup, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	stats := p.GetPipelineStats(cmd.Context())

	fmt.Printf("Output directory: %s\n", stats.OutputDirectory)
	fmt.Printf("Blender path:     %s\n", stats.BlenderPath)
	fmt.Printf("Max iterations:   %d\n", stats.MaxIterations)
	fmt.Printf("Library:          %d functions\n", stats.FunctionCount)
	if stats.KnowledgeBase != nil {
		kb, _ := json.Marshal(stats.KnowledgeBase)
		fmt.Printf("Knowledge base:   %s\n", kb)
	}
	fmt.Printf("Host:             %s (%s), up %s\n", stats.Host.Hostname, stats.Host.Platform,
		(time.Duration(stats.Host.Uptime) * time.Second).Round(time.Minute))
	fmt.Printf("Memory:           %s / %s (%.1f%%)\n",
		humanize.Bytes(stats.Host.MemoryUsed), humanize.Bytes(stats.Host.MemoryTotal),
		stats.Host.MemoryPercent)
	fmt.Printf("CPU:              %d cores, %.1f%% busy\n", stats.Host.CPUCount, stats.Host.CPUPercent)
	return nil
}

func runLibraryList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	lib, err := library.New(cfg.Paths.CustomFunctions)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FUNCTION\tORIGIN")
	for _, name := range lib.List() {
		origin := "custom"
		if lib.IsBuiltin(name) {
			origin = "builtin"
		}
		fmt.Fprintf(w, "%s\t%s\n", name, origin)
	}
	return w.Flush()
}
