package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "kubrick",
		Short: "Kubrick - text-to-video generation through Blender",
		Long: `Kubrick turns text descriptions into rendered videos. A director agent
decomposes the description into cinematographic sub-processes, a programmer
agent writes Blender scripts for each, and a vision reviewer iterates on the
rendered output until it passes or the iteration budget runs out.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	// A local .env is a convenient place for OPENAI_API_KEY.
	godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
