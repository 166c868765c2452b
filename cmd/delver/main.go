package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skylarkhq/delver/config"
	"github.com/skylarkhq/delver/internal/research"
	srv "github.com/skylarkhq/delver/internal/server"
)

func main() {
	var cfgPath string
	root := &cobra.Command{Use: "delver", Short: "Autonomous research service"}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config directory (defaults to ./config)")

	var serveAddr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if serveAddr == "" {
				serveAddr = os.Getenv("DELVER_HTTP_ADDR")
			}
			return srv.Run(cfg, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (defaults to server.address)")

	var migDir string
	var direction string
	var steps int
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return srv.Migrate(migDir, os.Getenv("DATABASE_URL"), direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	var quiet bool
	researchCmd := &cobra.Command{
		Use:   "research [query]",
		Short: "Run one research session and print the report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			engine, err := srv.BuildEngine(cfg)
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")

			var emitter research.Emitter = research.NopEmitter{}
			done := make(chan struct{})
			if !quiet {
				ch := research.NewChannelEmitter(256)
				emitter = ch
				go func() {
					defer close(done)
					for ev := range ch.Events() {
						printProgress(ev)
					}
				}()
				defer func() { ch.Close(); <-done }()
			}

			result, err := engine.Run(cmd.Context(), query, emitter)
			if err != nil {
				return err
			}
			fmt.Println(result.FinalReport)
			if len(result.Checklist) > 0 {
				fmt.Println("\nChecklist:")
				for _, item := range result.Checklist {
					mark := " "
					if item.Status == research.StatusCompleted {
						mark = "x"
					}
					fmt.Printf("  [%s] %s\n", mark, item.Question)
				}
			}
			if len(result.Sources) > 0 {
				fmt.Println("\nSources:")
				for _, src := range result.Sources {
					fmt.Printf("  %s %s\n", src.Ref(), src.URL)
				}
			}
			return nil
		},
	}
	researchCmd.Flags().BoolVar(&quiet, "quiet", false, "suppress progress output")

	root.AddCommand(serve, migrate, researchCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func printProgress(ev research.Event) {
	switch ev.Type {
	case research.EventAgentReasoning:
		if p, ok := ev.Data.(research.ReasoningPayload); ok {
			fmt.Fprintf(os.Stderr, "… %s\n", p.Content)
		}
	case research.EventToolCallStarted:
		if p, ok := ev.Data.(research.ToolStartedPayload); ok {
			fmt.Fprintf(os.Stderr, "→ %s\n", p.ToolName)
		}
	case research.EventSourceDiscovered:
		if p, ok := ev.Data.(research.SourcesPayload); ok {
			for _, src := range p.Sources {
				fmt.Fprintf(os.Stderr, "  %s %s\n", src.Ref(), src.URL)
			}
		}
	case research.EventError:
		if p, ok := ev.Data.(research.ErrorPayload); ok {
			fmt.Fprintf(os.Stderr, "! %s\n", p.Error)
		}
	}
}
