// Package main provides the agentpatterns CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/richinex/agentpatterns/cli"
	"github.com/richinex/agentpatterns/config"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := cli.DefaultOptions()

	rootCmd := &cobra.Command{
		Use:   "agentpatterns",
		Short: "Agentic design patterns on a durable workflow runtime",
		Long: `Run the agentic design patterns against a real LLM provider.

Agent patterns:
- augmented, stateful, autonomous

Workflow patterns (durable, resumable, served over REST by 'serve'):
- chaining, routing, parallel, orchestrator, evaluator`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.Provider, "provider", "p", "", "LLM provider (anthropic, openai, deepseek, gemini, ollama)")
	flags.IntVarP(&opts.MaxIter, "max-iter", "m", 0, "Maximum iterations for agent execution")
	flags.StringVar(&opts.DB, "db", "", "Workflow database path")
	flags.StringVar(&opts.Config, "config", "", "Path to YAML settings file")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "Show verbose output")
	flags.StringArrayVar(&opts.MCP, "mcp", nil, "MCP server command (repeatable)")
	flags.StringVar(&opts.MCPConfig, "mcp-config", "", "Path to MCP config file")

	rootCmd.AddCommand(runCmd(&opts))
	rootCmd.AddCommand(listCmd(&opts))
	rootCmd.AddCommand(serveCmd(&opts))
	rootCmd.AddCommand(statusCmd(&opts))
	rootCmd.AddCommand(toolsCmd(&opts))

	return rootCmd
}

func runCmd(opts *cli.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "run [pattern]",
		Short: "Run one pattern",
		Long: `Run one pattern and print its transcript.

Use 'agentpatterns list' to see the pattern names.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RunPattern(cmd.Context(), args[0], *opts)
		},
	}
}

func listCmd(opts *cli.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the available patterns",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cli.ListPatterns(opts.Out)
		},
	}
}

func serveCmd(opts *cli.Options) *cobra.Command {
	var gops bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow patterns over REST",
		Long: `Start the workflow REST server.

Endpoints:
- POST /start-workflow/{name}
- GET  /status/{id}, /history/{id}, /events/{id} (websocket)
- POST /terminate/{id}
- GET  /workflows, /instances, /healthz, /metrics

Instances left running by a previous process are resumed on start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Serve(cmd.Context(), *opts, gops)
		},
	}

	cmd.Flags().BoolVar(&gops, "gops", false, "Start a gops diagnostics agent")

	return cmd
}

func statusCmd(opts *cli.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status [instance-id]",
		Short: "Show a workflow instance, or list all instances",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return cli.Status(cmd.Context(), id, *opts)
		},
	}
}

func toolsCmd(opts *cli.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List available tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListTools(cmd.Context(), *opts)
		},
	}
}
