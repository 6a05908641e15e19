// Package main provides the batch CLI for the property-based testing oracle.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pbt-oracle/internal/app"
	"github.com/pbt-oracle/internal/backend"
	"github.com/pbt-oracle/internal/batch"
	"github.com/pbt-oracle/internal/config"
	"github.com/pbt-oracle/internal/logging"
)

var (
	// Global flags
	profilePath string
	logLevel    string

	// run / record flags
	mode       string
	inputPath  string
	outputPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pbt",
		Short: "Property-based testing oracle for formal specifications",
		Long: `Samples inputs for a function signature, evaluates a candidate
implementation on them, and classifies each input/output pair against the
property definition by proof.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&profilePath, "profile", "", "Tactic and marker profile (YAML); overrides ORACLE_PROFILE")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level; overrides LOG_LEVEL")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(checkCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runCmd processes a JSONL file of records
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a JSONL file of records",
		Long: `Reads one record per line and writes each completed record with its
results attached. Modes: pbt, tests, verify, examples. Records that fail
are logged and dropped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := batch.ParseMode(mode)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			in, closeIn, err := openInput(inputPath)
			if err != nil {
				return err
			}
			defer closeIn()

			out, closeOut, err := openOutput(outputPath)
			if err != nil {
				return err
			}
			defer closeOut()

			summary, err := a.Driver.Run(ctx, m, in, out)
			if summary != nil {
				fmt.Fprintf(os.Stderr, "run %s: %d processed, %d dropped\n", summary.ID, summary.Processed, summary.Dropped)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", string(batch.ModePBT), "Processing mode: pbt, tests, verify, examples")
	cmd.Flags().StringVarP(&inputPath, "input", "i", "-", "Input JSONL file (- for stdin)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "-", "Output JSONL file (- for stdout)")

	return cmd
}

// recordCmd processes a single JSON record and prints the result
func recordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record [file]",
		Short: "Process one JSON record and print it with results",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := batch.ParseMode(mode)
			if err != nil {
				return err
			}

			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			in, closeIn, err := openInput(path)
			if err != nil {
				return err
			}
			defer closeIn()

			data, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("failed to read record: %w", err)
			}
			rec, err := batch.DecodeRecord(data)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			if _, err := a.Driver.Process(ctx, m, rec); err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			return enc.Encode(rec.Fields)
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", string(batch.ModePBT), "Processing mode: pbt, tests, verify, examples")

	return cmd
}

// checkCmd verifies the proof backend can be launched
func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the proof backend runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			runner := backend.NewLeanRunner(cfg.Backend, nil)

			out, err := backend.RunScript(ctx, runner, backend.Script{Kind: backend.KindEval, Text: "#eval 1 + 1"})
			if err != nil {
				return fmt.Errorf("backend check failed: %w", err)
			}
			if strings.TrimSpace(out) != "2" {
				return fmt.Errorf("backend check failed: unexpected output %q", out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backend OK: %s %s\n", cfg.Backend.Command, strings.Join(cfg.Backend.Args, " "))
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	if profilePath != "" {
		if err := os.Setenv("ORACLE_PROFILE", profilePath); err != nil {
			return nil, err
		}
	}
	if logLevel != "" {
		if err := os.Setenv("LOG_LEVEL", logLevel); err != nil {
			return nil, err
		}
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	return cfg, nil
}

func setup(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" || path == "" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "-" || path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
