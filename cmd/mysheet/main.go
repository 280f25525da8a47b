// Package main provides the CLI entry point for mysheet.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lgwanai/mysheet-mcp/internal/app"
	"github.com/lgwanai/mysheet-mcp/internal/config"
	"github.com/lgwanai/mysheet-mcp/internal/server"
	"github.com/lgwanai/mysheet-mcp/pkg/sheetjson"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	outputPath string
	pretty     bool
	mode       string
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "mysheet",
		Short: "Convert spreadsheets to JSON",
		Long: `mysheet converts .xlsx and .xls workbooks to JSON, replacing embedded
pictures and attachments with links, and serves the rows through MCP tools.`,
		SilenceUsage: true,
	}
	cfg.BindFlags(rootCmd.PersistentFlags())

	convertCmd := &cobra.Command{
		Use:   "convert [file-or-url]",
		Short: "Convert a spreadsheet and print the JSON result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd.Context(), cfg, args[0])
		},
	}
	convertCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (default: stdout)")
	convertCmd.Flags().BoolVar(&pretty, "pretty", false, "Pretty-print JSON output")
	convertCmd.Flags().StringVar(&mode, "mode", string(sheetjson.ModeBasic), "Conversion mode: basic or row-object")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tools over stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mysheet %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
		},
	}

	rootCmd.AddCommand(convertCmd, serveCmd, versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runConvert(ctx context.Context, cfg *config.Config, ref string) error {
	m, err := sheetjson.ParseMode(mode)
	if err != nil {
		return err
	}
	logger := cfg.NewLogger()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.Service.Convert(ctx, ref, string(m))
	if err != nil {
		return fmt.Errorf("conversion failed: %s", sheetjson.ErrorMessage(err))
	}

	var jsonData []byte
	if pretty {
		jsonData, err = json.MarshalIndent(result, "", "  ")
	} else {
		jsonData, err = json.Marshal(result)
	}
	if err != nil {
		return fmt.Errorf("serialization failed: %w", err)
	}

	if outputPath == "" {
		fmt.Println(string(jsonData))
		return nil
	}
	if dir := filepath.Dir(outputPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(outputPath, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	logger.Info("Output written.", "path", outputPath)
	return nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := cfg.NewLogger()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Debug("MCP server starting.", "version", Version, "buildTime", BuildTime, "commit", GitCommit)
	srv := server.New(a.Service, Version, logger)
	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
