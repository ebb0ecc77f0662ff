// Package main implements the CLI driver for the shrink class merger.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/spf13/cobra"

	"github.com/715d/shrink/internal/keep"
	"github.com/715d/shrink/pkg/lens"
	"github.com/715d/shrink/pkg/shrink"
)

// Config holds all command-line configuration options for the shrinker.
type Config struct {
	ProgramPath           string // the program JSON file to process
	KeepRules             string // path to a YAML keep-rules file
	MappingPath           string // where to write the member mapping, empty disables
	Verbose               bool   // enables detailed output and statistics
	JSON                  bool   // enables JSON output format
	Profile               bool   // enables CPU and memory profiling
	NoVertical            bool   // disables the vertical merge pass
	NoStatic              bool   // disables the static merge pass
	AllowAccessMod        bool   // permits widening member visibility during merging
	Capacity              int    // member capacity before a merge target is retired
	AggressiveOverloading bool   // reuse method names across distinct signatures
}

const exitError = 2

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var cfg Config

func main() {
	var rootCmd = &cobra.Command{
		Use:   "shrink <program.json>",
		Short: "Merge classes in a whole-program class model",
		Long: `shrink rewrites a closed-world class program to use fewer classes.

It applies two passes:
- Vertical merging folds a superclass or interface into its only subtype
- Static merging regroups the members of static-only classes into shared hosts`,
		Example: `  shrink app.json                          # Merge with default settings
  shrink --keep rules.yaml app.json        # Honor keep rules
  shrink --mapping out.map app.json        # Write the member mapping
  shrink --json app.json > report.json     # JSON report to file`,
		Args:               cobra.ExactArgs(1),
		RunE:               runCommand,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
		SilenceUsage:       true,
		SilenceErrors:      true,
		Version:            version,
	}

	// Set custom version template to include build info.
	rootCmd.SetVersionTemplate(fmt.Sprintf("shrink version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	// Define flags.
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&cfg.JSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&cfg.Profile, "profile", false, "Enable CPU and memory profiling (writes cpu.prof and mem.prof to current directory)")
	rootCmd.PersistentFlags().StringVar(&cfg.KeepRules, "keep", "", "YAML file with pinned types and members")
	rootCmd.PersistentFlags().StringVar(&cfg.MappingPath, "mapping", "", "Write the original-to-renamed member mapping to this file")
	rootCmd.PersistentFlags().BoolVar(&cfg.NoVertical, "no-vertical", false, "Skip the vertical class merge pass")
	rootCmd.PersistentFlags().BoolVar(&cfg.NoStatic, "no-static", false, "Skip the static class merge pass")
	rootCmd.PersistentFlags().BoolVar(&cfg.AllowAccessMod, "allow-access-modification", false, "Permit widening member visibility to enable cross-package merges")
	rootCmd.PersistentFlags().IntVar(&cfg.Capacity, "capacity", 0, "Member capacity before a static merge target is retired (0 uses the default)")
	rootCmd.PersistentFlags().BoolVar(&cfg.AggressiveOverloading, "aggressive-overloading", false, "Reuse method names across distinct signatures when merging")

	if err := rootCmd.Execute(); err != nil {
		_ = teardown(nil, nil)
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		var cErr *codedError
		if errors.As(err, &cErr) {
			os.Exit(cErr.code)
		}
		os.Exit(exitError)
	}
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg.ProgramPath = args[0]

	slog.Info("starting class merging", "program", cfg.ProgramPath)

	result, report, err := runShrink(cmd, &cfg)
	if err != nil {
		return errWithCode(fmt.Errorf("shrink: %w", err), exitError)
	}

	if cfg.MappingPath != "" {
		if err := writeMapping(result, cfg.MappingPath); err != nil {
			return errWithCode(fmt.Errorf("write mapping: %w", err), exitError)
		}
	}

	if err := writeReport(report, &cfg); err != nil {
		return errWithCode(fmt.Errorf("format report: %w", err), exitError)
	}
	return nil
}

// Report summarizes one run for human or JSON consumption.
type Report struct {
	ClassesBefore     int               `json:"classes_before"`
	ClassesAfter      int               `json:"classes_after"`
	VerticallyMerged  map[string]string `json:"vertically_merged"`
	StaticMergedCount int               `json:"statically_merged_members"`
	CallEdgesCut      int               `json:"call_edges_cut"`
	PureMethods       int               `json:"pure_methods"`
	Duration          time.Duration     `json:"duration"`
	Version           string            `json:"version"`
	Timestamp         string            `json:"timestamp"`
}

func runShrink(cmd *cobra.Command, cfg *Config) (*shrink.Result, *Report, error) {
	start := time.Now()

	slog.Info("loading program", "path", cfg.ProgramPath)
	program, err := shrink.LoadProgram(cfg.ProgramPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading program: %w", err)
	}
	before := program.Size()
	slog.Info("loaded program", "classes", before)

	keepInfo, err := loadKeepRules(cfg.KeepRules)
	if err != nil {
		return nil, nil, err
	}

	opts := shrink.DefaultOptions()
	opts.VerticalMerging = !cfg.NoVertical
	opts.StaticMerging = !cfg.NoStatic
	opts.AllowAccessModification = cfg.AllowAccessMod
	opts.RepresentativeCapacity = cfg.Capacity
	opts.AggressiveOverloading = cfg.AggressiveOverloading

	slog.Info("running merge passes",
		"vertical", opts.VerticalMerging,
		"static", opts.StaticMerging)
	result, err := shrink.NewShrinker(keepInfo, opts).Run(cmd.Context(), program)
	if err != nil {
		return nil, nil, fmt.Errorf("merge program: %w", err)
	}
	duration := time.Since(start)
	slog.Info("merging completed", "dur", duration)

	merged := make(map[string]string, len(result.VerticallyMerged))
	for src, tgt := range result.VerticallyMerged {
		merged[string(src)] = string(tgt)
	}

	report := &Report{
		ClassesBefore:     before,
		ClassesAfter:      result.Program.Size(),
		VerticallyMerged:  merged,
		StaticMergedCount: result.StaticallyMergedMembers,
		CallEdgesCut:      result.EdgesCut,
		PureMethods:       result.PureMethods,
		Duration:          duration,
		Version:           version,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	}
	return result, report, nil
}

func loadKeepRules(path string) (*keep.Info, error) {
	if path == "" {
		return keep.NewInfo(), nil
	}
	slog.Info("loading keep rules", "path", path)
	info, err := keep.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading keep rules: %w", err)
	}
	return info, nil
}

func writeMapping(result *shrink.Result, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	if err := lens.WriteMapping(f, result.Program, result.Lens, result.VerticallyMerged); err != nil {
		return err
	}
	slog.Info("wrote mapping", "path", path)
	return nil
}

func writeReport(report *Report, cfg *Config) error {
	if cfg.JSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling json report: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("classes: %d -> %d\n", report.ClassesBefore, report.ClassesAfter)
	for src, tgt := range report.VerticallyMerged {
		if cfg.Verbose {
			fmt.Printf("  merged %s into %s\n", src, tgt)
		}
	}
	fmt.Printf("vertically merged classes: %d\n", len(report.VerticallyMerged))
	fmt.Printf("statically merged members: %d\n", report.StaticMergedCount)
	if cfg.Verbose {
		fmt.Printf("call edges cut: %d\n", report.CallEdgesCut)
		fmt.Printf("pure methods: %d\n", report.PureMethods)
		fmt.Printf("duration: %s\n", report.Duration)
	}
	return nil
}

var cpuProfile *os.File

func setup(_ *cobra.Command, _ []string) error {
	// Disable logger unless verbose flag is set.
	slog.SetDefault(slog.New(slog.DiscardHandler))
	if cfg.Verbose {
		opts := &slog.HandlerOptions{Level: slog.LevelDebug}
		var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
		if cfg.JSON {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		}
		logger := slog.New(handler)
		slog.SetDefault(logger)
	}

	if !cfg.Profile {
		return nil
	}

	// Start CPU profiling.
	var err error
	cpuProfile, err = os.Create("cpu.prof")
	if err != nil {
		return fmt.Errorf("creating cpu.prof: %w", err)
	}
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		_ = cpuProfile.Close()
		return fmt.Errorf("starting CPU profile: %w", err)
	}
	slog.Info("cpu profiling started", "file", "cpu.prof")
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if !cfg.Profile || cpuProfile == nil {
		return nil
	}

	// Stop CPU profiling and close file.
	pprof.StopCPUProfile()
	defer cpuProfile.Close()
	slog.Info("cpu profiling stopped", "file", "cpu.prof")

	// Write memory profile.
	memFile, err := os.Create("mem.prof")
	if err != nil {
		return fmt.Errorf("creating mem.prof: %w", err)
	}
	defer memFile.Close()
	runtime.GC() // Get up-to-date statistics
	if err := pprof.WriteHeapProfile(memFile); err != nil {
		return fmt.Errorf("writing memory profile: %w", err)
	}
	slog.Info("memory profiling completed", "file", "mem.prof")
	return nil
}

func errWithCode(err error, code int) error {
	return &codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}
