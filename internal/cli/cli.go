package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/nmalaguti/karma-coverage/internal/application"
	"github.com/nmalaguti/karma-coverage/internal/domain"
	"github.com/nmalaguti/karma-coverage/internal/infrastructure/config"
	"github.com/nmalaguti/karma-coverage/internal/infrastructure/coveragefile"
	"github.com/nmalaguti/karma-coverage/internal/infrastructure/instrument"
	"github.com/nmalaguti/karma-coverage/internal/infrastructure/paths"
	"github.com/nmalaguti/karma-coverage/internal/infrastructure/report"
	"github.com/nmalaguti/karma-coverage/internal/infrastructure/runner"
	"github.com/nmalaguti/karma-coverage/internal/infrastructure/watcher"
	"github.com/nmalaguti/karma-coverage/internal/infrastructure/wizard"
)

// logger is the process-wide structured logger (writes to stderr).
var logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: false,
})

type Service interface {
	LoadConfig(path string) (application.Config, error)
	Run(ctx context.Context, opts application.RunOptions) (application.RunResults, error)
	Instrument(ctx context.Context, opts application.InstrumentOptions) (string, *application.File, error)
	Report(ctx context.Context, opts application.ReportOptions) (application.RunResults, error)
}

var (
	initWizard = wizard.Run
	stdin      io.Reader = os.Stdin
	// interactive reports whether the init wizard can take over the terminal.
	interactive = func() bool {
		fd := os.Stdin.Fd()
		return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
)

// exitError carries the process exit code for an error. A nil err exits
// quietly.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func withCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// Run executes the command line and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer, svc Service) int {
	root := newRootCmd(stdout, stderr, svc)
	if len(args) > 1 {
		root.SetArgs(args[1:])
	} else {
		root.SetArgs([]string{})
	}
	err := root.ExecuteContext(context.Background())
	return exitCode(err, 2, stderr)
}

func newRootCmd(stdout, stderr io.Writer, svc Service) *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "karmacov",
		Short: "Instrument JavaScript, collect coverage per target and write reports",
		Long: `karmacov instruments JavaScript sources, runs specs in isolated targets,
merges the collected coverage per target, enforces thresholds and writes
html, lcov, text, json, cobertura and badge reports.`,
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := log.ParseLevel(logLevel)
			if err != nil {
				return withCode(err, 2)
			}
			logger.SetLevel(level)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			return &exitError{code: 2}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")

	root.AddCommand(
		newRunCmd(svc),
		newInstrumentCmd(svc),
		newReportCmd(svc),
		newInitCmd(svc),
		newVersionCmd(),
	)
	return root
}

// runParams holds the parsed flags for the run command.
type runParams struct {
	configPath string
	watch      bool
	stdout     io.Writer
}

func newRunCmd(svc Service) *cobra.Command {
	var p runParams
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured files in every target and report coverage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p.stdout = cmd.OutOrStdout()
			if p.watch {
				return runWatch(cmd.Context(), svc, p)
			}
			return runOnce(cmd.Context(), svc, p)
		},
	}
	cmd.Flags().StringVarP(&p.configPath, "config", "c", config.DefaultFile, "config file path")
	cmd.Flags().BoolVarP(&p.watch, "watch", "w", false, "re-run when sources change")
	return cmd
}

func runOnce(ctx context.Context, svc Service, p runParams) error {
	results, err := svc.Run(ctx, application.RunOptions{ConfigPath: p.configPath})
	if err != nil {
		return withCode(err, 3)
	}
	fmt.Fprintf(p.stdout, "Executed %d specs: %d passed, %d failed\n", results.Success+results.Failed, results.Success, results.Failed)
	if results.ExitCode != 0 {
		return &exitError{code: results.ExitCode}
	}
	return nil
}

func runWatch(ctx context.Context, svc Service, p runParams) error {
	cfg, err := svc.LoadConfig(p.configPath)
	if err != nil {
		return withCode(err, 3)
	}
	w, err := watcher.New(watcher.WithLogger(logger), watcher.WithIgnore(outputDirs(cfg)...))
	if err != nil {
		return withCode(fmt.Errorf("create watcher: %w", err), 3)
	}
	defer w.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(p.stdout, "Watching for file changes... (Ctrl+C to stop)")
	_, err = svc.Run(ctx, application.RunOptions{ConfigPath: p.configPath, Watcher: w})
	if err != nil && !errors.Is(err, context.Canceled) {
		return withCode(err, 3)
	}
	fmt.Fprintln(p.stdout, "Stopped watching.")
	return nil
}

// outputDirs returns the base names of the report directories so report
// writes do not trigger another run.
func outputDirs(cfg application.Config) []string {
	seen := map[string]bool{}
	var dirs []string
	for _, def := range cfg.Coverage.ReportDefinitions() {
		dir := def.Dir
		if dir == "" {
			dir = cfg.Coverage.Dir
		}
		if dir == "" {
			dir = application.DefaultDir
		}
		base := filepath.Base(filepath.Clean(dir))
		if base == "." || base == string(filepath.Separator) || seen[base] {
			continue
		}
		seen[base] = true
		dirs = append(dirs, base)
	}
	return dirs
}

type instrumentParams struct {
	configPath   string
	file         string
	sourceMap    string
	instrumenter string
	output       string
	stdout       io.Writer
}

func newInstrumentCmd(svc Service) *cobra.Command {
	var p instrumentParams
	cmd := &cobra.Command{
		Use:   "instrument <file>",
		Short: "Print a file instrumented the way a run would load it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p.file = args[0]
			p.stdout = cmd.OutOrStdout()
			return runInstrument(cmd.Context(), svc, p)
		},
	}
	cmd.Flags().StringVarP(&p.configPath, "config", "c", config.DefaultFile, "config file path (defaults apply when missing)")
	cmd.Flags().StringVar(&p.sourceMap, "source-map", "", "source map of the input file")
	cmd.Flags().StringVar(&p.instrumenter, "instrumenter", "", "instrumenter name (default from config)")
	cmd.Flags().StringVarP(&p.output, "output", "o", "", "write instrumented code to a file instead of stdout")
	return cmd
}

func runInstrument(ctx context.Context, svc Service, p instrumentParams) error {
	content, err := os.ReadFile(p.file) // #nosec G304 -- path supplied by the user on the command line
	if err != nil {
		return withCode(err, 2)
	}
	var sourceMap []byte
	if p.sourceMap != "" {
		sourceMap, err = os.ReadFile(p.sourceMap) // #nosec G304 -- path supplied by the user on the command line
		if err != nil {
			return withCode(err, 2)
		}
	}

	code, file, err := svc.Instrument(ctx, application.InstrumentOptions{
		ConfigPath:   p.configPath,
		Path:         p.file,
		Content:      string(content),
		SourceMap:    sourceMap,
		Instrumenter: p.instrumenter,
	})
	if err != nil {
		return withCode(err, 3)
	}
	logger.Debug("instrumented", "file", file.Path, "sourceMap", len(file.SourceMap) > 0)

	if p.output == "" {
		_, err = io.WriteString(p.stdout, code)
		return err
	}
	if err := os.WriteFile(p.output, []byte(code), 0o644); err != nil { // #nosec G306 -- generated source is not secret
		return withCode(err, 2)
	}
	if len(file.SourceMap) > 0 {
		if err := os.WriteFile(p.output+".map", file.SourceMap, 0o644); err != nil { // #nosec G306
			return withCode(err, 2)
		}
	}
	return nil
}

func newReportCmd(svc Service) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "report <target=coverage.json>...",
		Short: "Check and report saved coverage objects without running specs",
		Long: `Each argument names a target and a saved coverage object, for example
"Chrome=coverage/chrome/coverage-final.json". A bare path uses the file's
parent directory as the target name.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := parseInputs(args)
			if err != nil {
				return withCode(err, 2)
			}
			results, err := svc.Report(cmd.Context(), application.ReportOptions{ConfigPath: configPath, Inputs: inputs})
			if err != nil {
				return withCode(err, 3)
			}
			if results.ExitCode != 0 {
				return &exitError{code: results.ExitCode}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultFile, "config file path (defaults apply when missing)")
	return cmd
}

func parseInputs(args []string) ([]application.CoverageInput, error) {
	inputs := make([]application.CoverageInput, 0, len(args))
	for _, arg := range args {
		target, path, ok := strings.Cut(arg, "=")
		if !ok {
			path = arg
			target = filepath.Base(filepath.Dir(path))
			if target == "." || target == string(filepath.Separator) {
				target = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}
		}
		if target == "" || path == "" {
			return nil, fmt.Errorf("invalid coverage input %q: want target=path", arg)
		}
		inputs = append(inputs, application.CoverageInput{Target: target, Path: path})
	}
	return inputs, nil
}

func newInitCmd(svc Service) *cobra.Command {
	var (
		configPath    string
		force         bool
		noInteractive bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a config file, reviewing thresholds in an interactive wizard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			cfg, err := initialConfig(svc, configPath)
			if err != nil {
				return withCode(err, 3)
			}
			if !noInteractive && interactive() {
				var confirmed bool
				cfg, confirmed, err = initWizard(cfg, report.NewRegistry().Kinds(), stdout, stdin)
				if err != nil {
					return withCode(err, 5)
				}
				if !confirmed {
					fmt.Fprintln(stdout, "Init cancelled; no configuration written.")
					return nil
				}
			}
			return withCode(writeConfigFile(configPath, cfg, stdout, force), 2)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultFile, "config file path, - for stdout")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cmd.Flags().BoolVar(&noInteractive, "no-interactive", false, "skip the interactive wizard")
	return cmd
}

// initialConfig starts from the existing config when there is one.
func initialConfig(svc Service, path string) (application.Config, error) {
	if path != "-" {
		cfg, err := svc.LoadConfig(path)
		if err == nil {
			// The loader resolves basePath; write it back relative to the file.
			if dir, absErr := filepath.Abs(filepath.Dir(path)); absErr == nil && filepath.IsAbs(cfg.BasePath) {
				if rel, relErr := filepath.Rel(dir, filepath.FromSlash(cfg.BasePath)); relErr == nil {
					cfg.BasePath = filepath.ToSlash(rel)
				}
			}
			return cfg, nil
		}
		if !errors.Is(err, application.ErrConfigNotFound) {
			return application.Config{}, err
		}
	}
	cfg := application.DefaultConfig()
	cfg.Files = []string{"src/**/*.js", "test/**/*.spec.js"}
	cfg.Coverage.Instrument = []string{"src/**/*.js"}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "karmacov %s (commit %s, built %s)\n", Version, Commit, Date)
			return err
		},
	}
}

// BuildService wires the production adapters.
func BuildService(out io.Writer) *application.Service {
	return &application.Service{
		ConfigLoader:  config.Loader{},
		Instrumenters: instrument.Registry(),
		Composer:      instrument.Composer{},
		Reports:       report.NewRegistry(),
		Runner:        runner.New(logger.WithPrefix("runner")),
		Coverage:      coveragefile.Source{},
		Normalizer: func(basePath string) domain.PathNormalizer {
			return paths.NewBaseDirNormalizer(basePath)
		},
		Logger: logger,
		Out:    out,
	}
}

func writeConfigFile(path string, cfg application.Config, stdout io.Writer, force bool) error {
	if path == "-" {
		return config.Write(stdout, cfg)
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %s already exists", path)
		}
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return fmt.Errorf("%w: init writes YAML, not %s", config.ErrUnsupportedFormat, path)
	}
	file, err := os.Create(path) // #nosec G304 -- path supplied by the user on the command line
	if err != nil {
		return err
	}
	defer file.Close()
	if err := config.Write(file, cfg); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote %s\n", path)
	return nil
}

func exitCode(err error, code int, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(stderr, ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(stderr, err)
	return code
}
