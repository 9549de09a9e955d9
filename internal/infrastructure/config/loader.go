// Package config loads karma-coverage configuration from YAML or TOML files.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/nmalaguti/karma-coverage/internal/application"
	"github.com/nmalaguti/karma-coverage/internal/domain"
)

// DefaultFile is the config file looked up when none is given.
const DefaultFile = "karma-coverage.yaml"

var ErrUnsupportedFormat = errors.New("unsupported config format")

type Loader struct{}

type fileConfig struct {
	BasePath  string       `yaml:"basePath,omitempty" toml:"basePath"`
	Reporters []string     `yaml:"reporters,omitempty" toml:"reporters"`
	Files     []string     `yaml:"files,omitempty" toml:"files"`
	Targets   []string     `yaml:"targets,omitempty" toml:"targets"`
	Coverage  fileCoverage `yaml:"coverageReporter" toml:"coverageReporter"`
}

type fileCoverage struct {
	Type                string                    `yaml:"type,omitempty" toml:"type"`
	Dir                 string                    `yaml:"dir,omitempty" toml:"dir"`
	File                string                    `yaml:"file,omitempty" toml:"file"`
	Subdir              string                    `yaml:"subdir,omitempty" toml:"subdir"`
	Reporters           []fileReporter            `yaml:"reporters,omitempty" toml:"reporters"`
	Instrument          []string                  `yaml:"instrument,omitempty" toml:"instrument"`
	Instrumenter        instrumenterOverrides     `yaml:"instrumenter,omitempty" toml:"instrumenter"`
	Instrumenters       map[string]string         `yaml:"instrumenters,omitempty" toml:"instrumenters"`
	InstrumenterOptions map[string]map[string]any `yaml:"instrumenterOptions,omitempty" toml:"instrumenterOptions"`
	IncludeAllSources   bool                      `yaml:"includeAllSources,omitempty" toml:"includeAllSources"`
	Watermarks          *domain.Watermarks        `yaml:"watermarks,omitempty" toml:"watermarks"`
	Check               *fileCheck                `yaml:"check,omitempty" toml:"check"`
}

type fileReporter struct {
	Type   string `yaml:"type,omitempty" toml:"type"`
	Dir    string `yaml:"dir,omitempty" toml:"dir"`
	File   string `yaml:"file,omitempty" toml:"file"`
	Subdir string `yaml:"subdir,omitempty" toml:"subdir"`
}

type fileCheck struct {
	Global fileGlobal `yaml:"global,omitempty" toml:"global"`
	Each   fileEach   `yaml:"each,omitempty" toml:"each"`
}

type fileGlobal struct {
	domain.Thresholds `yaml:",inline"`
	Excludes          []string `yaml:"excludes,omitempty" toml:"excludes"`
}

type fileEach struct {
	domain.Thresholds `yaml:",inline"`
	Excludes          []string           `yaml:"excludes,omitempty" toml:"excludes"`
	Overrides         thresholdOverrides `yaml:"overrides,omitempty" toml:"overrides"`
}

func (l Loader) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Load reads path, choosing the decoder by extension. A relative basePath is
// resolved against the directory of the file.
func (l Loader) Load(path string) (application.Config, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path is the user's config file
	if err != nil {
		return application.Config{}, err
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return application.Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(raw, &fc); err != nil {
			return application.Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return application.Config{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	cfg, err := fc.toConfig()
	if err != nil {
		return application.Config{}, err
	}
	cfg.BasePath, err = resolveBasePath(filepath.Dir(path), fc.BasePath)
	if err != nil {
		return application.Config{}, err
	}
	return cfg, nil
}

func resolveBasePath(configDir, basePath string) (string, error) {
	if !filepath.IsAbs(basePath) {
		basePath = filepath.Join(configDir, basePath)
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return "", fmt.Errorf("resolve basePath: %w", err)
	}
	return filepath.ToSlash(abs), nil
}

func (fc fileConfig) toConfig() (application.Config, error) {
	cov := fc.Coverage
	subdir, err := application.ParseSubdir(cov.Subdir)
	if err != nil {
		return application.Config{}, err
	}

	cfg := application.Config{
		Reporters: fc.Reporters,
		Files:     fc.Files,
		Targets:   fc.Targets,
		Coverage: application.CoverageConfig{
			Type:                cov.Type,
			Dir:                 cov.Dir,
			File:                cov.File,
			Subdir:              subdir,
			Instrument:          cov.Instrument,
			Instrumenter:        []application.InstrumenterOverride(cov.Instrumenter),
			InstrumenterAliases: cov.Instrumenters,
			IncludeAllSources:   cov.IncludeAllSources,
			Watermarks:          cov.Watermarks,
		},
	}

	for i, r := range cov.Reporters {
		sub, err := application.ParseSubdir(r.Subdir)
		if err != nil {
			return application.Config{}, fmt.Errorf("coverageReporter.reporters[%d]: %w", i, err)
		}
		cfg.Coverage.Reporters = append(cfg.Coverage.Reporters, application.ReporterConfig{
			Type:   r.Type,
			Dir:    r.Dir,
			File:   r.File,
			Subdir: sub,
		})
	}

	if len(cov.InstrumenterOptions) > 0 {
		cfg.Coverage.InstrumenterOptions = make(map[string]application.InstrumenterOptions, len(cov.InstrumenterOptions))
		for name, raw := range cov.InstrumenterOptions {
			opts, err := instrumenterOptions(raw)
			if err != nil {
				return application.Config{}, fmt.Errorf("coverageReporter.instrumenterOptions.%s: %w", name, err)
			}
			cfg.Coverage.InstrumenterOptions[name] = opts
		}
	}

	if cov.Check != nil {
		cfg.Coverage.Check = &domain.CheckConfig{
			Global: domain.GlobalCheck{Thresholds: cov.Check.Global.Thresholds, Excludes: cov.Check.Global.Excludes},
			Each: domain.EachCheck{
				Thresholds: cov.Check.Each.Thresholds,
				Excludes:   cov.Check.Each.Excludes,
				Overrides:  []domain.ThresholdOverride(cov.Check.Each.Overrides),
			},
		}
	}
	return cfg, nil
}

// instrumenterOptions splits the raw options of one instrumenter into the
// recognized keys and the rest.
func instrumenterOptions(raw map[string]any) (application.InstrumenterOptions, error) {
	var opts application.InstrumenterOptions
	for key, value := range raw {
		switch key {
		case "noCompact":
			b, ok := value.(bool)
			if !ok {
				return opts, fmt.Errorf("noCompact: expected a boolean, got %T", value)
			}
			opts.NoCompact = b
		case "codeGenerationOptions":
			m, ok := value.(map[string]any)
			if !ok {
				return opts, fmt.Errorf("codeGenerationOptions: expected a table, got %T", value)
			}
			opts.CodeGenerationOverrides = m
		default:
			if opts.Extra == nil {
				opts.Extra = map[string]any{}
			}
			opts.Extra[key] = value
		}
	}
	return opts, nil
}

// Write renders cfg as YAML. Subdir functions are written as their template text.
func Write(w io.Writer, cfg application.Config) error {
	out := fileConfig{
		BasePath:  cfg.BasePath,
		Reporters: cfg.Reporters,
		Files:     cfg.Files,
		Targets:   cfg.Targets,
		Coverage: fileCoverage{
			Type:              cfg.Coverage.Type,
			Dir:               cfg.Coverage.Dir,
			File:              cfg.Coverage.File,
			Subdir:            cfg.Coverage.Subdir.Name,
			Instrument:        cfg.Coverage.Instrument,
			Instrumenter:      instrumenterOverrides(cfg.Coverage.Instrumenter),
			Instrumenters:     cfg.Coverage.InstrumenterAliases,
			IncludeAllSources: cfg.Coverage.IncludeAllSources,
			Watermarks:        cfg.Coverage.Watermarks,
		},
	}
	for _, r := range cfg.Coverage.Reporters {
		out.Coverage.Reporters = append(out.Coverage.Reporters, fileReporter{
			Type:   r.Type,
			Dir:    r.Dir,
			File:   r.File,
			Subdir: r.Subdir.Name,
		})
	}
	if c := cfg.Coverage.Check; c != nil {
		out.Coverage.Check = &fileCheck{
			Global: fileGlobal{Thresholds: c.Global.Thresholds, Excludes: c.Global.Excludes},
			Each: fileEach{
				Thresholds: c.Each.Thresholds,
				Excludes:   c.Each.Excludes,
				Overrides:  thresholdOverrides(c.Each.Overrides),
			},
		}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}
