package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"gopkg.in/yaml.v3"
)

// Load reads a setup from a .cue or .yaml file, or from a directory holding
// one CUE package, and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat config path: %w", err)
	}

	var cfg *Config
	switch {
	case info.IsDir():
		cfg, err = loadDir(abs)
	case strings.EqualFold(filepath.Ext(abs), ".cue"):
		cfg, err = loadCUEFile(abs)
	case strings.EqualFold(filepath.Ext(abs), ".yaml"), strings.EqualFold(filepath.Ext(abs), ".yml"):
		cfg, err = loadYAMLFile(abs)
	default:
		return nil, fmt.Errorf("config %s: unsupported file extension %q", abs, filepath.Ext(abs))
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	return cfg, nil
}

func loadYAMLFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.Sources = []string{path}
	return &cfg, nil
}

func loadCUEFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	ctx := cuecontext.New()
	value := ctx.CompileBytes(raw, cue.Filename(path))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("compile config %s: %w", path, err)
	}
	cfg, err := decodeSetup(ctx, value)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Sources = []string{path}
	return cfg, nil
}

func loadDir(dir string) (*Config, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, fmt.Errorf("scan config directory %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}
	sort.Strings(files)

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("config directory %s: no CUE instances loaded", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("load config directory %s: %w", dir, inst.Err)
	}
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("build config directory %s: %w", dir, err)
	}
	cfg, err := decodeSetup(ctx, value)
	if err != nil {
		return nil, fmt.Errorf("config directory %s: %w", dir, err)
	}
	cfg.Sources = files
	return cfg, nil
}

// decodeSetup unifies value with the #Setup schema compiled in the same
// context and decodes the concrete result.
func decodeSetup(ctx *cue.Context, value cue.Value) (*Config, error) {
	schema := ctx.CompileString(schemaSource, cue.Filename("voltseq_schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	unified := schema.LookupPath(cue.ParsePath("#Setup")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate setup: %w", err)
	}
	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode setup: %w", err)
	}
	return &cfg, nil
}
