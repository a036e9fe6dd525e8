// Package config loads and validates the build configuration document and
// manages the lock-file sidecar that pins a resolved download.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
	k8syaml "sigs.k8s.io/yaml"

	"github.com/rinb-project/winimg/internal/imgerr"
	"github.com/rinb-project/winimg/internal/logger"
)

// Arch enumerates the three architectures a config may request.
type Arch string

const (
	ArchAMD64 Arch = "x64"
	ArchARM64 Arch = "arm64"
	ArchX86   Arch = "x86"
)

var sha1sizeRE = regexp.MustCompile(`^[0-9a-f]{40}:[0-9]+$`)

// Config is the externally-supplied build parameter set.
type Config struct {
	Lang     string `json:"lang" yaml:"lang"`
	Arch     Arch   `json:"arch" yaml:"arch"`
	Edition  string `json:"edition" yaml:"edition"`
	Version  string `json:"version" yaml:"version"`
	SHA1Size string `json:"sha1size,omitempty" yaml:"sha1size,omitempty"`
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
}

// SHA1 returns the pinned hash portion of SHA1Size, and whether a pin is set.
func (c *Config) SHA1() (string, bool) {
	if c.SHA1Size == "" {
		return "", false
	}
	parts := strings.SplitN(c.SHA1Size, ":", 2)
	return parts[0], true
}

// Size returns the pinned size portion of SHA1Size, and whether a pin is set.
func (c *Config) Size() (int64, bool) {
	if c.SHA1Size == "" {
		return 0, false
	}
	parts := strings.SplitN(c.SHA1Size, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	n, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func withDefaults(c *Config) {
	if c.Lang == "" {
		c.Lang = "en-us"
	}
	if c.Edition == "" {
		c.Edition = "Professional"
	}
}

// Validate enforces the cross-field invariants: url ⇒ sha1size,
// and sha1size's textual form.
func Validate(c *Config) error {
	if c.Version != "10" && c.Version != "11" {
		return &imgerr.ConfigError{Field: "version", Msg: `must be "10" or "11"`}
	}
	switch c.Arch {
	case ArchAMD64, ArchARM64, ArchX86:
	default:
		return &imgerr.ConfigError{Field: "arch", Msg: "must be one of x64|arm64|x86"}
	}
	if c.URL != "" && c.SHA1Size == "" {
		return &imgerr.ConfigError{Field: "sha1size", Msg: "required when url is set"}
	}
	if c.SHA1Size != "" && !sha1sizeRE.MatchString(c.SHA1Size) {
		return &imgerr.ConfigError{Field: "sha1size", Msg: "must match ^[0-9a-f]{40}:[0-9]+$"}
	}
	return nil
}

// Load reads a config document (JSON5-compatible JSON, or YAML by file
// extension), validates it against the embedded JSON Schema, then applies
// the semantic Validate() checks above.
func Load(path string) (*Config, error) {
	log := logger.Logger()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	jsonBytes := raw
	if isYAMLPath(path) {
		var probe any
		if yerr := yaml.Unmarshal(raw, &probe); yerr != nil {
			return nil, fmt.Errorf("config: parse yaml %s: %w", path, yerr)
		}
		jsonBytes, err = k8syaml.YAMLToJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("config: yaml to json %s: %w", path, err)
		}
	}

	if err := validateSchema(jsonBytes); err != nil {
		return nil, fmt.Errorf("config: schema validation %s: %w", path, err)
	}

	var c Config
	dec := json.NewDecoder(bytes.NewReader(jsonBytes))
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	withDefaults(&c)

	if err := Validate(&c); err != nil {
		return nil, err
	}

	log.Debugf("loaded config from %s: version=%s arch=%s edition=%s lang=%s", path, c.Version, c.Arch, c.Edition, c.Lang)
	return &c, nil
}

func isYAMLPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LockPath returns the lock-file sidecar path for a given config path:
// ".lock" inserted before the first "." in the basename, matching the
// original tool's Args::lock_path.
func LockPath(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if idx := strings.Index(base, "."); idx >= 0 {
		base = base[:idx] + ".lock" + base[idx:]
	} else {
		base += ".lock"
	}
	return filepath.Join(dir, base)
}

// ResolvePath returns the lock path if it exists, otherwise the config path,
// implementing the orchestrator's first pipeline step.
func ResolvePath(path string) string {
	lock := LockPath(path)
	if _, err := os.Stat(lock); err == nil {
		return lock
	}
	return path
}

// WriteLock writes (or overwrites) the lock-file sidecar for path with the
// resolved url/sha1size populated.
func WriteLock(path string, c Config, url, sha1size string) error {
	c.URL = url
	c.SHA1Size = sha1size

	out, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal lock: %w", err)
	}

	lockPath := LockPath(path)
	if err := os.WriteFile(lockPath, out, 0o644); err != nil {
		return fmt.Errorf("config: write lock %s: %w", lockPath, err)
	}
	logger.Logger().Infof("wrote lock file %s", lockPath)
	return nil
}

func validateSchema(jsonBytes []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", bytes.NewReader([]byte(ConfigSchema))); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile("config.schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return fmt.Errorf("unmarshal for validation: %w", err)
	}
	return schema.Validate(doc)
}
