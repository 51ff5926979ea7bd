// Package config loads remotecpp settings. A config file may be YAML, TOML
// or JSON with comments (editor settings files); the format is chosen by
// extension. Unset fields keep the values from Default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/remotecpp-dev/remotecpp/internal/fileutil"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigFile = "REMOTECPP_CONFIG"
	EnvConfigDir  = "REMOTECPP_CONFIG_DIR"
)

// Duration is a time.Duration written as a Go duration string ("1s").
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value, err)
	}
	*d = Duration(parsed)
	return nil
}

type SSH struct {
	// Program is the ssh client executable.
	Program string `yaml:"program" toml:"program" json:"program"`
	Host    string `yaml:"host" toml:"host" json:"host"`
	Port    int    `yaml:"port" toml:"port" json:"port"`
	// Options are passed to both ssh and scp before the host.
	Options    []string `yaml:"options,omitempty" toml:"options,omitempty" json:"options,omitempty"`
	SCPProgram string   `yaml:"scp_program" toml:"scp_program" json:"scp_program"`
}

// Commands are shell templates run on the remote host from the working
// directory. Placeholders in braces are replaced with shell-quoted values.
type Commands struct {
	// List prints every file below the working directory, one per line.
	List string `yaml:"list" toml:"list" json:"list"`
	// Grep supports {pattern}.
	Grep  string `yaml:"grep" toml:"grep" json:"grep"`
	Build string `yaml:"build" toml:"build" json:"build"`
	// NewFile supports {path} and {dir}.
	NewFile string `yaml:"new_file" toml:"new_file" json:"new_file"`
	// Remove supports {path}.
	Remove string `yaml:"remove" toml:"remove" json:"remove"`
	// Move supports {src}, {dst} and {dst_dir}.
	Move string `yaml:"move" toml:"move" json:"move"`
}

// SingleSurface selects the job kinds that reuse one surface.
type SingleSurface struct {
	List    bool `yaml:"list" toml:"list" json:"list"`
	Grep    bool `yaml:"grep" toml:"grep" json:"grep"`
	Build   bool `yaml:"build" toml:"build" json:"build"`
	Command bool `yaml:"command" toml:"command" json:"command"`
}

type Toggle struct {
	HeaderExtensions []string `yaml:"header_extensions" toml:"header_extensions" json:"header_extensions"`
	SourceExtensions []string `yaml:"source_extensions" toml:"source_extensions" json:"source_extensions"`
}

type State struct {
	// Path defaults to state.bin under the config directory.
	Path string `yaml:"path" toml:"path" json:"path"`
	// Compression is none, lz4 or zstd.
	Compression        string   `yaml:"compression" toml:"compression" json:"compression"`
	CheckpointInterval Duration `yaml:"checkpoint_interval" toml:"checkpoint_interval" json:"checkpoint_interval"`
}

type Log struct {
	Level  string `yaml:"level" toml:"level" json:"level"`
	Format string `yaml:"format" toml:"format" json:"format"`
}

const (
	WorkingDirRoot = "root"
	WorkingDirFile = "file"
)

type Config struct {
	// Root is the project directory on the remote host.
	Root string `yaml:"root" toml:"root" json:"root"`
	SSH  SSH    `yaml:"ssh" toml:"ssh" json:"ssh"`

	Workers         int      `yaml:"workers" toml:"workers" json:"workers"`
	JobTimeout      Duration `yaml:"job_timeout" toml:"job_timeout" json:"job_timeout"`
	FlushInterval   Duration `yaml:"flush_interval" toml:"flush_interval" json:"flush_interval"`
	DuplicatePolicy string   `yaml:"duplicate_policy" toml:"duplicate_policy" json:"duplicate_policy"`
	// WorkingDir is where grep and build run: the project root or the
	// directory of the current file.
	WorkingDir    string        `yaml:"working_dir" toml:"working_dir" json:"working_dir"`
	SingleSurface SingleSurface `yaml:"single_surface" toml:"single_surface" json:"single_surface"`
	Commands      Commands      `yaml:"commands" toml:"commands" json:"commands"`

	IncludeRoots []string `yaml:"include_roots" toml:"include_roots" json:"include_roots"`
	Toggle       Toggle   `yaml:"toggle" toml:"toggle" json:"toggle"`
	Ignore       []string `yaml:"ignore" toml:"ignore" json:"ignore"`

	State       State  `yaml:"state" toml:"state" json:"state"`
	CacheDir    string `yaml:"cache_dir" toml:"cache_dir" json:"cache_dir"`
	Log         Log    `yaml:"log" toml:"log" json:"log"`
	MetricsAddr string `yaml:"metrics_addr" toml:"metrics_addr" json:"metrics_addr"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		SSH: SSH{
			Program:    "ssh",
			Host:       "localhost",
			Port:       8888,
			SCPProgram: "scp",
		},
		Workers:         4,
		JobTimeout:      Duration(10 * time.Minute),
		FlushInterval:   Duration(time.Second),
		DuplicatePolicy: "attach",
		WorkingDir:      WorkingDirRoot,
		SingleSurface: SingleSurface{
			List:  true,
			Build: true,
		},
		Commands: Commands{
			List:    `find . -maxdepth 5 -not -path '*/\.*' -type f -not -path '*buck-cache*' -not -path '*buck-out*' -print`,
			Grep:    "grep -R -n {pattern} .",
			Build:   "buck build",
			NewFile: "mkdir -p {dir} && touch {path}",
			Remove:  "rm -f {path}",
			Move:    "mkdir -p {dst_dir} && mv {src} {dst}",
		},
		Toggle: Toggle{
			HeaderExtensions: []string{"h", "hpp", "hh"},
			SourceExtensions: []string{"c", "cc", "cpp"},
		},
		State: State{
			Compression:        "zstd",
			CheckpointInterval: Duration(20 * time.Second),
		},
		Log: Log{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultDir returns ~/.config/remotecpp unless REMOTECPP_CONFIG_DIR is set.
func DefaultDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv(EnvConfigDir)); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "remotecpp"), nil
}

var defaultFileNames = []string{"config.yaml", "config.yml", "config.toml", "config.json"}

// Locate picks the config file: explicit wins, then REMOTECPP_CONFIG, then
// the first existing default file in DefaultDir. An empty result means no
// file and built-in defaults.
func Locate(explicit string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit, nil
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigFile)); env != "" {
		return env, nil
	}
	dir, err := DefaultDir()
	if err != nil {
		return "", nil
	}
	for _, name := range defaultFileNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

// Load reads path over Default. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := Decode(path, data, &cfg); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	return cfg, nil
}

// Decode unmarshals data into cfg using the format implied by name.
func Decode(name string, data []byte, cfg *Config) error {
	var err error
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".json", ".jsonc", ".sublime-settings":
		err = json.Unmarshal(jsonc.ToJSON(data), cfg)
	default:
		return fmt.Errorf("unsupported config format %q (supported: .yaml, .toml, .json, .jsonc)", filepath.Ext(name))
	}
	if err != nil {
		return fmt.Errorf("failed to decode config %s: %w", name, err)
	}
	return nil
}

func (c *Config) normalize() {
	c.Root = strings.TrimSpace(c.Root)
	c.SSH.Host = strings.TrimSpace(c.SSH.Host)
	c.DuplicatePolicy = strings.ToLower(strings.TrimSpace(c.DuplicatePolicy))
	c.WorkingDir = strings.ToLower(strings.TrimSpace(c.WorkingDir))
	c.State.Compression = strings.ToLower(strings.TrimSpace(c.State.Compression))
	c.IncludeRoots = fileutil.DedupeStrings(c.IncludeRoots)
	c.Ignore = fileutil.DedupeStrings(c.Ignore)
	if c.WorkingDir == "" {
		c.WorkingDir = WorkingDirRoot
	}
	if c.SSH.Program == "" {
		c.SSH.Program = "ssh"
	}
	if c.SSH.SCPProgram == "" {
		c.SSH.SCPProgram = "scp"
	}
}

// Validate reports settings a session cannot run with.
func (c Config) Validate() error {
	var problems []string
	if c.Root == "" {
		problems = append(problems, "root is required")
	} else if !strings.HasPrefix(c.Root, "/") {
		problems = append(problems, fmt.Sprintf("root must be an absolute remote path, got %q", c.Root))
	}
	if c.SSH.Host == "" {
		problems = append(problems, "ssh.host is required")
	}
	if c.SSH.Port < 0 || c.SSH.Port > 65535 {
		problems = append(problems, fmt.Sprintf("ssh.port %d is out of range", c.SSH.Port))
	}
	if c.Workers < 1 {
		problems = append(problems, "workers must be at least 1")
	}
	switch c.DuplicatePolicy {
	case "", "attach", "reject":
	default:
		problems = append(problems, fmt.Sprintf("duplicate_policy %q is not attach or reject", c.DuplicatePolicy))
	}
	switch c.WorkingDir {
	case WorkingDirRoot, WorkingDirFile:
	default:
		problems = append(problems, fmt.Sprintf("working_dir %q is not root or file", c.WorkingDir))
	}
	switch c.State.Compression {
	case "", "none", "lz4", "zstd":
	default:
		problems = append(problems, fmt.Sprintf("state.compression %q is not none, lz4 or zstd", c.State.Compression))
	}
	if strings.TrimSpace(c.Commands.List) == "" {
		problems = append(problems, "commands.list is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// StatePath returns the state file location.
func (c Config) StatePath() (string, error) {
	if c.State.Path != "" {
		return c.State.Path, nil
	}
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state.bin"), nil
}

// MirrorDir returns the directory holding local copies of remote files.
func (c Config) MirrorDir() (string, error) {
	if c.CacheDir != "" {
		return filepath.Join(c.CacheDir, "mirror"), nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "remotecpp", "mirror"), nil
}

// WriteDefault writes the built-in settings to path as TOML unless a file
// already exists there.
func WriteDefault(path string) (bool, error) {
	data, err := toml.Marshal(Default())
	if err != nil {
		return false, err
	}
	return fileutil.WriteIfMissing(path, data, 0o644)
}
