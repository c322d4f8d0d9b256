// Package config resolves flotilla's settings from defaults, an optional
// flotilla.{yaml,json,toml} file, FLOTILLA_* environment variables and
// command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mmr-tortoise/flotilla/internal/model"
	"github.com/mmr-tortoise/flotilla/internal/scheduler"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "FLOTILLA"

// FileName is the configuration file base name searched for.
const FileName = "flotilla"

// Keys. Flags use the same names with "-" instead of "_".
const (
	KeyBackend      = "backend"
	KeyParallelism  = "parallelism"
	KeyStopTimeout  = "stop_timeout"
	KeyDeadline     = "deadline"
	KeyPull         = "pull"
	KeyLogLevel     = "log_level"
	KeyLogFile      = "log_file"
	KeyProjectName  = "project_name"
	KeyFile         = "file"
	KeyDockerHost   = "docker_host"
	KeyPodmanBinary = "podman_binary"
)

var keys = []string{
	KeyBackend, KeyParallelism, KeyStopTimeout, KeyDeadline, KeyPull,
	KeyLogLevel, KeyLogFile, KeyProjectName, KeyFile, KeyDockerHost, KeyPodmanBinary,
}

// Config holds the resolved settings of one invocation.
type Config struct {
	// Backend selects the runtime adapter ("docker" or "podman").
	Backend string

	// Parallelism bounds concurrent runtime calls.
	Parallelism int

	// StopTimeout is the grace period before a container is killed.
	StopTimeout time.Duration

	// Deadline bounds the whole run. Zero means no deadline.
	Deadline time.Duration

	// Pull is the image pull policy.
	Pull scheduler.PullPolicy

	LogLevel string
	LogFile  string

	// ProjectName overrides the name derived from the specification.
	ProjectName string

	// File is the specification file. Empty means search upwards from the
	// working directory.
	File string

	DockerHost   string
	PodmanBinary string

	// Source is the configuration file that was read, if any.
	Source string
}

// Options controls where Load looks for settings.
type Options struct {
	// ConfigFile is an explicit configuration file. It must exist.
	ConfigFile string

	// SearchDirs are searched in order for flotilla.{yaml,json,toml}.
	// When empty the working directory and the user config directory are
	// searched.
	SearchDirs []string

	// Flags are bound on top of every other source. Only flags that were
	// set explicitly override lower layers.
	Flags *pflag.FlagSet
}

// Defaults registers the default value of every key on v.
func Defaults(v *viper.Viper) {
	v.SetDefault(KeyBackend, "docker")
	v.SetDefault(KeyParallelism, goruntime.NumCPU())
	v.SetDefault(KeyStopTimeout, scheduler.DefaultStopTimeout)
	v.SetDefault(KeyDeadline, time.Duration(0))
	v.SetDefault(KeyPull, string(scheduler.PullMissing))
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyProjectName, "")
	v.SetDefault(KeyFile, "")
	v.SetDefault(KeyDockerHost, "")
	v.SetDefault(KeyPodmanBinary, "podman")
}

// Load resolves the configuration.
func Load(opts Options) (*Config, error) {
	v := viper.New()
	Defaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for _, key := range keys {
			if f := opts.Flags.Lookup(FlagName(key)); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", f.Name, err)
				}
			}
		}
	}

	if err := readFile(v, opts); err != nil {
		return nil, err
	}

	cfg := &Config{
		Backend:      strings.ToLower(v.GetString(KeyBackend)),
		Parallelism:  v.GetInt(KeyParallelism),
		StopTimeout:  v.GetDuration(KeyStopTimeout),
		Deadline:     v.GetDuration(KeyDeadline),
		LogLevel:     v.GetString(KeyLogLevel),
		LogFile:      v.GetString(KeyLogFile),
		ProjectName:  v.GetString(KeyProjectName),
		File:         v.GetString(KeyFile),
		DockerHost:   v.GetString(KeyDockerHost),
		PodmanBinary: v.GetString(KeyPodmanBinary),
		Source:       v.ConfigFileUsed(),
	}

	var problems []string
	pull, err := scheduler.ParsePullPolicy(v.GetString(KeyPull))
	if err != nil {
		problems = append(problems, err.Error())
	}
	cfg.Pull = pull
	problems = append(problems, cfg.validate()...)
	if len(problems) > 0 {
		return nil, model.NewCLIError(model.ExitGeneralError, "invalid configuration: "+strings.Join(problems, "; "))
	}
	return cfg, nil
}

func readFile(v *viper.Viper, opts Options) error {
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return model.WrapCLIError(model.ExitGeneralError, fmt.Sprintf("failed to read config file %s", opts.ConfigFile), err)
		}
		return nil
	}

	v.SetConfigName(FileName)
	dirs := opts.SearchDirs
	if len(dirs) == 0 {
		dirs = defaultSearchDirs()
	}
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return model.WrapCLIError(model.ExitGeneralError, "failed to read config file", err)
	}
	return nil
}

// defaultSearchDirs returns the working directory and the user config
// directory ($XDG_CONFIG_HOME/flotilla or its platform equivalent).
func defaultSearchDirs() []string {
	dirs := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dir, FileName))
	}
	return dirs
}

func (c *Config) validate() []string {
	var problems []string
	if c.Backend == "" {
		problems = append(problems, "backend must not be empty")
	}
	if c.Parallelism < 1 {
		problems = append(problems, fmt.Sprintf("parallelism must be at least 1, got %d", c.Parallelism))
	}
	if c.StopTimeout < 0 {
		problems = append(problems, "stop_timeout must not be negative")
	}
	if c.Deadline < 0 {
		problems = append(problems, "deadline must not be negative")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, fmt.Sprintf("invalid log_level %q", c.LogLevel))
	}
	if c.ProjectName != "" {
		if err := model.ValidateName(c.ProjectName); err != nil {
			problems = append(problems, "project_name: "+err.Error())
		}
	}
	return problems
}

// FlagName returns the command-line flag name bound to key.
func FlagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}
