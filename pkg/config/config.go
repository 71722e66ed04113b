package config

import (
	"os"
	"runtime"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/416inputs/buildtool/pkg/buildsys"
)

// FileName is the name of the config file searched for in the working directory and its parents
const FileName = "build.toml"

// Config describes all configuration options
type Config struct {
	Target     string   `default:"416inputs" toml:"target" usage:"Name of the executable (without .exe)"`
	Source     string   `default:"src/main.cpp" toml:"source" usage:"C++ source file to compile"`
	IncludeDir string   `default:"dependencies/include" toml:"include_dir" usage:"Header search path passed with -I"`
	LibDir     string   `default:"dependencies/lib" toml:"lib_dir" usage:"Library search path passed with -L"`
	Libs       []string `default:"-lmingw32,-lSDL2main,-lSDL2,-lSDL2_image,-lSDL2_ttf" toml:"libs" usage:"Linker flags in link order"`
	Compiler   string   `default:"g++" toml:"compiler" usage:"Compiler and linker driver"`
	Launcher   string   `toml:"launcher" usage:"Optional compiler launcher (i.e. ccache)"`
	OS         string   `toml:"os" usage:"Target platform; defaults to the host OS"`
	Strict     bool     `default:"false" toml:"strict" usage:"Stop before linking if compilation fails"`
	Cache      string   `default:".buildtool.cache" toml:"cache" usage:"File storing the last run report"`
	Log        struct {
		Level string `default:"info" toml:"level"`
		JSON  bool   `default:"false" toml:"json" usage:"Output JSONND instead of pretty console messages"`
	} `toml:"log"`
	Doctor struct {
		MinCompiler string `default:">= 7" toml:"min_compiler" usage:"Version constraint checked by doctor"`
	} `toml:"doctor"`
	Deps struct {
		File   string `default:"DEPS.yml" toml:"file" usage:"Dependency list used by fetch-deps"`
		Stamps string `default:"DEPS.stamps" toml:"stamps"`
	} `toml:"deps"`
	Dist struct {
		Format string   `default:"tar.xz" toml:"format" usage:"Archive format (tar.xz or tar.br)"`
		Output string   `toml:"output" usage:"Archive path; defaults to <target>.<format>"`
		Files  []string `default:"dependencies/bin/*.dll,config.toml" toml:"files" usage:"Patterns of additional files to pack"`
	} `toml:"dist"`
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object. file is only read if
// it exists. Flags are handled by the CLI so aconfig's flag parsing is disabled.
func Loader(file string) (*Config, *aconfig.Loader) {
	files := []string{}
	if file != "" {
		if _, err := os.Stat(file); err == nil {
			files = append(files, file)
		}
	}

	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: true,
		EnvPrefix: "BUILDTOOL",
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads the defaults, file and environment into a new Config and validates the result
func Load(file string) (*Config, error) {
	cfg, loader := Loader(file)
	err := loader.Load()
	if err != nil {
		return nil, eris.Wrapf(err, "failed to load %s", file)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	switch cfg.Dist.Format {
	case "tar.xz", "tar.br":
	default:
		return eris.Errorf(`Invalid value for dist.format: %s (must be one of tar.xz or tar.br)`, cfg.Dist.Format)
	}

	err := cfg.Toolchain().Validate()
	if err != nil {
		return eris.Wrap(err, "Invalid toolchain")
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// TargetOS returns the configured platform or the host's
func (cfg *Config) TargetOS() string {
	if cfg.OS != "" {
		return cfg.OS
	}

	return runtime.GOOS
}

// Toolchain converts the build settings for the build runner
func (cfg *Config) Toolchain() buildsys.Toolchain {
	return buildsys.Toolchain{
		OS:         cfg.TargetOS(),
		Compiler:   cfg.Compiler,
		Launcher:   cfg.Launcher,
		Source:     cfg.Source,
		IncludeDir: cfg.IncludeDir,
		LibDir:     cfg.LibDir,
		Libs:       append([]string{}, cfg.Libs...),
		Target:     cfg.Target,
	}
}
