// Package config holds the engine's settable knobs and the layered loader
// that assembles them from compiled-in defaults, an optional YAML file, and
// the process environment.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Algorithm is the WOF compression backing kind. The numeric Code is the
// 32-bit value the SET_EXTERNAL_BACKING control carries on the wire.
type Algorithm string

const (
	AlgorithmXpress4k  Algorithm = "xpress4k"
	AlgorithmLzx       Algorithm = "lzx"
	AlgorithmXpress8k  Algorithm = "xpress8k"
	AlgorithmXpress16k Algorithm = "xpress16k"
)

// Code returns the bit-exact WOF algorithm code for a.
func (a Algorithm) Code() (uint32, bool) {
	switch a {
	case AlgorithmXpress4k:
		return 0, true
	case AlgorithmLzx:
		return 1, true
	case AlgorithmXpress8k:
		return 2, true
	case AlgorithmXpress16k:
		return 3, true
	default:
		return 0, false
	}
}

// AlgorithmFromCode maps a WOF algorithm code back to its name.
func AlgorithmFromCode(code uint32) (Algorithm, bool) {
	switch code {
	case 0:
		return AlgorithmXpress4k, true
	case 1:
		return AlgorithmLzx, true
	case 2:
		return AlgorithmXpress8k, true
	case 3:
		return AlgorithmXpress16k, true
	default:
		return "", false
	}
}

// Config holds every user-settable knob described in spec.md §3 plus the
// ambient additions from SPEC_FULL.md §3.
type Config struct {
	// Algorithm is the backing applied to newly-compressed files.
	Algorithm Algorithm `yaml:"algorithm" json:"algorithm"`

	// MinSize is the size floor: a file at or below it is Skipped(TooSmall).
	MinSize int64 `yaml:"min_size" json:"min_size"`

	// SkipThreshold is the compresstimator ratio at or above which a file
	// is classified Skipped rather than Compressible.
	SkipThreshold float64 `yaml:"skip_threshold" json:"skip_threshold"`

	// ExtensionDenylist is a set of lowercase extensions (with leading dot)
	// that are always Skipped(Excluded).
	ExtensionDenylist []string `yaml:"extension_denylist" json:"extension_denylist"`

	// SubtreeDenylist is a set of directory names that, when encountered
	// during the walk, are pruned without being entered.
	SubtreeDenylist []string `yaml:"subtree_denylist" json:"subtree_denylist"`

	// PreserveTimestamps controls whether mtime/atime are restored after a
	// set_backing/clear_backing call.
	PreserveTimestamps bool `yaml:"preserve_timestamps" json:"preserve_timestamps"`

	// StateDir holds the incompressible-file store and job-history db.
	StateDir string `yaml:"state_dir" json:"state_dir"`

	// HashKeySeedPath holds the random seed that keys the store's path
	// hash. Defaults to StateDir/hashkey.
	HashKeySeedPath string `yaml:"hash_key_seed_path" json:"hash_key_seed_path"`

	// DeepAnalysis enables the brotli-backed second pass for ratios that
	// land within DeepAnalysisMargin of SkipThreshold.
	DeepAnalysis       bool    `yaml:"deep_analysis" json:"deep_analysis"`
	DeepAnalysisMargin float64 `yaml:"deep_analysis_margin" json:"deep_analysis_margin"`

	// WebSocketAddr and MetricsAddr are listen addresses for the ambient
	// transports; empty disables the corresponding listener.
	WebSocketAddr string `yaml:"websocket_addr" json:"websocket_addr"`
	MetricsAddr   string `yaml:"metrics_addr" json:"metrics_addr"`

	// SummaryThrottle bounds how often a non-terminal FolderSummary event
	// is emitted during a job.
	SummaryThrottle time.Duration `yaml:"summary_throttle" json:"summary_throttle"`

	// StoreFlushThreshold is how many recorded hashes accumulate in the
	// incompressible store's write buffer before an automatic flush.
	StoreFlushThreshold int `yaml:"store_flush_threshold" json:"store_flush_threshold"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	stateDir := defaultStateDir()
	return &Config{
		Algorithm:     AlgorithmXpress8k,
		MinSize:       32 * 1024,
		SkipThreshold: 0.95,
		ExtensionDenylist: []string{
			".jpg", ".jpeg", ".png", ".gif", ".webp",
			".mp4", ".mkv", ".avi", ".mov", ".webm",
			".mp3", ".flac", ".ogg", ".m4a", ".aac",
			".zip", ".gz", ".bz2", ".xz", ".7z", ".rar",
		},
		SubtreeDenylist:     []string{".git", "node_modules", "$Recycle.Bin", "System Volume Information"},
		PreserveTimestamps:  true,
		StateDir:            stateDir,
		HashKeySeedPath:     filepath.Join(stateDir, "hashkey"),
		DeepAnalysis:        false,
		DeepAnalysisMargin:  0.05,
		WebSocketAddr:       "127.0.0.1:8712",
		MetricsAddr:         "",
		SummaryThrottle:     250 * time.Millisecond,
		StoreFlushThreshold: 256,
	}
}

func defaultStateDir() string {
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		base = os.TempDir()
	}
	return filepath.Join(base, "compactd")
}

// Load assembles a Config from compiled-in defaults, an optional YAML file
// at yamlPath (skipped if empty or missing), and an environment overlay. A
// ".env" file in the working directory, if present, is loaded into the process
// environment first via godotenv so COMPACTD_* variables can be supplied
// either way.
func Load(yamlPath string) (*Config, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverlay(cfg)
	return cfg, nil
}

func applyEnvOverlay(cfg *Config) {
	if v, ok := os.LookupEnv("COMPACTD_ALGORITHM"); ok {
		cfg.Algorithm = Algorithm(strings.ToLower(v))
	}
	if v, ok := os.LookupEnv("COMPACTD_MIN_SIZE"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MinSize = n
		}
	}
	if v, ok := os.LookupEnv("COMPACTD_SKIP_THRESHOLD"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SkipThreshold = f
		}
	}
	if v, ok := os.LookupEnv("COMPACTD_STATE_DIR"); ok && v != "" {
		cfg.StateDir = v
		cfg.HashKeySeedPath = filepath.Join(v, "hashkey")
	}
	if v, ok := os.LookupEnv("COMPACTD_WEBSOCKET_ADDR"); ok {
		cfg.WebSocketAddr = v
	}
	if v, ok := os.LookupEnv("COMPACTD_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := os.LookupEnv("COMPACTD_DEEP_ANALYSIS"); ok {
		cfg.DeepAnalysis = v == "1" || strings.EqualFold(v, "true")
	}
}

// Validate reports a Configuration error (spec.md §7) if the config is
// unusable, e.g. an unrecognised algorithm.
func (c *Config) Validate() error {
	if _, ok := c.Algorithm.Code(); !ok {
		return &InvalidAlgorithmError{Algorithm: c.Algorithm}
	}
	if c.SkipThreshold <= 0 || c.SkipThreshold > 1.5 {
		return &InvalidConfigError{Field: "skip_threshold", Reason: "must be in (0, 1.5]"}
	}
	return nil
}

// InvalidAlgorithmError reports an unrecognised CompressionAlgorithm.
type InvalidAlgorithmError struct{ Algorithm Algorithm }

func (e *InvalidAlgorithmError) Error() string {
	return "config: invalid algorithm " + strconv.Quote(string(e.Algorithm))
}

// InvalidConfigError reports any other configuration field failing
// validation.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return "config: invalid " + e.Field + ": " + e.Reason
}

// Clone returns a deep-enough copy of c safe for a reader to retain across a
// config patch (slices are copied; Config itself has no nested pointers).
func (c *Config) Clone() *Config {
	cp := *c
	cp.ExtensionDenylist = append([]string(nil), c.ExtensionDenylist...)
	cp.SubtreeDenylist = append([]string(nil), c.SubtreeDenylist...)
	return &cp
}
