// Package config loads and persists the gateway's configuration. The
// inbound HTTP server framework, the CLI front-end, and full schema
// validation are external collaborators; this package only implements
// the interface the core consumes: a typed, defaulted,
// environment-overridable, hot-reloadable snapshot.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/copilot-gateway/gateway/internal/transforms"
)

// Defaults applied when config.json and the environment are silent on a
// field.
const (
	DefaultHost                = "localhost"
	DefaultPort                = 3000
	DefaultOllamaPort          = 11434
	DefaultModel               = "gpt-4o"
	DefaultModelRefreshMinutes = 30
	DefaultCatalogTTLMinutes   = 60
	DefaultCatalogStaleMinutes = 120
)

// DefaultTriggers is the default in-chat command trigger set. "::" is
// the intended default; "--" shows up in an older source as a
// documented bug, not a second supported default.
var DefaultTriggers = []string{"::"}

// Transforms holds the optional request/response interceptor settings.
// The pipelines themselves live in internal/transforms; this is only
// the configuration surface.
type Transforms struct {
	Enabled      bool                `json:"enabled,omitempty"`
	Pipelines    map[string][]string `json:"pipelines,omitempty"`
	Registry     string              `json:"registry,omitempty"` // path to transforms.yaml manifest
	AllowScripts bool                `json:"allow_scripts,omitempty"`
}

// Model holds model-selection configuration.
type Model struct {
	Default               string `json:"default,omitempty"`
	RefreshIntervalMinutes int   `json:"refresh_interval_minutes,omitempty"`
}

// Catalog holds model-catalog freshness configuration.
type Catalog struct {
	TTLMinutes   int `json:"ttl_minutes,omitempty"`
	StaleMinutes int `json:"stale_minutes,omitempty"`
}

// Config is the effective, fully-resolved application configuration.
type Config struct {
	Host         string     `json:"host,omitempty"`
	Port         int        `json:"port,omitempty"`
	Model        Model      `json:"model,omitempty"`
	Catalog      Catalog    `json:"catalog,omitempty"`
	Transforms   Transforms `json:"transforms,omitempty"`
	CmdTriggers  []string   `json:"cmd_triggers,omitempty"`
	Verbose      int        `json:"verbose,omitempty"`
	LogFile      string     `json:"log_file,omitempty"`
}

// defaults returns the documented zero-configuration values.
func defaults() Config {
	return Config{
		Host: DefaultHost,
		Port: DefaultPort,
		Model: Model{
			Default:                DefaultModel,
			RefreshIntervalMinutes: DefaultModelRefreshMinutes,
		},
		Catalog: Catalog{
			TTLMinutes:   DefaultCatalogTTLMinutes,
			StaleMinutes: DefaultCatalogStaleMinutes,
		},
		CmdTriggers: append([]string(nil), DefaultTriggers...),
	}
}

// Load reads config.json from dir (if present), applies environment
// variable overrides, and returns the effective configuration. A
// missing or malformed file is never fatal: it falls back to defaults.
func Load(dir string) (*Config, error) {
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	cfg := defaults()

	path := filepath.Join(dir, "config.json")
	if raw, err := os.ReadFile(path); err == nil {
		var onDisk Config
		if jsonErr := json.Unmarshal(raw, &onDisk); jsonErr != nil {
			log.Warnf("config: %s is malformed, discarding and using defaults: %v", path, jsonErr)
		} else {
			mergeInto(&cfg, &onDisk)
		}
	}

	applyEnv(&cfg)
	return &cfg, nil
}

// mergeInto overlays non-zero fields of src onto dst.
func mergeInto(dst, src *Config) {
	if src.Host != "" {
		dst.Host = src.Host
	}
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.Model.Default != "" {
		dst.Model.Default = src.Model.Default
	}
	if src.Model.RefreshIntervalMinutes != 0 {
		dst.Model.RefreshIntervalMinutes = src.Model.RefreshIntervalMinutes
	}
	if src.Catalog.TTLMinutes != 0 {
		dst.Catalog.TTLMinutes = src.Catalog.TTLMinutes
	}
	if src.Catalog.StaleMinutes != 0 {
		dst.Catalog.StaleMinutes = src.Catalog.StaleMinutes
	}
	if len(src.CmdTriggers) > 0 {
		dst.CmdTriggers = src.CmdTriggers
	}
	if src.Verbose != 0 {
		dst.Verbose = src.Verbose
	}
	if src.LogFile != "" {
		dst.LogFile = src.LogFile
	}
	if src.Transforms.Enabled {
		dst.Transforms.Enabled = true
	}
	if src.Transforms.Registry != "" {
		dst.Transforms.Registry = src.Transforms.Registry
	}
	if src.Transforms.AllowScripts {
		dst.Transforms.AllowScripts = true
	}
	if len(src.Transforms.Pipelines) > 0 {
		dst.Transforms.Pipelines = src.Transforms.Pipelines
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("COPILOT_API_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("COPILOT_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("COPILOT_MODEL_DEFAULT"); v != "" {
		cfg.Model.Default = v
	}
	if v := os.Getenv("COPILOT_MODEL_REFRESH_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Model.RefreshIntervalMinutes = n
		}
	}
	if v := os.Getenv("COPILOT_CATALOG_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Catalog.TTLMinutes = n
		}
	}
	if v := os.Getenv("COPILOT_CATALOG_STALE_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Catalog.StaleMinutes = n
		}
	}
	if v := os.Getenv("COPILOT_CMD_TRIGGERS"); v != "" {
		parts := strings.Split(v, ",")
		triggers := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				triggers = append(triggers, p)
			}
		}
		if len(triggers) > 0 {
			cfg.CmdTriggers = triggers
		}
	}
	if v := os.Getenv("COPILOT_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("COPILOT_VERBOSE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Verbose = n
		}
	} else if v := os.Getenv("COPILOT_DEBUG"); v != "" {
		if n, err := strconv.ParseBool(v); err == nil && n {
			cfg.Verbose = 3
		}
	}
}

// Save writes cfg to dir/config.json with fields equal to their default
// stripped out first (testable property 10). A configuration that is
// entirely default removes the file rather than writing an empty object.
func Save(dir string, cfg *Config) error {
	stripped := *cfg
	def := defaults()

	if stripped.Host == def.Host {
		stripped.Host = ""
	}
	if stripped.Port == def.Port {
		stripped.Port = 0
	}
	if stripped.Model.Default == def.Model.Default {
		stripped.Model.Default = ""
	}
	if stripped.Model.RefreshIntervalMinutes == def.Model.RefreshIntervalMinutes {
		stripped.Model.RefreshIntervalMinutes = 0
	}
	if stripped.Catalog.TTLMinutes == def.Catalog.TTLMinutes {
		stripped.Catalog.TTLMinutes = 0
	}
	if stripped.Catalog.StaleMinutes == def.Catalog.StaleMinutes {
		stripped.Catalog.StaleMinutes = 0
	}
	if equalSlices(stripped.CmdTriggers, def.CmdTriggers) {
		stripped.CmdTriggers = nil
	}

	if isZero(stripped) {
		path := filepath.Join(dir, "config.json")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	raw, err := json.MarshalIndent(stripped, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), raw, 0o600)
}

func isZero(c Config) bool {
	return c.Host == "" && c.Port == 0 &&
		c.Model.Default == "" && c.Model.RefreshIntervalMinutes == 0 &&
		c.Catalog.TTLMinutes == 0 && c.Catalog.StaleMinutes == 0 &&
		len(c.CmdTriggers) == 0 && c.Verbose == 0 && c.LogFile == "" &&
		!c.Transforms.Enabled && !c.Transforms.AllowScripts &&
		c.Transforms.Registry == "" && len(c.Transforms.Pipelines) == 0
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Watcher republishes a new *Config snapshot whenever config.json changes,
// and a new transforms.Manifest whenever transforms.yaml changes, on disk
// the way CLIProxyAPI's fsnotify-backed reload paths do for its own config
// file. Readers always load the current pointer via Current()/Manifest();
// none hold a snapshot across a reload.
type Watcher struct {
	dir      string
	current  atomic.Pointer[Config]
	manifest atomic.Pointer[transforms.Manifest]
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	closed   bool
}

// NewWatcher loads the initial configuration and transforms manifest, and
// starts watching dir for changes to config.json and transforms.yaml.
// Callers must call Close when done.
func NewWatcher(dir string) (*Watcher, error) {
	cfg, err := Load(dir)
	if err != nil {
		return nil, err
	}
	w := &Watcher{dir: dir}
	w.current.Store(cfg)

	m, err := transforms.LoadManifest(dir)
	if err != nil {
		log.Warnf("config: loading transforms manifest: %v", err)
		m = transforms.Manifest{Pipelines: map[string][]string{}}
	}
	w.manifest.Store(&m)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		// Hot reload is a convenience, not a correctness requirement;
		// degrade to a static snapshot rather than failing startup.
		log.Warnf("config: fsnotify unavailable, hot reload disabled: %v", err)
		return w, nil
	}
	if err := fw.Add(dir); err != nil {
		log.Warnf("config: cannot watch %s: %v", dir, err)
		_ = fw.Close()
		return w, nil
	}
	w.watcher = fw
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			switch filepath.Base(ev.Name) {
			case "config.json":
				cfg, err := Load(w.dir)
				if err != nil {
					log.Warnf("config: reload failed, keeping previous snapshot: %v", err)
					continue
				}
				w.current.Store(cfg)
				log.Infof("config: reloaded from %s", w.dir)
			case "transforms.yaml":
				m, err := transforms.LoadManifest(w.dir)
				if err != nil {
					log.Warnf("config: transforms manifest reload failed, keeping previous snapshot: %v", err)
					continue
				}
				w.manifest.Store(&m)
				log.Infof("config: transforms manifest reloaded from %s", w.dir)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("config: watch error: %v", err)
		}
	}
}

// Current returns the most recently loaded configuration snapshot.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Manifest returns the most recently loaded transforms.yaml manifest.
func (w *Watcher) Manifest() transforms.Manifest {
	return *w.manifest.Load()
}

// Close stops the underlying filesystem watcher, if any.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.watcher == nil {
		w.closed = true
		return nil
	}
	w.closed = true
	return w.watcher.Close()
}
