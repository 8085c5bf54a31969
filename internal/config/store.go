package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes environment overrides, e.g. COIN_RELAY_MQTT_BROKER.
const EnvPrefix = "COIN_RELAY"

// Hook runs after a key has been applied and persisted. It receives the
// typed value.
type Hook func(value any) error

// reloadSettle is how long the file must stay quiet before a reload, so a
// save in progress is not read half written.
const reloadSettle = 100 * time.Millisecond

// Store is the live configuration backed by a YAML file.
// viper is not safe for concurrent use, so every access goes through mu.
type Store struct {
	// applyMu is held across persist and hooks so the file and the effects
	// of concurrent applies land in the same order.
	applyMu sync.Mutex

	mu      sync.Mutex
	v       *viper.Viper
	path    string
	log     *zap.Logger
	hooks   map[string][]Hook
	live    map[string]any
	watcher *fsnotify.Watcher
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads the config file at path. A missing file is created from defaults.
func Load(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		log.Info("config file not found, writing defaults", zap.String("path", path))
		if err := v.WriteConfigAs(path); err != nil {
			log.Warn("failed to write default config", zap.String("path", path), zap.Error(err))
		}
	}

	s := &Store{
		v:     v,
		path:  path,
		log:   log,
		hooks: make(map[string][]Hook),
		live:  make(map[string]any),
	}
	if _, err := s.Settings(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetLogger replaces the logger. The config has to be loaded before the
// configured logger can be built.
func (s *Store) SetLogger(log *zap.Logger) {
	if log == nil {
		return
	}
	s.mu.Lock()
	s.log = log.Named("config")
	s.mu.Unlock()
}

// Path returns the config file path.
func (s *Store) Path() string {
	return s.path
}

// Settings decodes and validates the current configuration.
func (s *Store) Settings() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settingsLocked()
}

func (s *Store) settingsLocked() (Settings, error) {
	var st Settings
	if err := s.v.Unmarshal(&st); err != nil {
		return st, fmt.Errorf("decode config: %w", err)
	}
	if err := st.Validate(); err != nil {
		return st, fmt.Errorf("invalid config: %w", err)
	}
	return st, nil
}

// Get returns the current value of key.
func (s *Store) Get(key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.Get(key)
}

// OnChange registers a hook for key. Hooks run in registration order after
// a successful Apply.
func (s *Store) OnChange(key string, h Hook) {
	s.mu.Lock()
	s.hooks[key] = append(s.hooks[key], h)
	s.mu.Unlock()
}

// SetLive changes the in-memory value of key without saving it or running
// hooks. The value survives file reloads and is written out with the next
// successful Apply.
func (s *Store) SetLive(key string, value any) {
	s.mu.Lock()
	s.live[key] = value
	s.mergeLocked(key, value)
	s.mu.Unlock()
}

// patch builds the nested single-key map for a dotted key.
func patch(key string, value any) map[string]any {
	parts := strings.Split(key, ".")
	m := map[string]any{parts[len(parts)-1]: value}
	for i := len(parts) - 2; i >= 0; i-- {
		m = map[string]any{parts[i]: m}
	}
	return m
}

// mergeLocked applies a single-key patch to the config layer. Unlike
// viper.Set this leaves the value overridable by later file reloads.
func (s *Store) mergeLocked(key string, value any) {
	if err := s.v.MergeConfigMap(patch(key, value)); err != nil {
		s.log.Error("config merge failed", zap.String("key", key), zap.Error(err))
	}
}

// Apply updates one key from an untyped remote request: it parses the value
// with the key's typed setter, merges it as a single-key patch, saves the
// whole config and then runs the key's hooks.
func (s *Store) Apply(key, value string) error {
	entry := Entry{Key: key, Value: value}

	def, ok := settable[key]
	if !ok {
		return &ParseError{Key: key, Value: value, Err: ErrUnknownKey}
	}
	typed, err := def.parse(entry)
	if err != nil {
		return &ParseError{Key: key, Value: value, Err: err}
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	prev := s.v.Get(key)
	s.mergeLocked(key, typed)
	if _, err := s.settingsLocked(); err != nil {
		s.mergeLocked(key, prev)
		s.mu.Unlock()
		return &ParseError{Key: key, Value: value, Err: err}
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		s.mergeLocked(key, prev)
		s.mu.Unlock()
		s.log.Error("config persist failed, rolled back",
			zap.String("key", key),
			zap.String("value", value),
			zap.Error(err),
		)
		return &ApplyError{Key: key, Stage: "persist", Err: err}
	}
	hooks := append([]Hook(nil), s.hooks[key]...)
	s.mu.Unlock()

	s.log.Info("config applied",
		zap.String("key", key),
		zap.String("value", value),
		zap.Bool("is_string", entry.IsString()),
	)

	for _, h := range hooks {
		if err := h(typed); err != nil {
			return &ApplyError{Key: key, Stage: "effect", Err: err}
		}
	}
	return nil
}

// Watch calls fn with the new settings whenever the config file changes on
// disk. Invalid edits are logged and ignored. Values set with SetLive are
// kept across reloads.
func (s *Store) Watch(fn func(Settings)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	// Watch the directory: editors often replace the file instead of
	// writing it in place.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch config: %w", err)
	}

	s.mu.Lock()
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.watcher = w
	log := s.log
	s.mu.Unlock()

	go s.watch(w, fn, log)
	return nil
}

// Close stops watching the config file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.watcher = nil
	return err
}

func (s *Store) watch(w *fsnotify.Watcher, fn func(Settings), log *zap.Logger) {
	target := filepath.Clean(s.path)
	var settle <-chan time.Time
	for {
		select {
		case e, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != target || e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			settle = time.After(reloadSettle)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Warn("config watch error", zap.Error(err))

		case <-settle:
			settle = nil
			st, err := s.reload()
			if err != nil {
				log.Warn("ignoring config change", zap.String("file", s.path), zap.Error(err))
				continue
			}
			log.Info("config reloaded", zap.String("file", s.path))
			fn(st)
		}
	}
}

// reload reads the file into a fresh viper, restores live values and swaps
// it in only if the result is valid.
func (s *Store) reload() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := newViper(s.path)
	if err := v.ReadInConfig(); err != nil {
		return Settings{}, fmt.Errorf("read config %s: %w", s.path, err)
	}
	for key, value := range s.live {
		if err := v.MergeConfigMap(patch(key, value)); err != nil {
			return Settings{}, fmt.Errorf("restore %s: %w", key, err)
		}
	}

	prev := s.v
	s.v = v
	st, err := s.settingsLocked()
	if err != nil {
		s.v = prev
		return Settings{}, err
	}
	return st, nil
}
