// 配置热重载：监听配置文件，重新加载后通知订阅方。
package config

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ConfigChange 代表一个字段的变更
type ConfigChange struct {
	Timestamp       time.Time `json:"timestamp"`
	Source          string    `json:"source"`
	Path            string    `json:"path"`
	OldValue        any       `json:"old_value,omitempty"`
	NewValue        any       `json:"new_value,omitempty"`
	RequiresRestart bool      `json:"requires_restart"`
}

// ReloadCallback runs after a new configuration is accepted. Returning an
// error rolls the configuration back.
type ReloadCallback func(oldConfig, newConfig *Config) error

// hotReloadable lists the field path prefixes that take effect without a
// restart. Everything else is applied to the stored config only.
var hotReloadable = []string{
	"Execution.DefaultTimeout",
	"Execution.CommandTimeout",
	"Execution.SessionLockWait",
	"Execution.CancelGrace",
	"Execution.MaxOutputLines",
	"Log.Level",
}

var sensitiveKeys = []string{"password", "secret", "api_key", "token"}

// IsHotReloadable 判断字段是否可热重载
func IsHotReloadable(path string) bool {
	for _, p := range hotReloadable {
		if path == p {
			return true
		}
	}
	return false
}

// HotReloadManager keeps the current configuration and replaces it when the
// file changes.
type HotReloadManager struct {
	loader *Loader
	logger *zap.Logger

	mu        sync.RWMutex
	config    *Config
	previous  *Config
	version   int
	changeLog []ConfigChange
	callbacks []ReloadCallback
	watcher   *FileWatcher
}

const maxChangeLog = 200

// NewHotReloadManager 创建热重载管理器
func NewHotReloadManager(cfg *Config, loader *Loader, logger *zap.Logger) *HotReloadManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HotReloadManager{
		loader:  loader,
		logger:  logger.With(zap.String("component", "config_reload")),
		config:  cfg,
		version: 1,
	}
}

// OnReload 注册重新加载回调
func (m *HotReloadManager) OnReload(cb ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Config 返回当前配置
func (m *HotReloadManager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Version counts accepted configurations, starting at 1.
func (m *HotReloadManager) Version() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Start watches the loader's file. It is a no-op without a file path.
func (m *HotReloadManager) Start(ctx context.Context, opts ...WatcherOption) error {
	if m.loader == nil || m.loader.Path() == "" {
		return nil
	}
	w, err := NewFileWatcher([]string{m.loader.Path()}, append([]WatcherOption{WithWatcherLogger(m.logger)}, opts...)...)
	if err != nil {
		return err
	}
	w.OnChange(func(e FileEvent) {
		if e.Op == FileOpRemove {
			m.logger.Warn("config file removed, keeping current config", zap.String("path", e.Path))
			return
		}
		if err := m.Reload("file"); err != nil {
			m.logger.Error("config reload failed", zap.Error(err))
		}
	})
	if err := w.Start(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.watcher = w
	m.mu.Unlock()
	return nil
}

// Stop 停止监听
func (m *HotReloadManager) Stop() error {
	m.mu.Lock()
	w := m.watcher
	m.watcher = nil
	m.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Stop()
}

// Reload loads the file again and applies it.
func (m *HotReloadManager) Reload(source string) error {
	if m.loader == nil {
		return errors.New("no loader configured")
	}
	cfg, err := m.loader.Load()
	if err != nil {
		return err
	}
	return m.Apply(cfg, source)
}

// Apply validates cfg, swaps it in and runs the callbacks. A failing or
// panicking callback restores the previous configuration.
func (m *HotReloadManager) Apply(cfg *Config, source string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config rejected: %w", err)
	}

	m.mu.Lock()
	old := m.config
	changes := diff(old, cfg)
	if len(changes) == 0 {
		m.mu.Unlock()
		return nil
	}
	now := time.Now()
	restart := false
	for i := range changes {
		changes[i].Timestamp = now
		changes[i].Source = source
		restart = restart || changes[i].RequiresRestart
		m.logChange(changes[i])
	}
	m.previous = old
	m.config = cfg
	m.version++
	m.changeLog = append(m.changeLog, changes...)
	if len(m.changeLog) > maxChangeLog {
		m.changeLog = m.changeLog[len(m.changeLog)-maxChangeLog:]
	}
	callbacks := append([]ReloadCallback(nil), m.callbacks...)
	m.mu.Unlock()

	if err := runCallbacks(callbacks, old, cfg); err != nil {
		m.mu.Lock()
		if m.config == cfg {
			m.config = old
			m.version++
			m.logger.Error("reload callback failed, config rolled back", zap.Error(err))
		}
		m.mu.Unlock()
		return fmt.Errorf("config applied but callback failed: %w", err)
	}

	if restart {
		m.logger.Warn("some configuration changes require restart to take effect")
	}
	m.logger.Info("configuration reloaded",
		zap.String("source", source),
		zap.Int("changes", len(changes)),
		zap.Bool("requires_restart", restart))
	return nil
}

// Rollback restores the configuration that preceded the last change.
func (m *HotReloadManager) Rollback() error {
	m.mu.RLock()
	prev := m.previous
	m.mu.RUnlock()
	if prev == nil {
		return errors.New("no previous configuration")
	}
	return m.Apply(prev, "rollback")
}

// ChangeLog returns up to limit recent changes, newest last. limit <= 0
// returns all retained changes.
func (m *HotReloadManager) ChangeLog(limit int) []ConfigChange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	log := m.changeLog
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	return append([]ConfigChange(nil), log...)
}

// SanitizedConfig 返回脱敏后的配置视图，键名与 YAML 一致
func (m *HotReloadManager) SanitizedConfig() (map[string]any, error) {
	data, err := yaml.Marshal(m.Config())
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	redact(out)
	return out, nil
}

func runCallbacks(callbacks []ReloadCallback, old, cfg *Config) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reload callback panicked: %v", r)
		}
	}()
	for _, cb := range callbacks {
		if err := cb(old, cfg); err != nil {
			return err
		}
	}
	return nil
}

func (m *HotReloadManager) logChange(c ConfigChange) {
	fields := []zap.Field{
		zap.String("path", c.Path),
		zap.String("source", c.Source),
		zap.Bool("requires_restart", c.RequiresRestart),
	}
	if !isSensitive(c.Path) {
		fields = append(fields, zap.Any("old_value", c.OldValue), zap.Any("new_value", c.NewValue))
	}
	m.logger.Info("configuration changed", fields...)
}

// diff 递归比较两份配置
func diff(oldCfg, newCfg *Config) []ConfigChange {
	var changes []ConfigChange
	compareStructs("", reflect.ValueOf(oldCfg).Elem(), reflect.ValueOf(newCfg).Elem(), &changes)
	return changes
}

func compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	t := oldVal.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		path := f.Name
		if prefix != "" {
			path = prefix + "." + f.Name
		}
		o, n := oldVal.Field(i), newVal.Field(i)
		if o.Kind() == reflect.Struct {
			compareStructs(path, o, n, changes)
			continue
		}
		if reflect.DeepEqual(o.Interface(), n.Interface()) {
			continue
		}
		c := ConfigChange{Path: path, OldValue: o.Interface(), NewValue: n.Interface(), RequiresRestart: !IsHotReloadable(path)}
		if isSensitive(path) {
			c.OldValue, c.NewValue = "[REDACTED]", "[REDACTED]"
		}
		*changes = append(*changes, c)
	}
}

func isSensitive(path string) bool {
	lower := strings.ToLower(path)
	for _, k := range sensitiveKeys {
		if strings.Contains(lower, strings.ReplaceAll(k, "_", "")) || strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func redact(data map[string]any) {
	for key, value := range data {
		switch v := value.(type) {
		case map[string]any:
			redact(v)
		case string:
			if v != "" && isSensitive(key) {
				data[key] = "[REDACTED]"
			}
		case []any:
			if len(v) > 0 && isSensitive(key) {
				data[key] = "[REDACTED]"
			}
		}
	}
}
