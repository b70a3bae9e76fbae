// 配置热重载管理器实现。
//
// 支持局部更新、变更通知、应用前校验、历史快照与回滚。
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 热重载类型定义 ---

// HotReloadManager 管理配置热重载
type HotReloadManager struct {
	mu sync.RWMutex

	config     *Config
	configPath string

	// 回滚支持
	previousConfig *Config
	configHistory  []ConfigSnapshot
	maxHistorySize int
	validateFunc   ValidateFunc

	watcher       *FileWatcher
	watcherOpts   []WatcherOption
	changeLog     []ConfigChange
	maxChangeLog  int
	changeCbs     []ChangeCallback
	reloadCbs     []ReloadCallback
	rollbackCbs   []RollbackCallback
	logger        *zap.Logger
	running       bool
	cancelWatcher context.CancelFunc
}

// ChangeCallback 单个字段变更时调用
type ChangeCallback func(change ConfigChange)

// ReloadCallback 整体配置应用后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// ValidateFunc 应用前的校验钩子
type ValidateFunc func(newConfig *Config) error

// RollbackCallback 回滚事件回调
type RollbackCallback func(event RollbackEvent)

// ConfigChange 代表一次字段变更
type ConfigChange struct {
	Timestamp       time.Time `json:"timestamp"`
	Source          string    `json:"source"` // file, api, rollback
	Path            string    `json:"path"`   // 例如 "Repair.MaxIterations"
	OldValue        any       `json:"old_value,omitempty"`
	NewValue        any       `json:"new_value,omitempty"`
	RequiresRestart bool      `json:"requires_restart"`
	Applied         bool      `json:"applied"`
	Error           string    `json:"error,omitempty"`
}

// ConfigSnapshot 配置快照
type ConfigSnapshot struct {
	Config    *Config   `json:"config"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Version   int       `json:"version"`
	Checksum  string    `json:"checksum"`
}

// RollbackEvent 回滚事件
type RollbackEvent struct {
	Timestamp      time.Time `json:"timestamp"`
	Reason         string    `json:"reason"`
	RestoredConfig *Config   `json:"restored_config"`
	Version        int       `json:"version"`
	Error          error     `json:"-"`
}

// HotReloadableField 描述一个可在运行期调整的字段
type HotReloadableField struct {
	Path            string
	Description     string
	RequiresRestart bool
	Sensitive       bool
	Validator       func(value any) error
}

// --- 可热重载字段注册表 ---

var hotReloadableFields = map[string]HotReloadableField{
	"Log.Level": {
		Path:        "Log.Level",
		Description: "Log level (debug, info, warn, error)",
		Validator:   oneOf("debug", "info", "warn", "error"),
	},
	"Repair.MaxIterations": {
		Path:        "Repair.MaxIterations",
		Description: "Validation attempts per repair run",
		Validator:   intBetween(1, 100),
	},
	"Repair.FinalCheckpointTimeout": {
		Path:        "Repair.FinalCheckpointTimeout",
		Description: "Deadline for the final checkpoint write after cancellation",
	},
	"Repair.BufferSize": {
		Path:        "Repair.BufferSize",
		Description: "Event channel buffer of new runs",
		Validator:   intBetween(0, 4096),
	},
	"Catalog.CacheTTL": {
		Path:            "Catalog.CacheTTL",
		Description:     "Node catalog cache lifetime",
		RequiresRestart: true,
	},
	"Gateway.BaseURL": {
		Path:            "Gateway.BaseURL",
		Description:     "Execution service base URL",
		RequiresRestart: true,
	},
	"Gateway.Timeout": {
		Path:            "Gateway.Timeout",
		Description:     "Validation request timeout",
		RequiresRestart: true,
	},
	"Server.RateLimitRPS": {
		Path:            "Server.RateLimitRPS",
		Description:     "Requests per second per client",
		RequiresRestart: true,
	},
	"Store.Type": {
		Path:            "Store.Type",
		Description:     "Checkpoint store backend",
		RequiresRestart: true,
	},
	"Redis.Password": {
		Path:            "Redis.Password",
		Description:     "Redis password",
		RequiresRestart: true,
		Sensitive:       true,
	},
	"Database.Password": {
		Path:            "Database.Password",
		Description:     "Database password",
		RequiresRestart: true,
		Sensitive:       true,
	},
	"JWT.Secret": {
		Path:            "JWT.Secret",
		Description:     "JWT HMAC secret",
		RequiresRestart: true,
		Sensitive:       true,
	},
}

func oneOf(values ...string) func(any) error {
	return func(v any) error {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		for _, allowed := range values {
			if s == allowed {
				return nil
			}
		}
		return fmt.Errorf("must be one of %s", strings.Join(values, ", "))
	}
}

func intBetween(lo, hi int) func(any) error {
	return func(v any) error {
		var n int
		switch x := v.(type) {
		case int:
			n = x
		case float64: // JSON 数字
			n = int(x)
		default:
			return fmt.Errorf("expected number, got %T", v)
		}
		if n < lo || n > hi {
			return fmt.Errorf("must be between %d and %d", lo, hi)
		}
		return nil
	}
}

// --- 选项 ---

// HotReloadOption 配置 HotReloadManager
type HotReloadOption func(*HotReloadManager)

// WithHotReloadLogger 设置记录器
func WithHotReloadLogger(logger *zap.Logger) HotReloadOption {
	return func(m *HotReloadManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithConfigPath 设置配置文件路径
func WithConfigPath(path string) HotReloadOption {
	return func(m *HotReloadManager) {
		m.configPath = path
	}
}

// WithMaxHistorySize 设置历史快照上限
func WithMaxHistorySize(size int) HotReloadOption {
	return func(m *HotReloadManager) {
		if size > 0 {
			m.maxHistorySize = size
		}
	}
}

// WithValidateFunc 设置应用前校验钩子
func WithValidateFunc(fn ValidateFunc) HotReloadOption {
	return func(m *HotReloadManager) {
		m.validateFunc = fn
	}
}

// WithWatcherOptions 透传文件监听器选项
func WithWatcherOptions(opts ...WatcherOption) HotReloadOption {
	return func(m *HotReloadManager) {
		m.watcherOpts = append(m.watcherOpts, opts...)
	}
}

// --- 实现 ---

// NewHotReloadManager 创建热重载管理器
func NewHotReloadManager(config *Config, opts ...HotReloadOption) *HotReloadManager {
	m := &HotReloadManager{
		config:         config,
		maxHistorySize: 10,
		maxChangeLog:   1000,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "config_reload"))
	m.pushHistory(config, "init")
	return m
}

func (m *HotReloadManager) pushHistory(config *Config, source string) {
	version := 1
	if n := len(m.configHistory); n > 0 {
		version = m.configHistory[n-1].Version + 1
	}
	m.configHistory = append(m.configHistory, ConfigSnapshot{
		Config:    deepCopyConfig(config),
		Timestamp: time.Now(),
		Source:    source,
		Version:   version,
		Checksum:  computeConfigChecksum(config),
	})
	if len(m.configHistory) > m.maxHistorySize {
		m.configHistory = m.configHistory[len(m.configHistory)-m.maxHistorySize:]
	}
}

func (m *HotReloadManager) appendChangeLog(changes ...ConfigChange) {
	m.changeLog = append(m.changeLog, changes...)
	if len(m.changeLog) > m.maxChangeLog {
		m.changeLog = m.changeLog[len(m.changeLog)-m.maxChangeLog:]
	}
}

// deepCopyConfig 通过 JSON 往返深拷贝
func deepCopyConfig(config *Config) *Config {
	data, err := json.Marshal(config)
	if err != nil {
		return config
	}
	var copied Config
	if err := json.Unmarshal(data, &copied); err != nil {
		return config
	}
	return &copied
}

func computeConfigChecksum(config *Config) string {
	data, err := json.Marshal(config)
	if err != nil {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	return fmt.Sprintf("%016x", h.Sum64())
}

// Start 启动文件监听（未设置配置路径时仅提供 API 更新能力）
func (m *HotReloadManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("hot reload manager already running")
	}

	if m.configPath != "" {
		opts := append([]WatcherOption{WithWatcherLogger(m.logger), WithDebounceDelay(500 * time.Millisecond)}, m.watcherOpts...)
		watcher, err := NewFileWatcher([]string{m.configPath}, opts...)
		if err != nil {
			return fmt.Errorf("failed to create file watcher: %w", err)
		}
		watcher.OnChange(m.handleFileChange)

		watchCtx, cancel := context.WithCancel(ctx)
		if err := watcher.Start(watchCtx); err != nil {
			cancel()
			return fmt.Errorf("failed to start file watcher: %w", err)
		}
		m.watcher = watcher
		m.cancelWatcher = cancel
	}

	m.running = true
	m.logger.Info("hot reload manager started", zap.String("config_path", m.configPath))
	return nil
}

// Stop 停止热重载管理器
func (m *HotReloadManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	if m.cancelWatcher != nil {
		m.cancelWatcher()
	}
	if m.watcher != nil {
		if err := m.watcher.Stop(); err != nil {
			m.logger.Error("failed to stop file watcher", zap.Error(err))
		}
	}
	m.running = false
	m.logger.Info("hot reload manager stopped")
	return nil
}

func (m *HotReloadManager) handleFileChange(event FileEvent) {
	m.logger.Info("configuration file changed",
		zap.String("path", event.Path),
		zap.String("op", event.Op.String()))

	if event.Op == FileOpWrite || event.Op == FileOpCreate {
		if err := m.ReloadFromFile(); err != nil {
			m.logger.Error("failed to reload configuration", zap.Error(err))
		}
	}
}

// ReloadFromFile 从文件重新加载并应用配置，失败时保留当前配置
func (m *HotReloadManager) ReloadFromFile() error {
	if m.configPath == "" {
		return fmt.Errorf("no config path set")
	}

	newConfig, err := NewLoader().WithConfigPath(m.configPath).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return m.ApplyConfig(newConfig, "file")
}

// ApplyConfig 应用新配置。校验、替换与历史记录在同一把锁内完成，
// 回调在锁外执行，回调失败时自动回滚。
func (m *HotReloadManager) ApplyConfig(newConfig *Config, source string) error {
	m.mu.Lock()

	if m.validateFunc != nil {
		if err := m.validateFunc(newConfig); err != nil {
			m.appendChangeLog(ConfigChange{
				Timestamp: time.Now(),
				Source:    source,
				Path:      "(validation_hook)",
				Error:     fmt.Sprintf("validation hook failed: %v", err),
			})
			m.mu.Unlock()
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	oldConfig := m.config
	changes := detectChanges(oldConfig, newConfig)
	requiresRestart := false
	now := time.Now()
	for i := range changes {
		c := &changes[i]
		c.Source = source
		c.Timestamp = now
		c.Applied = true
		field, known := hotReloadableFields[c.Path]
		c.RequiresRestart = !known || field.RequiresRestart
		if known && field.Sensitive {
			c.OldValue, c.NewValue = redacted, redacted
		}
		if c.RequiresRestart {
			requiresRestart = true
		}
		m.logChange(*c)
	}

	m.previousConfig = deepCopyConfig(oldConfig)
	m.config = newConfig
	m.pushHistory(newConfig, source)
	m.appendChangeLog(changes...)

	changeCbs := append([]ChangeCallback(nil), m.changeCbs...)
	reloadCbs := append([]ReloadCallback(nil), m.reloadCbs...)
	m.mu.Unlock()

	if err := notifySafe(changeCbs, reloadCbs, oldConfig, newConfig, changes); err != nil {
		m.mu.Lock()
		if m.config == newConfig {
			m.rollbackLocked(oldConfig, fmt.Sprintf("callback error: %v", err), err)
		}
		m.mu.Unlock()
		return fmt.Errorf("config applied but callback failed: %w", err)
	}

	if requiresRestart {
		m.logger.Warn("some configuration changes require a restart to take effect")
	}
	m.logger.Info("configuration reloaded",
		zap.Int("changes", len(changes)),
		zap.Bool("requires_restart", requiresRestart))
	return nil
}

// notifySafe 通知回调并捕获 panic
func notifySafe(changeCbs []ChangeCallback, reloadCbs []ReloadCallback, oldConfig, newConfig *Config, changes []ConfigChange) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	for _, cb := range changeCbs {
		for _, change := range changes {
			cb(change)
		}
	}
	for _, cb := range reloadCbs {
		cb(oldConfig, newConfig)
	}
	return nil
}

// detectChanges 递归比较两份配置的导出字段
func detectChanges(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange
	compareStructs("", reflect.ValueOf(oldConfig).Elem(), reflect.ValueOf(newConfig).Elem(), &changes)
	return changes
}

func compareStructs(prefix string, oldVal, newVal reflect.Value, changes *[]ConfigChange) {
	t := oldVal.Type()
	for i := 0; i < oldVal.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		path := field.Name
		if prefix != "" {
			path = prefix + "." + field.Name
		}
		oldField, newField := oldVal.Field(i), newVal.Field(i)
		if oldField.Kind() == reflect.Struct {
			compareStructs(path, oldField, newField, changes)
			continue
		}
		if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			*changes = append(*changes, ConfigChange{
				Path:     path,
				OldValue: oldField.Interface(),
				NewValue: newField.Interface(),
			})
		}
	}
}

func (m *HotReloadManager) logChange(change ConfigChange) {
	fields := []zap.Field{
		zap.String("path", change.Path),
		zap.String("source", change.Source),
		zap.Bool("requires_restart", change.RequiresRestart),
	}
	if field, known := hotReloadableFields[change.Path]; !known || !field.Sensitive {
		fields = append(fields, zap.Any("old_value", change.OldValue), zap.Any("new_value", change.NewValue))
	}
	m.logger.Info("configuration changed", fields...)
}

// OnChange 注册字段变更回调
func (m *HotReloadManager) OnChange(callback ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changeCbs = append(m.changeCbs, callback)
}

// OnReload 注册整体重载回调
func (m *HotReloadManager) OnReload(callback ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadCbs = append(m.reloadCbs, callback)
}

// OnRollback 注册回滚回调
func (m *HotReloadManager) OnRollback(callback RollbackCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbackCbs = append(m.rollbackCbs, callback)
}

// Rollback 回滚到上一个有效配置
func (m *HotReloadManager) Rollback() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.previousConfig == nil {
		return fmt.Errorf("no previous config available for rollback")
	}
	m.rollbackLocked(m.previousConfig, "manual rollback", nil)
	return nil
}

// RollbackToVersion 回滚到历史中的指定版本
func (m *HotReloadManager) RollbackToVersion(version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, snapshot := range m.configHistory {
		if snapshot.Version == version {
			m.rollbackLocked(snapshot.Config, fmt.Sprintf("rollback to version %d", version), nil)
			return nil
		}
	}
	return fmt.Errorf("config version %d not found in history", version)
}

// rollbackLocked 调用方必须持有写锁
func (m *HotReloadManager) rollbackLocked(target *Config, reason string, cause error) {
	restored := deepCopyConfig(target)
	m.config = restored

	version := 0
	checksum := computeConfigChecksum(target)
	for _, snapshot := range m.configHistory {
		if snapshot.Checksum == checksum {
			version = snapshot.Version
			break
		}
	}

	m.appendChangeLog(ConfigChange{
		Timestamp: time.Now(),
		Source:    "rollback",
		Path:      "(rollback)",
		Applied:   true,
		Error:     reason,
	})

	event := RollbackEvent{Timestamp: time.Now(), Reason: reason, RestoredConfig: restored, Version: version, Error: cause}
	for _, cb := range m.rollbackCbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("rollback callback panicked", zap.Any("panic", r))
				}
			}()
			cb(event)
		}()
	}

	m.logger.Warn("configuration rolled back",
		zap.String("reason", reason),
		zap.Int("restored_version", version))
}

// GetConfigHistory 返回历史快照
func (m *HotReloadManager) GetConfigHistory() []ConfigSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ConfigSnapshot(nil), m.configHistory...)
}

// GetCurrentVersion 返回当前版本号
func (m *HotReloadManager) GetCurrentVersion() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.configHistory) == 0 {
		return 0
	}
	return m.configHistory[len(m.configHistory)-1].Version
}

// GetConfig 返回当前配置的副本
func (m *HotReloadManager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return deepCopyConfig(m.config)
}

// GetChangeLog 返回最近 limit 条变更，limit<=0 时全部返回
func (m *HotReloadManager) GetChangeLog(limit int) []ConfigChange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.changeLog) {
		limit = len(m.changeLog)
	}
	return append([]ConfigChange(nil), m.changeLog[len(m.changeLog)-limit:]...)
}

// UpdateField 更新单个已注册字段，回调失败时回滚
func (m *HotReloadManager) UpdateField(path string, value any) error {
	field, known := hotReloadableFields[path]
	if !known {
		return fmt.Errorf("unknown configuration field: %s", path)
	}
	if field.Validator != nil {
		if err := field.Validator(value); err != nil {
			return fmt.Errorf("validation failed for %s: %w", path, err)
		}
	}

	m.mu.Lock()
	before := deepCopyConfig(m.config)
	next := deepCopyConfig(m.config)

	oldValue, err := getNestedField(reflectValue(next), path)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to get old value: %w", err)
	}
	if err := setNestedField(reflectValue(next), path, value); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to set value: %w", err)
	}
	newValue, _ := getNestedField(reflectValue(next), path)

	change := ConfigChange{
		Timestamp:       time.Now(),
		Source:          "api",
		Path:            path,
		OldValue:        oldValue,
		NewValue:        newValue,
		RequiresRestart: field.RequiresRestart,
		Applied:         true,
	}
	if field.Sensitive {
		change.OldValue, change.NewValue = redacted, redacted
	}

	m.previousConfig = before
	m.config = next
	m.pushHistory(next, "api")
	m.logChange(change)
	m.appendChangeLog(change)
	changeCbs := append([]ChangeCallback(nil), m.changeCbs...)
	reloadCbs := append([]ReloadCallback(nil), m.reloadCbs...)
	m.mu.Unlock()

	if err := notifySafe(changeCbs, reloadCbs, before, next, []ConfigChange{change}); err != nil {
		m.mu.Lock()
		m.rollbackLocked(before, fmt.Sprintf("callback error: %v", err), err)
		m.mu.Unlock()
		return fmt.Errorf("field updated but callback failed, rolled back: %w", err)
	}
	return nil
}

func reflectValue(c *Config) reflect.Value {
	return reflect.ValueOf(c).Elem()
}

// getNestedField 按点分路径读取字段
func getNestedField(v reflect.Value, path string) (any, error) {
	for _, part := range strings.Split(path, ".") {
		if v.Kind() != reflect.Struct {
			return nil, fmt.Errorf("not a struct at %s", part)
		}
		v = v.FieldByName(part)
		if !v.IsValid() {
			return nil, fmt.Errorf("field not found: %s", part)
		}
	}
	return v.Interface(), nil
}

// setNestedField 按点分路径写入字段，字符串可写入 Duration 字段
func setNestedField(v reflect.Value, path string, value any) error {
	parts := strings.Split(path, ".")
	for _, part := range parts {
		if v.Kind() != reflect.Struct {
			return fmt.Errorf("not a struct at %s", part)
		}
		v = v.FieldByName(part)
		if !v.IsValid() {
			return fmt.Errorf("field not found: %s", part)
		}
	}
	if !v.CanSet() {
		return fmt.Errorf("cannot set field: %s", path)
	}

	if s, ok := value.(string); ok && v.Type() == durationType {
		d, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		v.SetInt(int64(d))
		return nil
	}

	newVal := reflect.ValueOf(value)
	if !newVal.IsValid() || !newVal.Type().ConvertibleTo(v.Type()) {
		return fmt.Errorf("type mismatch: expected %s, got %T", v.Type(), value)
	}
	// float64 -> string 之类的转换在 reflect 中合法但语义错误
	if v.Kind() == reflect.String && newVal.Kind() != reflect.String {
		return fmt.Errorf("type mismatch: expected string, got %T", value)
	}
	v.Set(newVal.Convert(v.Type()))
	return nil
}

// GetHotReloadableFields 返回字段注册表副本
func GetHotReloadableFields() map[string]HotReloadableField {
	result := make(map[string]HotReloadableField, len(hotReloadableFields))
	for k, v := range hotReloadableFields {
		result[k] = v
	}
	return result
}

// IsHotReloadable 报告字段是否无需重启即可生效
func IsHotReloadable(path string) bool {
	field, known := hotReloadableFields[path]
	return known && !field.RequiresRestart
}

// --- 脱敏视图 ---

const redacted = "[REDACTED]"

var sensitiveKeys = []string{"password", "secret", "token", "credential", "api_key", "uri"}

// SanitizedConfig 返回脱敏后的配置映射
func (m *HotReloadManager) SanitizedConfig() map[string]any {
	m.mu.RLock()
	data, err := json.Marshal(m.config)
	m.mu.RUnlock()
	if err != nil {
		return nil
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	redactSensitiveFields(result)
	return result
}

func redactSensitiveFields(data map[string]any) {
	for key, value := range data {
		lower := strings.ToLower(key)
		for _, s := range sensitiveKeys {
			if strings.Contains(lower, s) {
				if str, ok := value.(string); ok && str != "" {
					data[key] = redacted
				}
				break
			}
		}
		if nested, ok := value.(map[string]any); ok {
			redactSensitiveFields(nested)
		}
	}
}
