package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// AppConfig 应用配置
type AppConfig struct {
	Server    ServerConfig    `toml:"server"`
	Data      DataConfig      `toml:"data"`
	Log       LogConfig       `toml:"log"`
	Master    MasterConfig    `toml:"master"`
	Paysheet  PaysheetConfig  `toml:"paysheet"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Fields    []FieldConfig   `toml:"fields"`
	Run       RunConfig       `toml:"run"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port    int  `toml:"port"`
	DevMode bool `toml:"dev_mode"`
}

// DataConfig 数据配置
type DataConfig struct {
	DataDir    string `toml:"data_dir"`
	AutoBackup bool   `toml:"auto_backup"`
	// BackupDir 为空时使用 <data_dir>/backups
	BackupDir string `toml:"backup_dir"`
	Database  string `toml:"database"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// MasterConfig 主台账配置
type MasterConfig struct {
	Sheet     string `toml:"sheet"`
	HeaderRow int    `toml:"header_row"`
}

// PaysheetConfig 薪资表加载配置
type PaysheetConfig struct {
	HeaderScanRows int      `toml:"header_scan_rows"`
	SheetContains  []string `toml:"sheet_contains"`
	Extensions     []string `toml:"extensions"`
	Workers        int      `toml:"workers"`
}

// ReconcileConfig 对账配置
type ReconcileConfig struct {
	NumericTolerance   float64  `toml:"numeric_tolerance"`
	MergeAcrossSources bool     `toml:"merge_across_sources"`
	ApplyOnErrors      bool     `toml:"apply_on_errors"`
	ContinuationLabels []string `toml:"continuation_labels"`
	ConcatSeparator    string   `toml:"concat_separator"`
	PeriodField        string   `toml:"period_field"`
}

// RunConfig 默认运行参数（命令行参数可覆盖）
type RunConfig struct {
	Profile   string   `toml:"profile"`
	Master    string   `toml:"master"`
	Paysheets []string `toml:"paysheets"`
	Period    string   `toml:"period"`
	DryRun    bool     `toml:"dry_run"`
}

// LoadConfigInfo 配置加载元信息
type LoadConfigInfo struct {
	Path          string
	Found         bool
	PortSpecified bool
}

// DefaultConfig 默认配置
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:    20262,
			DevMode: false,
		},
		Data: DataConfig{
			DataDir:    "data",
			AutoBackup: true,
			Database:   "accrualsync.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		Master: MasterConfig{
			Sheet:     "Profit Sharing",
			HeaderRow: 3,
		},
		Paysheet: PaysheetConfig{
			HeaderScanRows: 15,
			Extensions:     []string{".xlsx", ".xlsm"},
			Workers:        4,
		},
		Reconcile: ReconcileConfig{
			NumericTolerance:   0.005,
			MergeAcrossSources: true,
			ApplyOnErrors:      false,
			ContinuationLabels: []string{"retro", "ach"},
			ConcatSeparator:    "; ",
			PeriodField:        "last_updated",
		},
		Fields: DefaultFields(),
		Run: RunConfig{
			Profile: "default",
			DryRun:  true,
		},
	}
}

func isPortSpecifiedInToml(data []byte) bool {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return false
	}

	serverAny, ok := raw["server"]
	if !ok {
		return false
	}

	serverMap, ok := serverAny.(map[string]any)
	if !ok {
		return false
	}

	_, ok = serverMap["port"]
	return ok
}

// GetExeDir 获取可执行文件所在目录
func GetExeDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// DefaultConfigPath 可执行文件同目录下的 config.toml
func DefaultConfigPath() string {
	exeDir, err := GetExeDir()
	if err != nil {
		// 无法获取可执行文件目录，使用当前目录
		exeDir = "."
	}
	return filepath.Join(exeDir, "config.toml")
}

// LoadConfigWithInfo 从 config.toml 加载配置并返回元信息；path 为空时使用默认位置
func LoadConfigWithInfo(path string) (*AppConfig, LoadConfigInfo, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	info := LoadConfigInfo{Path: path}
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// 配置文件不存在，使用默认配置
			applyEnv(config)
			return config, info, nil
		}
		return nil, info, err
	}
	info.Found = true
	info.PortSpecified = isPortSpecifiedInToml(data)

	// 配置文件中声明了 [[fields]] 时整体替换默认字段表
	config.Fields = nil
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, info, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(config.Fields) == 0 {
		config.Fields = DefaultFields()
	}

	applyEnv(config)
	return config, info, nil
}

// 环境变量覆盖（用于 CI / 本地运行）
func applyEnv(config *AppConfig) {
	if v := os.Getenv("ACCRUALSYNC_DATA_DIR"); v != "" {
		config.Data.DataDir = v
	}
	if v := os.Getenv("ACCRUALSYNC_LOG_LEVEL"); v != "" {
		config.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("ACCRUALSYNC_BACKUP_DIR"); v != "" {
		config.Data.BackupDir = v
	}
}

// LoadConfig 从 config.toml 加载配置
func LoadConfig(path string) (*AppConfig, error) {
	config, _, err := LoadConfigWithInfo(path)
	return config, err
}

// SaveConfig 保存配置到 config.toml
func SaveConfig(config *AppConfig, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ResolveDataDir 数据目录的绝对路径；相对路径以可执行文件目录为基准
func ResolveDataDir(config *AppConfig) string {
	if filepath.IsAbs(config.Data.DataDir) {
		return config.Data.DataDir
	}
	exeDir, err := GetExeDir()
	if err != nil {
		exeDir = "."
	}
	return filepath.Join(exeDir, config.Data.DataDir)
}

// EnsureDataDir 确保数据目录存在
func EnsureDataDir(config *AppConfig) (string, error) {
	dataDir := ResolveDataDir(config)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", err
	}

	// 创建子目录
	subdirs := []string{"backups", "reports"}
	for _, subdir := range subdirs {
		path := filepath.Join(dataDir, subdir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", err
		}
	}
	if config.Data.BackupDir != "" {
		if err := os.MkdirAll(config.Data.BackupDir, 0755); err != nil {
			return "", err
		}
	}

	return dataDir, nil
}

// GetDataPath 获取数据文件路径
func GetDataPath(config *AppConfig, subdir, filename string) string {
	return filepath.Join(ResolveDataDir(config), subdir, filename)
}

// BackupDir 备份目录
func BackupDir(config *AppConfig) string {
	if config.Data.BackupDir != "" {
		return config.Data.BackupDir
	}
	return filepath.Join(ResolveDataDir(config), "backups")
}

// DatabasePath 运行记录数据库路径
func DatabasePath(config *AppConfig) string {
	if filepath.IsAbs(config.Data.Database) {
		return config.Data.Database
	}
	return filepath.Join(ResolveDataDir(config), config.Data.Database)
}
