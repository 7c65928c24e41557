// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
)

// AppConfig 包含应用程序的所有配置
type AppConfig struct {
	// 基础配置
	Port         string `json:"port"`
	DataDir      string `json:"data_dir"`
	StaticDir    string `json:"static_dir"`
	LogDir       string `json:"log_dir"`
	NPCDir       string `json:"npc_dir"`
	KnowledgeDir string `json:"knowledge_dir"`
	MemoryDBPath string `json:"memory_db_path"`
	DebugMode    bool   `json:"debug_mode"`

	// LLM相关配置
	LLMProvider string            `json:"llm_provider"`
	LLMConfig   map[string]string `json:"llm_config"`

	// 向量召回相关配置（可缺省：缺省时召回退化为按时间取最近）
	EmbeddingConfig map[string]string `json:"embedding_config,omitempty"`
}

// Config 存储从环境变量加载的基础配置
type Config struct {
	Port         string
	APIKey       string
	APIBaseURL   string
	ModelName    string
	LLMProvider  string
	DataDir      string
	StaticDir    string
	LogDir       string
	NPCDir       string
	KnowledgeDir string
	DebugMode    bool

	EmbeddingAPIKey  string
	EmbeddingBaseURL string
	EmbeddingModel   string
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	godotenv.Load()

	config := &Config{
		Port:         getEnv("PORT", "5000"),
		APIKey:       getEnv("API_KEY", ""),
		APIBaseURL:   getEnv("API_BASE_URL", ""),
		ModelName:    getEnv("MODEL_NAME", "qwen-turbo"),
		LLMProvider:  getEnv("LLM_PROVIDER", "qwen"),
		DataDir:      getEnvPath("DATA_DIR", "data"),
		StaticDir:    getEnvPath("STATIC_DIR", "static"),
		LogDir:       getEnvPath("LOG_DIR", "logs"),
		// 相对DataDir的子目录名，不是独立路径
		NPCDir:       getEnv("NPC_DIR", "npc"),
		KnowledgeDir: getEnv("KNOWLEDGE_DIR", "knowledge_base"),
		DebugMode:    getEnvBool("DEBUG_MODE", false),

		// 向量召回接口可单独配置，缺省时复用不到：召回退化为按时间取最近
		EmbeddingAPIKey:  getEnv("EMBEDDING_API_KEY", ""),
		EmbeddingBaseURL: getEnv("EMBEDDING_BASE_URL", ""),
		EmbeddingModel:   getEnv("EMBEDDING_MODEL", ""),
	}

	if config.APIKey == "" {
		// 只记录警告，不返回错误：未配置密钥时生成调用会走兜底话术
		log.Println("警告: 未设置API_KEY，LLM生成将不可用")
	}

	return config, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath 获取环境变量表示的路径，如果不存在则返回默认值
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	// 确保目录存在
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			fmt.Printf("警告: 创建目录失败 %s: %v\n", path, err)
		}
	}

	return path
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// InitConfig 初始化配置管理器
func InitConfig(dataDir string) error {
	configFile = filepath.Join(dataDir, "config.json")

	baseConfig, err := Load()
	if err != nil {
		return err
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	currentConfig = &AppConfig{
		Port:         baseConfig.Port,
		DataDir:      baseConfig.DataDir,
		StaticDir:    baseConfig.StaticDir,
		LogDir:       baseConfig.LogDir,
		NPCDir:       baseConfig.NPCDir,
		KnowledgeDir: baseConfig.KnowledgeDir,
		MemoryDBPath: filepath.Join(baseConfig.DataDir, "memory", "wenren.db"),
		DebugMode:    baseConfig.DebugMode,
		LLMProvider:  baseConfig.LLMProvider,
		LLMConfig: map[string]string{
			"api_key":       baseConfig.APIKey,
			"base_url":      baseConfig.APIBaseURL,
			"default_model": baseConfig.ModelName,
		},
		EmbeddingConfig: embeddingConfigFromEnv(baseConfig),
	}

	// 尝试从文件加载已保存的配置
	if _, err := os.Stat(configFile); !os.IsNotExist(err) {
		data, err := os.ReadFile(configFile)
		if err == nil {
			var savedConfig AppConfig
			if json.Unmarshal(data, &savedConfig) == nil {
				// 路径类配置以环境变量为准，LLM设置保留文件中的值
				savedConfig.Port = baseConfig.Port
				savedConfig.DataDir = baseConfig.DataDir
				savedConfig.StaticDir = baseConfig.StaticDir
				savedConfig.LogDir = baseConfig.LogDir
				savedConfig.NPCDir = baseConfig.NPCDir
				savedConfig.KnowledgeDir = baseConfig.KnowledgeDir
				savedConfig.DebugMode = baseConfig.DebugMode

				if savedConfig.MemoryDBPath == "" {
					savedConfig.MemoryDBPath = filepath.Join(baseConfig.DataDir, "memory", "wenren.db")
				}

				// 如果文件中没有API密钥，使用环境变量的密钥
				if savedConfig.LLMConfig != nil && savedConfig.LLMConfig["api_key"] == "" {
					savedConfig.LLMConfig["api_key"] = baseConfig.APIKey
				}

				if len(savedConfig.EmbeddingConfig) == 0 {
					savedConfig.EmbeddingConfig = embeddingConfigFromEnv(baseConfig)
				}

				currentConfig = &savedConfig
			}
		}
	}

	// 保存初始配置到文件
	return SaveConfig()
}

// embeddingConfigFromEnv 未配置向量化密钥时返回nil
func embeddingConfigFromEnv(baseConfig *Config) map[string]string {
	if baseConfig.EmbeddingAPIKey == "" {
		return nil
	}
	return map[string]string{
		"api_key":  baseConfig.EmbeddingAPIKey,
		"base_url": baseConfig.EmbeddingBaseURL,
		"model":    baseConfig.EmbeddingModel,
	}
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 紧急情况，返回一个基本配置
		baseConfig, _ := Load()
		return &AppConfig{
			Port:         baseConfig.Port,
			DataDir:      baseConfig.DataDir,
			StaticDir:    baseConfig.StaticDir,
			LogDir:       baseConfig.LogDir,
			NPCDir:       baseConfig.NPCDir,
			KnowledgeDir: baseConfig.KnowledgeDir,
			MemoryDBPath: filepath.Join(baseConfig.DataDir, "memory", "wenren.db"),
			DebugMode:    baseConfig.DebugMode,
			LLMProvider:  baseConfig.LLMProvider,
			LLMConfig: map[string]string{
				"api_key":       baseConfig.APIKey,
				"base_url":      baseConfig.APIBaseURL,
				"default_model": baseConfig.ModelName,
			},
			EmbeddingConfig: embeddingConfigFromEnv(baseConfig),
		}
	}

	configCopy := *currentConfig
	return &configCopy
}

// UpdateLLMConfig 更新LLM配置
func UpdateLLMConfig(provider string, config map[string]string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	currentConfig.LLMProvider = provider
	currentConfig.LLMConfig = config

	return SaveConfig()
}

// SaveConfig 保存当前配置到文件
func SaveConfig() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	dir := filepath.Dir(configFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建配置目录失败: %w", err)
		}
	}

	data, err := json.MarshalIndent(currentConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	return os.WriteFile(configFile, data, 0644)
}
