// =============================================================================
// 📦 LumeAI 配置
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("LUMEAI").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"time"
)

// 全局回退常量：任何一级外部服务失败时给用户的兜底回复。
const (
	FallbackText     = "I'm having trouble connecting right now."
	FallbackAudioURL = "/static/fallback.mp3"
)

// Config 是 LumeAI 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Providers 外部服务默认凭据
	Providers ProvidersConfig `yaml:"providers" env:"PROVIDERS"`

	// Recognizer 语音识别连接参数（原样透传给识别服务）
	Recognizer RecognizerConfig `yaml:"recognizer" env:"RECOGNIZER"`

	// Synthesis 语音合成流参数
	Synthesis SynthesisConfig `yaml:"synthesis" env:"SYNTHESIS"`

	// Skills 技能服务配置
	Skills SkillsConfig `yaml:"skills" env:"SKILLS"`

	// Redis 技能响应缓存（可选，留空则使用内存缓存）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Relay 音频中继队列配置
	Relay RelayConfig `yaml:"relay" env:"RELAY"`

	// AutoReply 收到最终转写后是否自动生成回复
	AutoReply bool `yaml:"auto_reply" env:"AUTO_REPLY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// CORS 允许的来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 静态文件目录（为空则不挂载）
	StaticDir string `yaml:"static_dir" env:"STATIC_DIR"`
	// 上传目录
	UploadsDir string `yaml:"uploads_dir" env:"UPLOADS_DIR"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// ProvidersConfig 各外部服务的进程级默认 API Key。
// 会话可以在连接时携带自己的 Key 覆盖这里的默认值。
type ProvidersConfig struct {
	// AssemblyAI（语音识别）
	AssemblyAIKey string `yaml:"assemblyai_key" env:"ASSEMBLYAI_KEY"`
	// Gemini（大语言模型）
	GeminiKey string `yaml:"gemini_key" env:"GEMINI_KEY"`
	// Gemini 模型名
	GeminiModel string `yaml:"gemini_model" env:"GEMINI_MODEL"`
	// Murf（语音合成）
	MurfKey string `yaml:"murf_key" env:"MURF_KEY"`
	// LLM 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RecognizerConfig 识别服务的端点与断句调优参数。
// 这些参数属于识别服务自身的端点检测，连接时原样透传。
type RecognizerConfig struct {
	// WebSocket 端点
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 采样率（Hz）
	SampleRate int `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// 是否返回带标点/大小写的最终文本
	FormatTurns bool `yaml:"format_turns" env:"FORMAT_TURNS"`
	// 置信断句阈值
	EndOfTurnConfidenceThreshold float64 `yaml:"end_of_turn_confidence_threshold" env:"END_OF_TURN_CONFIDENCE_THRESHOLD"`
	// 高置信时的最小静音
	MinEndOfTurnSilenceWhenConfident time.Duration `yaml:"min_end_of_turn_silence_when_confident" env:"MIN_END_OF_TURN_SILENCE_WHEN_CONFIDENT"`
	// 最大静音
	MaxTurnSilence time.Duration `yaml:"max_turn_silence" env:"MAX_TURN_SILENCE"`
}

// SynthesisConfig 合成流参数
type SynthesisConfig struct {
	// 流式 WebSocket 端点
	WSURL string `yaml:"ws_url" env:"WS_URL"`
	// 非流式 HTTP 端点
	HTTPURL string `yaml:"http_url" env:"HTTP_URL"`
	// 上下文 ID（把一串合成请求归入同一逻辑音频流）
	ContextID string `yaml:"context_id" env:"CONTEXT_ID"`
	// 采样率（Hz）
	SampleRate int `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// 声道模式
	ChannelType string `yaml:"channel_type" env:"CHANNEL_TYPE"`
	// 容器格式
	Format string `yaml:"format" env:"FORMAT"`
	// 声音 ID
	VoiceID string `yaml:"voice_id" env:"VOICE_ID"`
	// 说话风格
	Style string `yaml:"style" env:"STYLE"`
	// 语速偏移
	Rate int `yaml:"rate" env:"RATE"`
	// 音高偏移
	Pitch int `yaml:"pitch" env:"PITCH"`
	// 变化度
	Variation int `yaml:"variation" env:"VARIATION"`
	// 单次发送超时
	SendTimeout time.Duration `yaml:"send_timeout" env:"SEND_TIMEOUT"`
	// 单次接收超时
	RecvTimeout time.Duration `yaml:"recv_timeout" env:"RECV_TIMEOUT"`
}

// SkillsConfig 技能服务配置
type SkillsConfig struct {
	// WeatherAPI Key
	WeatherKey string `yaml:"weather_key" env:"WEATHER_KEY"`
	// NewsAPI Key
	NewsKey string `yaml:"news_key" env:"NEWS_KEY"`
	// TMDB Key
	TMDBKey string `yaml:"tmdb_key" env:"TMDB_KEY"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 技能响应缓存 TTL
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址（为空则不使用 Redis）
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
}

// RelayConfig 音频中继队列配置
type RelayConfig struct {
	// 队列字节预算，超出后静默丢弃新块
	ByteBudget int64 `yaml:"byte_budget" env:"BYTE_BUDGET"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:           8080,
			MetricsPort:        9090,
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       30 * time.Second,
			ShutdownTimeout:    30 * time.Second,
			CORSAllowedOrigins: []string{"*"},
			UploadsDir:         "uploads",
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Providers: ProvidersConfig{
			GeminiModel: "gemini-2.5-flash",
			Timeout:     60 * time.Second,
		},
		Recognizer: RecognizerConfig{
			BaseURL:                          "wss://streaming.assemblyai.com/v3/ws",
			SampleRate:                       16000,
			FormatTurns:                      true,
			EndOfTurnConfidenceThreshold:     0.75,
			MinEndOfTurnSilenceWhenConfident: 160 * time.Millisecond,
			MaxTurnSilence:                   2400 * time.Millisecond,
		},
		Synthesis: SynthesisConfig{
			WSURL:       "wss://api.murf.ai/v1/speech/stream-input",
			HTTPURL:     "https://api.murf.ai/v1/speech/generate",
			ContextID:   "lumeai-context-123",
			SampleRate:  44100,
			ChannelType: "MONO",
			Format:      "WAV",
			VoiceID:     "en-US-Natalie",
			Style:       "Conversational",
			Rate:        0,
			Pitch:       0,
			Variation:   1,
			SendTimeout: 5 * time.Second,
			RecvTimeout: 10 * time.Second,
		},
		Skills: SkillsConfig{
			Timeout:  12 * time.Second,
			CacheTTL: 5 * time.Minute,
		},
		Relay: RelayConfig{
			ByteBudget: 10 << 20, // 10 MiB
		},
		AutoReply: true,
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics_port: %d", c.Server.MetricsPort)
	}
	if c.Server.HTTPPort == c.Server.MetricsPort {
		return fmt.Errorf("http_port and metrics_port must differ")
	}
	if c.Relay.ByteBudget <= 0 {
		return fmt.Errorf("relay byte_budget must be positive, got %d", c.Relay.ByteBudget)
	}
	if c.Recognizer.SampleRate <= 0 {
		return fmt.Errorf("recognizer sample_rate must be positive, got %d", c.Recognizer.SampleRate)
	}
	if c.Recognizer.EndOfTurnConfidenceThreshold < 0 || c.Recognizer.EndOfTurnConfidenceThreshold > 1 {
		return fmt.Errorf("end_of_turn_confidence_threshold must be in [0,1], got %f", c.Recognizer.EndOfTurnConfidenceThreshold)
	}
	if c.Synthesis.SendTimeout <= 0 || c.Synthesis.RecvTimeout <= 0 {
		return fmt.Errorf("synthesis timeouts must be positive")
	}
	return nil
}
