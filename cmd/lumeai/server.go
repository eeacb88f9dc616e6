package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/lumeai/api/handlers"
	"github.com/BaSui01/lumeai/config"
	"github.com/BaSui01/lumeai/internal/cache"
	"github.com/BaSui01/lumeai/internal/metrics"
	"github.com/BaSui01/lumeai/internal/server"
	"github.com/BaSui01/lumeai/llm/gemini"
	"github.com/BaSui01/lumeai/session"
	"github.com/BaSui01/lumeai/skills"
	"github.com/BaSui01/lumeai/speech"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 LumeAI 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 会话与流水线
	registry    *session.Registry
	coordinator *session.Coordinator
	handlers    *handlers.Handlers

	// 指标收集器
	collector *metrics.Collector

	// 技能响应缓存（Redis 时需要关闭连接）
	redisCache *cache.RedisCache
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.collector = metrics.NewCollector("lumeai", nil, s.logger)

	// 2. 组装流水线
	s.initPipeline()

	// 3. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 4. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("auto_reply", s.cfg.AutoReply),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initPipeline 组装会话注册表、技能服务、语音客户端和回合处理链
func (s *Server) initPipeline() {
	s.registry = session.NewRegistry(s.logger)

	// 技能响应缓存：配置了 Redis 则用 Redis，否则退为进程内缓存
	var skillCache cache.Cache
	if s.cfg.Redis.Addr != "" {
		s.redisCache = cache.NewRedis(s.cfg.Redis.Addr, s.cfg.Redis.Password, s.cfg.Redis.DB, s.logger)
		skillCache = s.redisCache
		s.logger.Info("skill cache backed by redis", zap.String("addr", s.cfg.Redis.Addr))
	} else {
		skillCache = cache.NewMemory()
	}

	skillService := skills.NewService(skills.ServiceConfig{
		Keys: skills.Keys{
			Weather: s.cfg.Skills.WeatherKey,
			News:    s.cfg.Skills.NewsKey,
			TMDB:    s.cfg.Skills.TMDBKey,
		},
		Timeout:  s.cfg.Skills.Timeout,
		CacheTTL: s.cfg.Skills.CacheTTL,
	}, skillCache, s.logger)
	classifier := skills.NewClassifier()

	provider := gemini.NewGeminiProvider(gemini.Config{
		APIKey:  s.cfg.Providers.GeminiKey,
		Model:   s.cfg.Providers.GeminiModel,
		Timeout: s.cfg.Providers.Timeout,
	}, s.logger)

	synthesizer := speech.NewSynthesizer(speech.SynthesizerConfig{
		WSURL:       s.cfg.Synthesis.WSURL,
		ContextID:   s.cfg.Synthesis.ContextID,
		SampleRate:  s.cfg.Synthesis.SampleRate,
		ChannelType: s.cfg.Synthesis.ChannelType,
		Format:      s.cfg.Synthesis.Format,
		Voice: speech.VoiceConfig{
			VoiceID:   s.cfg.Synthesis.VoiceID,
			Style:     s.cfg.Synthesis.Style,
			Rate:      s.cfg.Synthesis.Rate,
			Pitch:     s.cfg.Synthesis.Pitch,
			Variation: s.cfg.Synthesis.Variation,
		},
		SendTimeout: s.cfg.Synthesis.SendTimeout,
		RecvTimeout: s.cfg.Synthesis.RecvTimeout,
	}, s.logger)

	turns := session.NewTurnProcessor(
		session.TurnProcessorConfig{
			Timeout:        s.cfg.Providers.Timeout,
			DefaultMurfKey: s.cfg.Providers.MurfKey,
		},
		s.registry,
		provider,
		classifier,
		skillService,
		synthesizer,
		s.collector,
		s.logger,
	)

	dialer := func(ctx context.Context, cfg speech.RecognizerConfig) (session.Recognizer, error) {
		return speech.DialRecognizer(ctx, cfg, s.logger)
	}

	s.coordinator = session.NewCoordinator(
		session.CoordinatorConfig{
			Recognizer: speech.RecognizerConfig{
				BaseURL:                          s.cfg.Recognizer.BaseURL,
				SampleRate:                       s.cfg.Recognizer.SampleRate,
				FormatTurns:                      s.cfg.Recognizer.FormatTurns,
				EndOfTurnConfidenceThreshold:     s.cfg.Recognizer.EndOfTurnConfidenceThreshold,
				MinEndOfTurnSilenceWhenConfident: s.cfg.Recognizer.MinEndOfTurnSilenceWhenConfident,
				MaxTurnSilence:                   s.cfg.Recognizer.MaxTurnSilence,
			},
			DefaultAssemblyAIKey: s.cfg.Providers.AssemblyAIKey,
			RelayByteBudget:      s.cfg.Relay.ByteBudget,
			AutoReply:            s.cfg.AutoReply,
			OriginPatterns:       s.cfg.Server.CORSAllowedOrigins,
		},
		dialer,
		s.registry,
		turns,
		s.collector,
		s.logger,
	)

	generateTTS := speech.NewGenerateProvider(
		s.cfg.Synthesis.HTTPURL,
		s.cfg.Providers.MurfKey,
		s.cfg.Synthesis.VoiceID,
		s.cfg.Providers.Timeout,
		s.logger,
	)
	transcriber := speech.NewTranscriber("", s.cfg.Providers.AssemblyAIKey, s.cfg.Providers.Timeout, s.logger)

	s.handlers = handlers.NewHandlers(
		s.registry,
		provider,
		classifier,
		skillService,
		generateTTS,
		transcriber,
		s.cfg.Server.UploadsDir,
		Version,
		s.logger,
	)
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// REST 路由
	s.handlers.RegisterRoutes(mux)

	// 音频流式链路
	mux.HandleFunc("/ws/stream", s.coordinator.HandleStream)

	// 静态资源
	if s.cfg.Server.StaticDir != "" {
		mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(s.cfg.Server.StaticDir))))
	}
	if s.cfg.Server.UploadsDir != "" {
		mux.Handle("/uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.cfg.Server.UploadsDir))))
	}

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if s.redisCache != nil {
		if err := s.redisCache.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
