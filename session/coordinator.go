package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/lumeai/internal/metrics"
	"github.com/BaSui01/lumeai/internal/relay"
	"github.com/BaSui01/lumeai/speech"
)

// =============================================================================
// 🎧 会话协调器
// =============================================================================

// StopSentinel 客户端请求结束语音流的文本哨兵
const StopSentinel = "stop"

// Recognizer 识别连接抽象，便于测试替换
type Recognizer interface {
	Events() <-chan speech.Event
	SendAudio(ctx context.Context, chunk []byte) error
	Terminate(ctx context.Context) error
	Close() error
}

// RecognizerDialer 建立识别连接
type RecognizerDialer func(ctx context.Context, cfg speech.RecognizerConfig) (Recognizer, error)

// CoordinatorConfig 协调器配置
type CoordinatorConfig struct {
	// Recognizer 识别连接参数模板，APIKey 按会话填充
	Recognizer speech.RecognizerConfig

	// DefaultAssemblyAIKey 进程级识别密钥
	DefaultAssemblyAIKey string

	// RelayByteBudget 音频中继队列字节预算
	RelayByteBudget int64

	// AutoReply 收到最终转写后是否自动生成回复
	AutoReply bool

	// OriginPatterns 允许的 WebSocket 来源
	OriginPatterns []string

	// DrainTimeout 停止后等待识别服务送完尾部事件的时限
	DrainTimeout time.Duration
}

// Coordinator 语音会话的生命周期管理。
//
// 每条 /ws/stream 连接对应一次 HandleStream 调用：入站循环收音频与控制
// 消息，中继队列把音频递给识别消费者，事件泵把转写变成下行消息并触发
// 回合处理。任何一方退出都会拉倒整个会话。
type Coordinator struct {
	cfg      CoordinatorConfig
	dial     RecognizerDialer
	registry *Registry
	turns    *TurnProcessor
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewCoordinator 创建会话协调器
func NewCoordinator(
	cfg CoordinatorConfig,
	dial RecognizerDialer,
	registry *Registry,
	turns *TurnProcessor,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Coordinator {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:      cfg,
		dial:     dial,
		registry: registry,
		turns:    turns,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "coordinator")),
	}
}

// HandleStream 处理一条 /ws/stream 连接
func (c *Coordinator) HandleStream(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: c.cfg.OriginPatterns,
	})
	if err != nil {
		c.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	// 客户端持续推音频，放开读取上限
	wsConn.SetReadLimit(1 << 22)

	client := NewWebSocketClientConn(wsConn, c.logger)
	defer client.Close()

	ctx := r.Context()

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	log := c.logger.With(zap.String("session_id", sessionID))

	// 人格与凭据在连接建立时一次性确定
	persona := strings.TrimSpace(r.URL.Query().Get("persona"))
	if persona == "" {
		persona = "default"
	}
	resolved := c.registry.SetPersona(sessionID, persona)

	creds := Credentials{
		AssemblyAI: strings.TrimSpace(r.URL.Query().Get("aai_key")),
		Gemini:     strings.TrimSpace(r.URL.Query().Get("gemini_key")),
		Murf:       strings.TrimSpace(r.URL.Query().Get("murf_key")),
		Weather:    strings.TrimSpace(r.URL.Query().Get("weather_key")),
		News:       strings.TrimSpace(r.URL.Query().Get("news_key")),
		TMDB:       strings.TrimSpace(r.URL.Query().Get("tmdb_key")),
	}
	c.registry.SetCredentials(sessionID, creds)

	if c.metrics != nil {
		c.metrics.SessionStarted()
		defer c.metrics.SessionEnded()
	}

	c.sendNotice(ctx, client, Notice{Type: NoticeInfo, Message: "session connected", SessionID: sessionID})
	log.Info("voice session connected", zap.String("persona", resolved))

	aaiKey := creds.AssemblyAI
	if aaiKey == "" {
		aaiKey = c.cfg.DefaultAssemblyAIKey
	}
	if aaiKey == "" {
		c.sendNotice(ctx, client, ErrorNotice("Speech recognition is not configured for this session."))
		log.Warn("session rejected, no recognizer key")
		return
	}

	recCfg := c.cfg.Recognizer
	recCfg.APIKey = aaiKey
	rec, err := c.dial(ctx, recCfg)
	if err != nil {
		c.sendNotice(ctx, client, ErrorNotice("Could not reach the speech recognizer."))
		log.Error("recognizer dial failed", zap.Error(err))
		return
	}
	defer rec.Close()

	q := relay.NewQueue(c.cfg.RelayByteBudget)
	defer q.Close()

	// 中继消费者：阻塞出队，逐块递给识别服务
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		for {
			chunk, ok := q.Dequeue()
			if !ok {
				return
			}
			if err := rec.SendAudio(ctx, chunk); err != nil {
				log.Debug("recognizer send failed", zap.Error(err))
				return
			}
			if c.metrics != nil {
				c.metrics.RecordAudioRelayed(len(chunk))
			}
		}
	}()

	// 事件泵：识别事件 → 下行消息与回合处理
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		c.pumpEvents(ctx, sessionID, resolved, rec, client, log)
	}()

	// 入站循环：二进制帧进队列，文本帧是控制消息
	c.readLoop(ctx, wsConn, q, rec, client, log)

	// 停止接收后给识别服务一点时间送完尾部事件
	q.Close()
	select {
	case <-pumpDone:
	case <-time.After(c.cfg.DrainTimeout):
		log.Debug("recognizer drain timed out")
	}
	rec.Close()
	<-relayDone

	c.turns.ForgetSession(sessionID)
	c.registry.ClearSessionRuntime(sessionID)
	log.Info("voice session closed",
		zap.Int64("chunks_accepted", q.Accepted()),
		zap.Int64("chunks_dropped", q.Dropped()))
}

// readLoop 读取客户端上行消息直到连接关闭
func (c *Coordinator) readLoop(
	ctx context.Context,
	wsConn *websocket.Conn,
	q *relay.Queue,
	rec Recognizer,
	client ClientConn,
	log *zap.Logger,
) {
	for {
		msgType, data, err := wsConn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				log.Debug("client read ended", zap.Error(err))
			}
			return
		}

		switch msgType {
		case websocket.MessageBinary:
			if !q.Enqueue(data) {
				if c.metrics != nil {
					c.metrics.RecordAudioDropped()
				}
			}

		case websocket.MessageText:
			text := strings.TrimSpace(string(data))
			if strings.EqualFold(text, StopSentinel) {
				log.Info("stop requested by client")
				if err := rec.Terminate(ctx); err != nil {
					log.Debug("recognizer terminate failed", zap.Error(err))
				}
				return
			}
			c.sendNotice(ctx, client, EchoNotice(text))
		}
	}
}

// pumpEvents 消费识别事件流直到其关闭
func (c *Coordinator) pumpEvents(ctx context.Context, sessionID, persona string, rec Recognizer, client ClientConn, log *zap.Logger) {
	// 识别服务会对同一轮重复推送最终转写，按文本去重
	seen := make(map[string]bool)

	for ev := range rec.Events() {
		switch ev.Type {
		case speech.EventBegin:
			log.Info("recognition stream began",
				zap.String("upstream_id", ev.SessionID),
				zap.String("persona", persona))
			c.sendNotice(ctx, client, InfoNotice(fmt.Sprintf("recognizer ready, persona: %s", persona)))

		case speech.EventTurn:
			text := strings.TrimSpace(ev.Transcript)
			if text == "" {
				continue
			}
			// 只消费整理过的最终转写
			if !ev.EndOfTurn || !ev.Formatted {
				continue
			}
			if seen[text] {
				continue
			}
			seen[text] = true

			log.Info("final transcript", zap.String("text", text))
			c.sendNotice(ctx, client, TranscriptNotice(text, true))

			if c.cfg.AutoReply {
				go c.turns.Process(ctx, sessionID, text, client)
			}

		case speech.EventTermination:
			log.Info("recognition stream terminated", zap.Duration("audio", ev.AudioDuration))
			c.sendNotice(ctx, client, InfoNotice("recognizer finished"))

		case speech.EventError:
			log.Warn("recognition stream error", zap.Error(ev.Err))
			c.sendNotice(ctx, client, ErrorNotice("Speech recognition connection lost."))
		}
	}
}

func (c *Coordinator) sendNotice(ctx context.Context, client ClientConn, n Notice) {
	if err := client.Send(ctx, n); err != nil {
		if c.metrics != nil {
			c.metrics.RecordNoticeSendFailure()
		}
	}
}
