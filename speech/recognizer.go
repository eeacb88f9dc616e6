package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// =============================================================================
// 🎤 流式语音识别
// =============================================================================

// RecognizerConfig 识别连接参数
type RecognizerConfig struct {
	// BaseURL WebSocket 端点
	BaseURL string

	// APIKey 鉴权密钥
	APIKey string

	// SampleRate 音频采样率（Hz）
	SampleRate int

	// FormatTurns 是否请求带标点/大小写的最终文本
	FormatTurns bool

	// EndOfTurnConfidenceThreshold 置信断句阈值
	EndOfTurnConfidenceThreshold float64

	// MinEndOfTurnSilenceWhenConfident 高置信时判定断句的最小静音
	MinEndOfTurnSilenceWhenConfident time.Duration

	// MaxTurnSilence 无论置信度如何都判定断句的最大静音
	MaxTurnSilence time.Duration
}

// RecognizerStream 一条已建立的识别连接。
// 音频通过 SendAudio 推入，转写事件从 Events 读出。
// 事件通道在连接终止或出错后关闭。
type RecognizerStream struct {
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex
	events  chan Event

	closeOnce sync.Once
}

// recognizerMessage 识别服务下行消息的统一解码结构
type recognizerMessage struct {
	Type                 string  `json:"type"`
	ID                   string  `json:"id"`
	ExpiresAt            int64   `json:"expires_at"`
	Transcript           string  `json:"transcript"`
	EndOfTurn            bool    `json:"end_of_turn"`
	TurnIsFormatted      bool    `json:"turn_is_formatted"`
	AudioDurationSeconds float64 `json:"audio_duration_seconds"`
	Error                string  `json:"error"`
}

// DialRecognizer 建立识别连接并启动事件读取循环。
// 断句调优参数通过查询字符串原样传给识别服务。
func DialRecognizer(ctx context.Context, cfg RecognizerConfig, logger *zap.Logger) (*RecognizerStream, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("recognizer: missing API key")
	}

	endpoint, err := buildRecognizerURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("recognizer: invalid base URL: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", cfg.APIKey)

	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("recognizer: dial failed: %w", err)
	}

	// 音频帧可以很大，放开读取上限
	conn.SetReadLimit(1 << 22)

	rs := &RecognizerStream{
		conn:   conn,
		logger: logger.With(zap.String("component", "recognizer")),
		events: make(chan Event, 16),
	}

	go rs.readLoop()

	return rs, nil
}

// buildRecognizerURL 拼接带调优参数的端点
func buildRecognizerURL(cfg RecognizerConfig) (string, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("format_turns", strconv.FormatBool(cfg.FormatTurns))
	q.Set("end_of_turn_confidence_threshold", strconv.FormatFloat(cfg.EndOfTurnConfidenceThreshold, 'g', -1, 64))
	q.Set("min_end_of_turn_silence_when_confident", strconv.FormatInt(cfg.MinEndOfTurnSilenceWhenConfident.Milliseconds(), 10))
	q.Set("max_turn_silence", strconv.FormatInt(cfg.MaxTurnSilence.Milliseconds(), 10))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Events 返回转写事件通道。连接终止后通道关闭。
func (rs *RecognizerStream) Events() <-chan Event {
	return rs.events
}

// SendAudio 推送一块原始音频。识别服务按二进制帧接收。
func (rs *RecognizerStream) SendAudio(ctx context.Context, chunk []byte) error {
	rs.writeMu.Lock()
	defer rs.writeMu.Unlock()
	return rs.conn.Write(ctx, websocket.MessageBinary, chunk)
}

// Terminate 请求识别服务优雅终止本会话。
// 服务会在处理完剩余音频后回送 Termination 事件。
func (rs *RecognizerStream) Terminate(ctx context.Context) error {
	rs.writeMu.Lock()
	defer rs.writeMu.Unlock()
	return rs.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"Terminate"}`))
}

// Close 关闭连接。幂等，可在任意时刻调用。
func (rs *RecognizerStream) Close() error {
	rs.closeOnce.Do(func() {
		_ = rs.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// readLoop 持续读取识别服务下行消息并转换为事件。
// 收到 Termination 或任何读取错误后关闭事件通道退出。
func (rs *RecognizerStream) readLoop() {
	defer close(rs.events)

	ctx := context.Background()

	for {
		msgType, data, err := rs.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return
			}
			rs.logger.Debug("recognizer read ended", zap.Error(err))
			rs.events <- Event{Type: EventError, Err: err}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var msg recognizerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			rs.logger.Warn("recognizer sent undecodable message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case "Begin":
			rs.logger.Info("recognizer session began",
				zap.String("session_id", msg.ID),
				zap.Time("expires_at", time.Unix(msg.ExpiresAt, 0)))
			rs.events <- Event{
				Type:      EventBegin,
				SessionID: msg.ID,
				ExpiresAt: time.Unix(msg.ExpiresAt, 0),
			}

		case "Turn":
			rs.events <- Event{
				Type:       EventTurn,
				Transcript: msg.Transcript,
				EndOfTurn:  msg.EndOfTurn,
				Formatted:  msg.TurnIsFormatted,
			}

		case "Termination":
			rs.logger.Info("recognizer session terminated",
				zap.Float64("audio_duration_seconds", msg.AudioDurationSeconds))
			rs.events <- Event{
				Type:          EventTermination,
				AudioDuration: time.Duration(msg.AudioDurationSeconds * float64(time.Second)),
			}
			return

		default:
			rs.logger.Debug("recognizer sent unknown message type", zap.String("type", msg.Type))
		}
	}
}
