package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// =============================================================================
// 🔊 流式语音合成
// =============================================================================

// ErrMissingAPIKey 未提供合成服务密钥
var ErrMissingAPIKey = errors.New("synthesizer: missing API key")

// SynthesizerConfig 合成流参数
type SynthesizerConfig struct {
	// WSURL 流式端点
	WSURL string

	// ContextID 把一串合成请求归入同一逻辑音频流
	ContextID string

	// SampleRate 输出采样率（Hz）
	SampleRate int

	// ChannelType 声道模式，如 MONO
	ChannelType string

	// Format 容器格式，如 WAV
	Format string

	// Voice 声音参数
	Voice VoiceConfig

	// SendTimeout 单次发送超时
	SendTimeout time.Duration

	// RecvTimeout 单次接收超时。超时视为服务端已送完，循环正常结束。
	RecvTimeout time.Duration
}

// VoiceConfig 声音参数
type VoiceConfig struct {
	VoiceID   string `json:"voiceId"`
	Style     string `json:"style"`
	Rate      int    `json:"rate"`
	Pitch     int    `json:"pitch"`
	Variation int    `json:"variation"`
}

// Synthesizer 流式语音合成客户端。
// 每次 Stream 调用建立一条独立连接，合成一段文本后关闭。
type Synthesizer struct {
	cfg    SynthesizerConfig
	logger *zap.Logger
}

// NewSynthesizer 创建合成客户端
func NewSynthesizer(cfg SynthesizerConfig, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "synthesizer")),
	}
}

// synthesisFrame 合成服务下行消息
type synthesisFrame struct {
	Audio string `json:"audio"`
	Final bool   `json:"final"`
}

// Stream 把一段文本合成为音频块序列。
//
// onStart 在声音参数发送成功后回调一次（连接失败时不回调）；
// onChunk 对每个解码出的音频块回调一次。回调在本调用的 goroutine 内同步执行。
// 返回成功交付的块数。
func (s *Synthesizer) Stream(ctx context.Context, apiKey, text string, onStart func(), onChunk func(SynthesisChunk)) (int, error) {
	if apiKey == "" {
		return 0, ErrMissingAPIKey
	}
	if text == "" {
		return 0, nil
	}

	endpoint, err := s.buildURL(apiKey)
	if err != nil {
		return 0, fmt.Errorf("synthesizer: invalid endpoint: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("synthesizer: dial failed: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "synthesis done")

	conn.SetReadLimit(1 << 22)

	// 1. 声音参数
	if err := s.send(ctx, conn, map[string]any{"voice_config": s.cfg.Voice}); err != nil {
		return 0, fmt.Errorf("synthesizer: voice config send failed: %w", err)
	}

	if onStart != nil {
		onStart()
	}

	// 2. 待合成文本
	if err := s.send(ctx, conn, map[string]any{"text": text}); err != nil {
		return 0, fmt.Errorf("synthesizer: text send failed: %w", err)
	}

	// 3. 读取音频块直到 final 或接收超时
	count := 0
	for {
		recvCtx, cancel := context.WithTimeout(ctx, s.cfg.RecvTimeout)
		_, data, err := conn.Read(recvCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				// 服务端不总是标记 final，静默超时视为送完
				s.logger.Debug("synthesis recv timeout, assuming stream complete",
					zap.Int("chunks", count))
				break
			}
			if ctx.Err() != nil {
				return count, ctx.Err()
			}
			return count, fmt.Errorf("synthesizer: read failed: %w", err)
		}

		var frame synthesisFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("synthesizer sent undecodable frame", zap.Error(err))
			continue
		}

		if frame.Audio != "" {
			audio, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err != nil {
				s.logger.Warn("synthesizer sent invalid base64 audio", zap.Error(err))
				continue
			}
			if onChunk != nil {
				onChunk(SynthesisChunk{Audio: audio, Index: count, Final: frame.Final})
			}
			count++
		}

		if frame.Final {
			break
		}
	}

	// 4. 尽力告知服务端本段结束，失败不影响结果
	_ = s.send(ctx, conn, map[string]any{"end": true})

	return count, nil
}

// buildURL 拼接带鉴权与音频参数的端点
func (s *Synthesizer) buildURL(apiKey string) (string, error) {
	u, err := url.Parse(s.cfg.WSURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("api-key", apiKey)
	q.Set("sample_rate", strconv.Itoa(s.cfg.SampleRate))
	q.Set("channel_type", s.cfg.ChannelType)
	q.Set("format", s.cfg.Format)
	q.Set("context_id", s.cfg.ContextID)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// send 带超时的 JSON 发送
func (s *Synthesizer) send(ctx context.Context, conn *websocket.Conn, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	return conn.Write(sendCtx, websocket.MessageText, data)
}
