package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/lumeai/config"
	"github.com/BaSui01/lumeai/internal/metrics"
	"github.com/BaSui01/lumeai/llm"
	"github.com/BaSui01/lumeai/skills"
	"github.com/BaSui01/lumeai/speech"
)

// =============================================================================
// 💬 回合处理器
// =============================================================================

// HistoryWindow 拼进提示词的最近发言条数
const HistoryWindow = 12

// SpeechStreamer 流式合成抽象，便于测试替换
type SpeechStreamer interface {
	Stream(ctx context.Context, apiKey, text string, onStart func(), onChunk func(speech.SynthesisChunk)) (int, error)
}

// SkillExecutor 技能执行抽象
type SkillExecutor interface {
	Execute(ctx context.Context, intent *skills.Intent, keys skills.Keys) (string, error)
}

// TurnProcessorConfig 回合处理器配置
type TurnProcessorConfig struct {
	// Timeout 单轮处理上限
	Timeout time.Duration

	// DefaultMurfKey 进程级合成密钥，会话凭据为空时回落
	DefaultMurfKey string
}

// TurnProcessor 把一段最终转写变成回复。
//
// 流水线：技能意图优先，未命中走 LLM 流式生成，有合成密钥时再把
// 回复转成音频块推回客户端。同一会话的回合串行执行，不同会话互不阻塞。
type TurnProcessor struct {
	cfg        TurnProcessorConfig
	registry   *Registry
	provider   llm.Provider
	classifier *skills.Classifier
	skills     SkillExecutor
	synth      SpeechStreamer
	metrics    *metrics.Collector
	logger     *zap.Logger

	// 每会话一个容量 1 的信号量，串行化回合处理
	slots sync.Map
}

// NewTurnProcessor 创建回合处理器
func NewTurnProcessor(
	cfg TurnProcessorConfig,
	registry *Registry,
	provider llm.Provider,
	classifier *skills.Classifier,
	executor SkillExecutor,
	synth SpeechStreamer,
	collector *metrics.Collector,
	logger *zap.Logger,
) *TurnProcessor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TurnProcessor{
		cfg:        cfg,
		registry:   registry,
		provider:   provider,
		classifier: classifier,
		skills:     executor,
		synth:      synth,
		metrics:    collector,
		logger:     logger.With(zap.String("component", "turn_processor")),
	}
}

func (p *TurnProcessor) slot(sessionID string) *semaphore.Weighted {
	v, _ := p.slots.LoadOrStore(sessionID, semaphore.NewWeighted(1))
	return v.(*semaphore.Weighted)
}

// Process 处理一段最终转写并把回复推给 conn。
// 同一会话并发到达的转写按获取信号量的顺序依次处理。
func (p *TurnProcessor) Process(ctx context.Context, sessionID, transcript string, conn ClientConn) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return
	}

	slot := p.slot(sessionID)
	if err := slot.Acquire(ctx, 1); err != nil {
		return
	}
	defer slot.Release(1)

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	log := p.logger.With(zap.String("session_id", sessionID))

	p.registry.AppendTurn(sessionID, "user", transcript)
	creds := p.registry.Credentials(sessionID)

	// 1. 技能优先
	if intent := p.classifier.Detect(transcript); intent != nil {
		reply, err := p.skills.Execute(ctx, intent, skills.Keys{
			Weather: creds.Weather,
			News:    creds.News,
			TMDB:    creds.TMDB,
		})
		if err == nil {
			log.Info("turn answered by skill",
				zap.String("skill", intent.Name),
				zap.Duration("elapsed", time.Since(start)))
			p.finishTurn(ctx, sessionID, reply, SourceSkill, creds, conn)
			if p.metrics != nil {
				p.metrics.RecordTurn(SourceSkill, "ok", time.Since(start))
			}
			return
		}
		// 技能彻底失败不终结回合，交给 LLM 继续
		log.Warn("skill execution failed, falling back to llm",
			zap.String("skill", intent.Name),
			zap.Error(err))
	}

	// 2. LLM 生成
	reply, err := p.generate(ctx, sessionID, creds, conn)
	if err != nil {
		log.Error("llm generation failed", zap.Error(err))
		p.send(ctx, conn, ErrorNotice("Assistant reply failed, please try again."))
		p.finishTurn(ctx, sessionID, config.FallbackText, SourceLLM, Credentials{}, conn)
		if p.metrics != nil {
			p.metrics.RecordTurn(SourceLLM, "error", time.Since(start))
		}
		return
	}

	log.Info("turn answered by llm",
		zap.Int("reply_len", len(reply)),
		zap.Duration("elapsed", time.Since(start)))
	p.finishTurn(ctx, sessionID, reply, SourceLLM, creds, conn)
	if p.metrics != nil {
		p.metrics.RecordTurn(SourceLLM, "ok", time.Since(start))
	}
}

// generate 拼提示词并流式生成回复，增量块实时下发。
func (p *TurnProcessor) generate(ctx context.Context, sessionID string, creds Credentials, conn ClientConn) (string, error) {
	prompt := BuildPrompt(p.registry, sessionID)

	llmCtx := llm.WithCredentialOverride(ctx, llm.CredentialOverride{APIKey: creds.Gemini})
	ch, err := p.provider.Stream(llmCtx, &llm.ChatRequest{Prompt: prompt})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			if sb.Len() == 0 {
				return "", chunk.Err
			}
			// 已有部分内容，用截断的回复收尾
			p.logger.Warn("llm stream broke mid-reply",
				zap.String("session_id", sessionID),
				zap.Error(chunk.Err))
			break
		}
		if chunk.Delta == "" {
			continue
		}
		sb.WriteString(chunk.Delta)
		p.send(ctx, conn, LLMChunkNotice(chunk.Delta))
	}

	reply := strings.TrimSpace(sb.String())
	if reply == "" {
		return "", fmt.Errorf("llm returned empty reply")
	}
	return reply, nil
}

// BuildPrompt 人格提示词 + 最近历史 + 续写引导
func BuildPrompt(registry *Registry, sessionID string) string {
	personaPrompt, _ := registry.Persona(sessionID)

	var sb strings.Builder
	sb.WriteString(personaPrompt)
	sb.WriteString("\n\n")

	for _, turn := range registry.RecentTurns(sessionID, HistoryWindow) {
		switch turn.Role {
		case "user":
			sb.WriteString("Human: ")
		default:
			sb.WriteString("Assistant: ")
		}
		sb.WriteString(turn.Text)
		sb.WriteString("\n")
	}
	sb.WriteString("Assistant: ")

	return sb.String()
}

// finishTurn 记录回复、下发最终文本、按需合成音频。
func (p *TurnProcessor) finishTurn(ctx context.Context, sessionID, reply, source string, creds Credentials, conn ClientConn) {
	p.registry.AppendTurn(sessionID, "assistant", reply)
	p.send(ctx, conn, LLMResponseNotice(reply, source))
	p.speak(ctx, sessionID, reply, creds, conn)
}

// speak 把回复合成为音频块下发。
// 没有合成密钥时不建连接，直接告知客户端音频不可用。
func (p *TurnProcessor) speak(ctx context.Context, sessionID, text string, creds Credentials, conn ClientConn) {
	apiKey := creds.Murf
	if apiKey == "" {
		apiKey = p.cfg.DefaultMurfKey
	}
	if apiKey == "" || p.synth == nil {
		p.send(ctx, conn, AudioErrorNotice("Speech synthesis is not configured for this session."))
		return
	}

	count, err := p.synth.Stream(ctx, apiKey, text,
		func() {
			p.send(ctx, conn, AudioStartNotice())
		},
		func(chunk speech.SynthesisChunk) {
			p.send(ctx, conn, AudioChunkNotice(base64.StdEncoding.EncodeToString(chunk.Audio), chunk.Index, chunk.Final))
		},
	)
	if err != nil {
		p.logger.Warn("speech synthesis failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		p.send(ctx, conn, AudioErrorNotice("Audio synthesis failed."))
		if p.metrics != nil {
			p.metrics.RecordSynthesisError()
		}
		return
	}

	p.send(ctx, conn, AudioCompleteNotice(count))
	if p.metrics != nil {
		p.metrics.RecordSynthesisChunks(count)
	}
}

// send 下发消息，失败只记录不中断回合
func (p *TurnProcessor) send(ctx context.Context, conn ClientConn, n Notice) {
	if conn == nil {
		return
	}
	if err := conn.Send(ctx, n); err != nil {
		p.logger.Debug("notice send failed",
			zap.String("type", string(n.Type)),
			zap.Error(err))
		if p.metrics != nil {
			p.metrics.RecordNoticeSendFailure()
		}
	}
}

// ForgetSession 丢弃会话的串行化信号量。
// 槽位仍被在途回合占用时保留，同名会话重连会复用同一信号量，
// 新旧回合不会交错执行。
func (p *TurnProcessor) ForgetSession(sessionID string) {
	v, ok := p.slots.Load(sessionID)
	if !ok {
		return
	}
	slot := v.(*semaphore.Weighted)
	if !slot.TryAcquire(1) {
		return
	}
	p.slots.Delete(sessionID)
	slot.Release(1)
}
