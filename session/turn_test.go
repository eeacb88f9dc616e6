package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/lumeai/llm"
	"github.com/BaSui01/lumeai/skills"
	"github.com/BaSui01/lumeai/speech"
)

// captureConn 收集全部下行消息
type captureConn struct {
	mu      sync.Mutex
	notices []Notice
}

func (c *captureConn) Send(_ context.Context, n Notice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = append(c.notices, n)
	return nil
}

func (c *captureConn) byType(t NoticeType) []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Notice
	for _, n := range c.notices {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

// stubProvider 返回固定的增量序列
type stubProvider struct {
	mu      sync.Mutex
	deltas  []string
	failure *llm.Error
	prompts []string
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Completion(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if p.failure != nil {
		return nil, p.failure
	}
	var content string
	for _, d := range p.deltas {
		content += d
	}
	return &llm.ChatResponse{Provider: "stub", Content: content}, nil
}

func (p *stubProvider) Stream(_ context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, req.Prompt)
	p.mu.Unlock()

	if p.failure != nil {
		return nil, p.failure
	}
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for _, d := range p.deltas {
			ch <- llm.StreamChunk{Provider: "stub", Delta: d}
		}
		ch <- llm.StreamChunk{Provider: "stub", FinishReason: "STOP"}
	}()
	return ch, nil
}

func (p *stubProvider) lastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.prompts) == 0 {
		return ""
	}
	return p.prompts[len(p.prompts)-1]
}

// stubExecutor 技能执行桩
type stubExecutor struct {
	reply string
	err   error
	calls []*skills.Intent
}

func (e *stubExecutor) Execute(_ context.Context, intent *skills.Intent, _ skills.Keys) (string, error) {
	e.calls = append(e.calls, intent)
	return e.reply, e.err
}

// stubSynth 合成桩
type stubSynth struct {
	chunks [][]byte
	err    error
	texts  []string
}

func (s *stubSynth) Stream(_ context.Context, apiKey, text string, onStart func(), onChunk func(speech.SynthesisChunk)) (int, error) {
	s.texts = append(s.texts, text)
	if s.err != nil {
		return 0, s.err
	}
	if onStart != nil {
		onStart()
	}
	for i, chunk := range s.chunks {
		if onChunk != nil {
			onChunk(speech.SynthesisChunk{Audio: chunk, Index: i, Final: i == len(s.chunks)-1})
		}
	}
	return len(s.chunks), nil
}

func newTestProcessor(provider llm.Provider, executor SkillExecutor, synth SpeechStreamer, murfKey string) (*TurnProcessor, *Registry) {
	registry := NewRegistry(zap.NewNop())
	p := NewTurnProcessor(
		TurnProcessorConfig{Timeout: 10 * time.Second, DefaultMurfKey: murfKey},
		registry,
		provider,
		skills.NewClassifier(),
		executor,
		synth,
		nil,
		zap.NewNop(),
	)
	return p, registry
}

func TestProcessSkillTurn(t *testing.T) {
	executor := &stubExecutor{reply: "Weather in London, UK: 14.0°C, Cloudy"}
	synth := &stubSynth{chunks: [][]byte{[]byte("audio-1"), []byte("audio-2")}}
	p, registry := newTestProcessor(&stubProvider{}, executor, synth, "murf-key")

	conn := &captureConn{}
	p.Process(context.Background(), "s1", "what's the weather in London", conn)

	// 技能命中，不走 LLM
	require.Len(t, executor.calls, 1)
	assert.Equal(t, skills.IntentWeather, executor.calls[0].Name)

	responses := conn.byType(NoticeLLMResponse)
	require.Len(t, responses, 1)
	assert.Equal(t, SourceSkill, responses[0].Source)
	assert.Equal(t, executor.reply, responses[0].Text)
	assert.Empty(t, conn.byType(NoticeLLMChunk))

	// 历史记录了双方发言
	h := registry.History("s1")
	require.Len(t, h, 2)
	assert.Equal(t, "user", h[0].Role)
	assert.Equal(t, "assistant", h[1].Role)
	assert.Equal(t, executor.reply, h[1].Text)

	// 合成音频按块下发
	require.Len(t, conn.byType(NoticeAudioStart), 1)
	audioChunks := conn.byType(NoticeAudioChunk)
	require.Len(t, audioChunks, 2)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("audio-1")), audioChunks[0].Audio)
	assert.False(t, audioChunks[0].Final)
	assert.True(t, audioChunks[1].Final)
	completes := conn.byType(NoticeAudioComplete)
	require.Len(t, completes, 1)
	assert.Equal(t, 2, completes[0].Chunks)
}

func TestProcessLLMTurn(t *testing.T) {
	provider := &stubProvider{deltas: []string{"Dragons are ", "mythical creatures."}}
	p, registry := newTestProcessor(provider, &stubExecutor{}, nil, "")

	conn := &captureConn{}
	registry.SetPersona("s1", "pirate")
	p.Process(context.Background(), "s1", "tell me a story about dragons", conn)

	chunks := conn.byType(NoticeLLMChunk)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Dragons are ", chunks[0].Delta)

	responses := conn.byType(NoticeLLMResponse)
	require.Len(t, responses, 1)
	assert.Equal(t, SourceLLM, responses[0].Source)
	assert.Equal(t, "Dragons are mythical creatures.", responses[0].Text)

	// 提示词包含人格、历史与续写引导
	prompt := provider.lastPrompt()
	assert.Contains(t, prompt, "Pirate")
	assert.Contains(t, prompt, "Human: tell me a story about dragons\n")
	assert.True(t, len(prompt) > 0 && prompt[len(prompt)-len("Assistant: "):] == "Assistant: ")
}

func TestProcessSkillFailureFallsThroughToLLM(t *testing.T) {
	executor := &stubExecutor{err: fmt.Errorf("upstream unreachable")}
	provider := &stubProvider{deltas: []string{"It is sunny."}}
	p, _ := newTestProcessor(provider, executor, nil, "")

	conn := &captureConn{}
	p.Process(context.Background(), "s1", "what's the weather in London", conn)

	require.Len(t, executor.calls, 1)
	responses := conn.byType(NoticeLLMResponse)
	require.Len(t, responses, 1)
	assert.Equal(t, SourceLLM, responses[0].Source)
	assert.Equal(t, "It is sunny.", responses[0].Text)
}

func TestProcessLLMFailureSendsFallback(t *testing.T) {
	provider := &stubProvider{failure: &llm.Error{
		Code:       llm.ErrUnauthorized,
		Message:    "no API key",
		HTTPStatus: http.StatusUnauthorized,
	}}
	p, registry := newTestProcessor(provider, &stubExecutor{}, nil, "")

	conn := &captureConn{}
	p.Process(context.Background(), "s1", "tell me something", conn)

	require.Len(t, conn.byType(NoticeError), 1)

	responses := conn.byType(NoticeLLMResponse)
	require.Len(t, responses, 1)
	assert.Equal(t, "I'm having trouble connecting right now.", responses[0].Text)

	h := registry.History("s1")
	require.Len(t, h, 2)
	assert.Equal(t, "I'm having trouble connecting right now.", h[1].Text)
}

func TestProcessSynthesisFailureEmitsAudioError(t *testing.T) {
	provider := &stubProvider{deltas: []string{"hello"}}
	synth := &stubSynth{err: fmt.Errorf("dial failed")}
	p, _ := newTestProcessor(provider, &stubExecutor{}, synth, "murf-key")

	conn := &captureConn{}
	p.Process(context.Background(), "s1", "say something", conn)

	require.Len(t, conn.byType(NoticeAudioError), 1)
	assert.Empty(t, conn.byType(NoticeAudioComplete))
}

func TestProcessMissingSynthKeyEmitsAudioError(t *testing.T) {
	provider := &stubProvider{deltas: []string{"hello"}}
	synth := &stubSynth{chunks: [][]byte{[]byte("x")}}
	p, _ := newTestProcessor(provider, &stubExecutor{}, synth, "")

	conn := &captureConn{}
	p.Process(context.Background(), "s1", "say something", conn)

	// 不尝试建合成连接，直接告知客户端音频不可用
	assert.Empty(t, synth.texts)
	assert.Empty(t, conn.byType(NoticeAudioStart))
	errs := conn.byType(NoticeAudioError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "not configured")
}

// blockingExecutor 卡在执行中的技能桩，用于观察回合持有槽位期间的行为
type blockingExecutor struct {
	started chan struct{}
	release chan struct{}
	reply   string
}

func (e *blockingExecutor) Execute(ctx context.Context, _ *skills.Intent, _ skills.Keys) (string, error) {
	e.started <- struct{}{}
	select {
	case <-e.release:
	case <-ctx.Done():
	}
	return e.reply, nil
}

func TestForgetSessionKeepsSlotWhileTurnInFlight(t *testing.T) {
	executor := &blockingExecutor{
		started: make(chan struct{}, 4),
		release: make(chan struct{}),
		reply:   "done",
	}
	p, _ := newTestProcessor(&stubProvider{}, executor, nil, "")

	conn := &captureConn{}
	go p.Process(context.Background(), "s1", "what's the weather in London", conn)
	<-executor.started

	// 在途回合占着槽位，遗忘不移除
	p.ForgetSession("s1")
	_, ok := p.slots.Load("s1")
	assert.True(t, ok)

	// 同名会话重连后的回合仍与在途回合串行
	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		p.Process(context.Background(), "s1", "what's the weather in Paris", conn)
	}()
	select {
	case <-secondDone:
		t.Fatal("second turn finished while the first still held the slot")
	case <-time.After(100 * time.Millisecond):
	}

	close(executor.release)
	select {
	case <-secondDone:
	case <-time.After(2 * time.Second):
		t.Fatal("second turn never finished")
	}

	// 空闲后遗忘才移除槽位
	p.ForgetSession("s1")
	_, ok = p.slots.Load("s1")
	assert.False(t, ok)
}

func TestProcessEmptyTranscriptIsNoop(t *testing.T) {
	provider := &stubProvider{deltas: []string{"x"}}
	p, registry := newTestProcessor(provider, &stubExecutor{}, nil, "")

	conn := &captureConn{}
	p.Process(context.Background(), "s1", "   ", conn)

	assert.Empty(t, conn.notices)
	assert.Nil(t, registry.History("s1"))
}

func TestProcessHistoryWindowInPrompt(t *testing.T) {
	provider := &stubProvider{deltas: []string{"ok"}}
	p, registry := newTestProcessor(provider, &stubExecutor{}, nil, "")

	for i := 0; i < 10; i++ {
		registry.AppendTurn("s1", "user", fmt.Sprintf("question %d", i))
		registry.AppendTurn("s1", "assistant", fmt.Sprintf("answer %d", i))
	}

	conn := &captureConn{}
	p.Process(context.Background(), "s1", "latest question", conn)

	prompt := provider.lastPrompt()
	// 窗口里只有最近 12 条发言
	assert.NotContains(t, prompt, "question 0")
	assert.NotContains(t, prompt, "question 4")
	assert.Contains(t, prompt, "answer 9")
	assert.Contains(t, prompt, "Human: latest question")
}
