package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/lumeai/skills"
	"github.com/BaSui01/lumeai/speech"
)

// fakeRecognizer 脚本化的识别连接：每收到一块音频触发一段预设事件
type fakeRecognizer struct {
	events chan speech.Event
	script [][]speech.Event

	mu         sync.Mutex
	audio      [][]byte
	terminated bool
	closeOnce  sync.Once
}

func newFakeRecognizer(script [][]speech.Event) *fakeRecognizer {
	f := &fakeRecognizer{
		events: make(chan speech.Event, 32),
		script: script,
	}
	f.events <- speech.Event{Type: speech.EventBegin, SessionID: "upstream-1"}
	return f
}

func (f *fakeRecognizer) Events() <-chan speech.Event { return f.events }

func (f *fakeRecognizer) SendAudio(_ context.Context, chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.audio)
	f.audio = append(f.audio, chunk)
	if idx < len(f.script) {
		for _, ev := range f.script[idx] {
			f.events <- ev
		}
	}
	return nil
}

func (f *fakeRecognizer) Terminate(_ context.Context) error {
	f.mu.Lock()
	f.terminated = true
	f.mu.Unlock()
	f.events <- speech.Event{Type: speech.EventTermination, AudioDuration: time.Second}
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeRecognizer) Close() error {
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeRecognizer) wasTerminated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated
}

// testStream 建立到协调器的 websocket 测试连接
func testStream(t *testing.T, coord *Coordinator, query string) (*websocket.Conn, func()) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(coord.HandleStream))

	wsAddr := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)

	conn, _, err := websocket.Dial(ctx, wsAddr, nil)
	require.NoError(t, err)

	return conn, func() {
		conn.Close(websocket.StatusNormalClosure, "")
		srv.Close()
		cancel()
	}
}

// readNotice 读取下一条下行消息
func readNotice(t *testing.T, conn *websocket.Conn) Notice {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var n Notice
	require.NoError(t, json.Unmarshal(data, &n))
	return n
}

// readUntil 读取下行消息直到出现指定类型
func readUntil(t *testing.T, conn *websocket.Conn, want NoticeType) Notice {
	t.Helper()
	for i := 0; i < 20; i++ {
		n := readNotice(t, conn)
		if n.Type == want {
			return n
		}
	}
	t.Fatalf("notice type %q never arrived", want)
	return Notice{}
}

func newTestCoordinator(rec *fakeRecognizer, executor SkillExecutor, autoReply bool) (*Coordinator, *Registry) {
	registry := NewRegistry(zap.NewNop())
	turns := NewTurnProcessor(
		TurnProcessorConfig{Timeout: 10 * time.Second},
		registry,
		&stubProvider{deltas: []string{"llm reply"}},
		skills.NewClassifier(),
		executor,
		nil,
		nil,
		zap.NewNop(),
	)

	dialer := func(_ context.Context, cfg speech.RecognizerConfig) (Recognizer, error) {
		return rec, nil
	}

	coord := NewCoordinator(
		CoordinatorConfig{
			DefaultAssemblyAIKey: "aai-default",
			RelayByteBudget:      1 << 20,
			AutoReply:            autoReply,
			DrainTimeout:         2 * time.Second,
		},
		dialer,
		registry,
		turns,
		nil,
		zap.NewNop(),
	)
	return coord, registry
}

func TestHandleStream_EndToEndSkillTurn(t *testing.T) {
	final := speech.Event{Type: speech.EventTurn, Transcript: "What's the weather in London?", EndOfTurn: true, Formatted: true}
	rec := newFakeRecognizer([][]speech.Event{{
		{Type: speech.EventTurn, Transcript: "what's the weather", EndOfTurn: false, Formatted: false},
		final,
		final, // 识别服务重复推送最终转写
	}})

	executor := &stubExecutor{reply: "Weather in London, UK: 14.0°C, Cloudy"}
	coord, registry := newTestCoordinator(rec, executor, true)

	conn, cleanup := testStream(t, coord, "session_id=e2e&persona=pirate&weather_key=w-key")
	defer cleanup()

	// 建连通知带会话 ID
	n := readNotice(t, conn)
	assert.Equal(t, NoticeInfo, n.Type)
	assert.Equal(t, "e2e", n.SessionID)

	// 识别就绪通知带生效人格
	ready := readUntil(t, conn, NoticeInfo)
	assert.Contains(t, ready.Message, "pirate")

	ctx := context.Background()
	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, []byte{0x01, 0x02}))

	// 中间结果被丢弃，只有最终转写下发，且只下发一次
	tn := readUntil(t, conn, NoticeTranscript)
	assert.Equal(t, "What's the weather in London?", tn.Text)
	assert.True(t, tn.Final)

	resp := readUntil(t, conn, NoticeLLMResponse)
	assert.Equal(t, SourceSkill, resp.Source)
	assert.Equal(t, executor.reply, resp.Text)

	// 人格与凭据在连接时登记
	assert.Equal(t, "pirate", registry.PersonaName("e2e"))
	assert.Equal(t, "w-key", registry.Credentials("e2e").Weather)

	// stop 哨兵触发识别终止
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("stop")))
	readUntil(t, conn, NoticeInfo)
	assert.Eventually(t, rec.wasTerminated, 2*time.Second, 10*time.Millisecond)

	// 会话关闭后凭据与人格清除，历史保留
	assert.Eventually(t, func() bool {
		return registry.Credentials("e2e") == (Credentials{}) && registry.PersonaName("e2e") == "default"
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, registry.History("e2e"))
}

func TestHandleStream_GeneratesSessionID(t *testing.T) {
	rec := newFakeRecognizer(nil)
	coord, _ := newTestCoordinator(rec, &stubExecutor{}, false)

	conn, cleanup := testStream(t, coord, "")
	defer cleanup()

	n := readNotice(t, conn)
	assert.Equal(t, NoticeInfo, n.Type)
	assert.NotEmpty(t, n.SessionID)
}

func TestHandleStream_RejectsWithoutRecognizerKey(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	turns := NewTurnProcessor(TurnProcessorConfig{}, registry, &stubProvider{}, skills.NewClassifier(), &stubExecutor{}, nil, nil, zap.NewNop())

	coord := NewCoordinator(
		CoordinatorConfig{RelayByteBudget: 1 << 20},
		func(_ context.Context, _ speech.RecognizerConfig) (Recognizer, error) {
			t.Fatal("dialer must not be called without a key")
			return nil, nil
		},
		registry, turns, nil, zap.NewNop(),
	)

	conn, cleanup := testStream(t, coord, "")
	defer cleanup()

	readNotice(t, conn) // info
	n := readNotice(t, conn)
	assert.Equal(t, NoticeError, n.Type)
	assert.Contains(t, n.Message, "not configured")
}

func TestHandleStream_EchoesUnknownText(t *testing.T) {
	rec := newFakeRecognizer(nil)
	coord, _ := newTestCoordinator(rec, &stubExecutor{}, false)

	conn, cleanup := testStream(t, coord, "session_id=echo-test")
	defer cleanup()

	readNotice(t, conn) // info

	ctx := context.Background()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("ping")))

	n := readUntil(t, conn, NoticeEcho)
	assert.Equal(t, "ping", n.Message)
}

func TestHandleStream_AutoReplyDisabled(t *testing.T) {
	final := speech.Event{Type: speech.EventTurn, Transcript: "Hello there.", EndOfTurn: true, Formatted: true}
	rec := newFakeRecognizer([][]speech.Event{{final}})

	coord, registry := newTestCoordinator(rec, &stubExecutor{}, false)

	conn, cleanup := testStream(t, coord, "session_id=noauto")
	defer cleanup()

	readNotice(t, conn) // info

	ctx := context.Background()
	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, []byte{0x01}))

	n := readUntil(t, conn, NoticeTranscript)
	assert.Equal(t, "Hello there.", n.Text)

	// 转写照常下发，但不触发回合处理
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, registry.History("noauto"))
}
