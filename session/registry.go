package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/lumeai/config"
)

// Credentials 一个会话携带的外部服务凭据。
// 空字段回落到进程级默认值。
type Credentials struct {
	AssemblyAI string
	Gemini     string
	Murf       string
	Weather    string
	News       string
	TMDB       string
}

// Turn 对话中的一轮发言
type Turn struct {
	// Role user 或 assistant
	Role string `json:"role"`
	// Text 发言内容
	Text string `json:"text"`
	// At 记录时间
	At time.Time `json:"at"`
}

type sessionState struct {
	turns         []Turn
	personaName   string
	personaPrompt string
	creds         Credentials
}

// Registry 按会话 ID 隔离的内存状态表。
// 历史、人格、凭据都只活在进程内；连接断开历史保留，显式 Reset 才清空。
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	logger   *zap.Logger
}

// NewRegistry 创建会话状态表
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*sessionState),
		logger:   logger.With(zap.String("component", "session_registry")),
	}
}

// get 返回会话状态，不存在则创建。调用方必须持有写锁。
func (r *Registry) get(sessionID string) *sessionState {
	st, ok := r.sessions[sessionID]
	if !ok {
		prompt, name := config.PersonaPrompt(config.DefaultPersona)
		st = &sessionState{personaName: name, personaPrompt: prompt}
		r.sessions[sessionID] = st
	}
	return st
}

// AppendTurn 追加一轮发言
func (r *Registry) AppendTurn(sessionID, role, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.get(sessionID)
	st.turns = append(st.turns, Turn{Role: role, Text: text, At: time.Now()})
}

// History 返回完整历史的副本
func (r *Registry) History(sessionID string) []Turn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]Turn, len(st.turns))
	copy(out, st.turns)
	return out
}

// RecentTurns 返回最近 n 轮发言的副本
func (r *Registry) RecentTurns(sessionID string, n int) []Turn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	turns := st.turns
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// SetPersona 设置会话人格。未识别的名字回退到 default，返回实际生效的名字。
func (r *Registry) SetPersona(sessionID, name string) (resolved string) {
	prompt, resolved := config.PersonaPrompt(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.get(sessionID)
	st.personaName = resolved
	st.personaPrompt = prompt
	if resolved != name {
		r.logger.Warn("unknown persona, falling back to default",
			zap.String("session_id", sessionID),
			zap.String("requested", name))
	}
	return resolved
}

// Persona 返回会话生效的人格提示词与名字。
// 会话不存在时返回默认人格，不创建状态。
func (r *Registry) Persona(sessionID string) (prompt, name string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if st, ok := r.sessions[sessionID]; ok {
		return st.personaPrompt, st.personaName
	}
	return config.PersonaPrompt(config.DefaultPersona)
}

// PersonaName 返回会话人格名，未设置时返回空串（用于调试端点）
func (r *Registry) PersonaName(sessionID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if st, ok := r.sessions[sessionID]; ok {
		return st.personaName
	}
	return ""
}

// SetCredentials 记录会话凭据
func (r *Registry) SetCredentials(sessionID string, creds Credentials) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(sessionID).creds = creds
}

// Credentials 返回会话凭据
func (r *Registry) Credentials(sessionID string) Credentials {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if st, ok := r.sessions[sessionID]; ok {
		return st.creds
	}
	return Credentials{}
}

// ClearSessionRuntime 清除会话的凭据与人格，历史保留到显式 Reset。
// 连接断开时调用，凭据不能比会话活得更久。
func (r *Registry) ClearSessionRuntime(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	if len(st.turns) == 0 {
		delete(r.sessions, sessionID)
		return
	}
	st.creds = Credentials{}
	st.personaPrompt, st.personaName = config.PersonaPrompt(config.DefaultPersona)
}

// Reset 丢弃会话的全部状态，返回是否存在
func (r *Registry) Reset(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	if ok {
		r.logger.Info("session state reset", zap.String("session_id", sessionID))
	}
	return ok
}

// Count 返回已知会话数
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
