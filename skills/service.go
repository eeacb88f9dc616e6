package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/lumeai/internal/cache"
)

// =============================================================================
// 🛠️ 技能服务
// =============================================================================

// Keys 各技能的 API Key。
// anime 与 quote 走公共 API，不需要 Key。
type Keys struct {
	Weather string
	News    string
	TMDB    string
}

// ServiceConfig 技能服务配置
type ServiceConfig struct {
	// Keys 进程级默认 Key
	Keys Keys

	// Timeout 单次外部请求超时
	Timeout time.Duration

	// CacheTTL 技能响应缓存 TTL
	CacheTTL time.Duration

	// 端点，留空使用生产地址
	WeatherURL string
	NewsURL    string
	TMDBURL    string
	JikanURL   string
	QuoteURL   string
}

// Service 聚合全部外部技能。
// 动漫搜索的上游限流严格，出站请求经过本地限流器。
type Service struct {
	cfg          ServiceConfig
	client       *http.Client
	cache        cache.Cache
	jikanLimiter *rate.Limiter
	logger       *zap.Logger
}

// NewService 创建技能服务
func NewService(cfg ServiceConfig, c cache.Cache, logger *zap.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 12 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.WeatherURL == "" {
		cfg.WeatherURL = "http://api.weatherapi.com/v1/current.json"
	}
	if cfg.NewsURL == "" {
		cfg.NewsURL = "https://newsapi.org/v2/top-headlines"
	}
	if cfg.TMDBURL == "" {
		cfg.TMDBURL = "https://api.themoviedb.org/3/search/movie"
	}
	if cfg.JikanURL == "" {
		cfg.JikanURL = "https://api.jikan.moe/v4/anime"
	}
	if cfg.QuoteURL == "" {
		cfg.QuoteURL = "https://zenquotes.io/api"
	}
	if c == nil {
		c = cache.NewMemory()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cache:  c,
		// Jikan 公共 API 约每秒 1 次
		jikanLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
		logger:       logger.With(zap.String("component", "skills")),
	}
}

// Execute 执行意图对应的技能并返回口语化回复。
//
// 语义层面的失败（查无结果、城市不存在、上游拒绝）返回道歉文案而非错误；
// 只有传输层彻底失败才返回 error，调用方据此回落到 LLM。
// keys 覆盖进程默认 Key，会话可携带自己的凭据。
func (s *Service) Execute(ctx context.Context, intent *Intent, keys Keys) (string, error) {
	if intent == nil {
		return "", fmt.Errorf("skills: nil intent")
	}

	effective := s.cfg.Keys
	if keys.Weather != "" {
		effective.Weather = keys.Weather
	}
	if keys.News != "" {
		effective.News = keys.News
	}
	if keys.TMDB != "" {
		effective.TMDB = keys.TMDB
	}

	cacheKey := "skill:" + intent.Name + ":" + strings.ToLower(intent.Arg)
	if reply, ok := s.cache.Get(ctx, cacheKey); ok {
		s.logger.Debug("skill cache hit", zap.String("key", cacheKey))
		return reply, nil
	}

	var (
		reply string
		err   error
	)
	switch intent.Name {
	case IntentWeather:
		reply, err = s.weather(ctx, intent.Arg, effective.Weather)
	case IntentNews:
		reply, err = s.news(ctx, intent.Arg, effective.News)
	case IntentMovies:
		reply, err = s.movies(ctx, intent.Arg, effective.TMDB)
	case IntentAnime:
		reply, err = s.anime(ctx, intent.Arg)
	case IntentQuote:
		reply, err = s.quote(ctx, intent.Arg)
	default:
		return "I'm not sure how to help with that.", nil
	}

	if err != nil {
		return "", err
	}

	s.cache.Set(ctx, cacheKey, reply, s.cfg.CacheTTL)
	return reply, nil
}

// Status 报告各技能是否可用（是否配置了 Key）
func (s *Service) Status() map[string]bool {
	return map[string]bool{
		"weather": s.cfg.Keys.Weather != "",
		"news":    s.cfg.Keys.News != "",
		"movies":  s.cfg.Keys.TMDB != "",
		"anime":   true,
		"quotes":  true,
	}
}

// -----------------------------------------------------------------------------
// weather
// -----------------------------------------------------------------------------

func (s *Service) weather(ctx context.Context, city, key string) (string, error) {
	city = strings.TrimSpace(city)
	if city == "" || key == "" {
		return fmt.Sprintf("Sorry, I couldn't get weather for %s. Please check the city name.", city), nil
	}

	q := url.Values{}
	q.Set("key", key)
	q.Set("q", city)
	q.Set("aqi", "no")

	var out struct {
		Location struct {
			Name    string `json:"name"`
			Country string `json:"country"`
		} `json:"location"`
		Current struct {
			TempC     float64 `json:"temp_c"`
			Condition struct {
				Text string `json:"text"`
			} `json:"condition"`
		} `json:"current"`
	}

	status, err := s.getJSON(ctx, s.cfg.WeatherURL+"?"+q.Encode(), nil, &out)
	if err != nil {
		return "", fmt.Errorf("weather: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Sprintf("Sorry, I couldn't get weather for %s. Please check the city name.", city), nil
	}

	return fmt.Sprintf("Weather in %s, %s: %.1f°C, %s",
		out.Location.Name, out.Location.Country, out.Current.TempC, out.Current.Condition.Text), nil
}

// -----------------------------------------------------------------------------
// news
// -----------------------------------------------------------------------------

var newsCategories = map[string]bool{
	"business": true, "entertainment": true, "general": true,
	"health": true, "science": true, "sports": true, "technology": true,
}

func (s *Service) news(ctx context.Context, topic, key string) (string, error) {
	if key == "" {
		return fmt.Sprintf("Please set NEWS_API_KEY to get %s news.", topic), nil
	}

	q := url.Values{}
	q.Set("apiKey", key)
	q.Set("language", "en")
	q.Set("pageSize", "5")
	if newsCategories[strings.ToLower(topic)] {
		q.Set("category", strings.ToLower(topic))
		q.Set("country", "us")
	} else {
		q.Set("q", topic)
		q.Set("sortBy", "publishedAt")
	}

	var out struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		Articles []struct {
			Title  string `json:"title"`
			Source struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}

	status, err := s.getJSON(ctx, s.cfg.NewsURL+"?"+q.Encode(), nil, &out)
	if err != nil {
		return "", fmt.Errorf("news: %w", err)
	}
	if status != http.StatusOK || out.Status != "ok" {
		return "Couldn't fetch news right now. Please try again later.", nil
	}
	if len(out.Articles) == 0 {
		return fmt.Sprintf("No %s news found. Try: general, business, technology, sports", topic), nil
	}

	lines := make([]string, 0, 3)
	for _, a := range out.Articles {
		if len(lines) == 3 {
			break
		}
		source := a.Source.Name
		if source == "" {
			source = "Unknown"
		}
		lines = append(lines, fmt.Sprintf("• %s (%s)", a.Title, source))
	}
	return fmt.Sprintf("Latest %s headlines:\n%s", topic, strings.Join(lines, "\n")), nil
}

// -----------------------------------------------------------------------------
// movies
// -----------------------------------------------------------------------------

func (s *Service) movies(ctx context.Context, query, key string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" || key == "" {
		return fmt.Sprintf("Sorry, couldn't find movies about '%s'. Try a different search term.", query), nil
	}

	q := url.Values{}
	q.Set("api_key", key)
	q.Set("query", query)
	q.Set("page", "1")
	q.Set("include_adult", "false")

	var out struct {
		Results []struct {
			Title       string  `json:"title"`
			ReleaseDate string  `json:"release_date"`
			VoteAverage float64 `json:"vote_average"`
		} `json:"results"`
	}

	status, err := s.getJSON(ctx, s.cfg.TMDBURL+"?"+q.Encode(), nil, &out)
	if err != nil {
		return "", fmt.Errorf("movies: %w", err)
	}
	if status != http.StatusOK || len(out.Results) == 0 {
		return fmt.Sprintf("Sorry, couldn't find movies about '%s'. Try a different search term.", query), nil
	}

	lines := make([]string, 0, 3)
	for _, m := range out.Results {
		if len(lines) == 3 {
			break
		}
		line := "• " + m.Title
		if len(m.ReleaseDate) >= 4 {
			line += fmt.Sprintf(" (%s)", m.ReleaseDate[:4])
		}
		if m.VoteAverage > 0 {
			line += fmt.Sprintf(" - %.1f/10", m.VoteAverage)
		}
		lines = append(lines, line)
	}
	return fmt.Sprintf("Movies about '%s':\n%s", query, strings.Join(lines, "\n")), nil
}

// -----------------------------------------------------------------------------
// anime
// -----------------------------------------------------------------------------

func (s *Service) anime(ctx context.Context, query string) (string, error) {
	if err := s.jikanLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("anime: %w", err)
	}

	q := url.Values{}
	q.Set("q", strings.TrimSpace(query))
	q.Set("limit", "5")
	q.Set("order_by", "score")
	q.Set("sort", "desc")
	q.Set("status", "complete")

	var out struct {
		Data []struct {
			Title    string  `json:"title"`
			Episodes int     `json:"episodes"`
			Score    float64 `json:"score"`
		} `json:"data"`
	}

	var status int
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		status, err = s.getJSON(ctx, s.cfg.JikanURL+"?"+q.Encode(), nil, &out)
		if err == nil && status != http.StatusTooManyRequests && status < 500 {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt+1) * time.Second):
		}
	}
	if err != nil {
		return "", fmt.Errorf("anime: %w", err)
	}
	if status == http.StatusTooManyRequests {
		return "API rate limited. Please try again later.", nil
	}
	if status != http.StatusOK || len(out.Data) == 0 {
		return fmt.Sprintf("No anime found for '%s'. Try a different search term.", query), nil
	}

	lines := make([]string, 0, 3)
	for _, a := range out.Data {
		if len(lines) == 3 {
			break
		}
		lines = append(lines, fmt.Sprintf("• %s - Score: %.1f/10 (%d eps)", a.Title, a.Score, a.Episodes))
	}
	return fmt.Sprintf("Anime results for '%s':\n%s", query, strings.Join(lines, "\n")), nil
}

// -----------------------------------------------------------------------------
// quote
// -----------------------------------------------------------------------------

var quoteCategories = map[string]bool{
	"motivational": true, "inspirational": true, "success": true, "life": true,
}

var fallbackQuotes = []string{
	`"The only way to do great work is to love what you do." - Steve Jobs`,
	`"Innovation distinguishes between a leader and a follower." - Steve Jobs`,
	`"Success is not final, failure is not fatal: courage to continue counts." - Churchill`,
}

func (s *Service) quote(ctx context.Context, category string) (string, error) {
	endpoint := s.cfg.QuoteURL + "/random"
	if quoteCategories[strings.ToLower(category)] {
		endpoint = s.cfg.QuoteURL + "/quotes/" + strings.ToLower(category)
	}

	var out []struct {
		Q string `json:"q"`
		A string `json:"a"`
	}

	status, err := s.getJSON(ctx, endpoint, nil, &out)
	if err != nil || status != http.StatusOK || len(out) == 0 {
		// 随机端点兜底，再不行用内置名言
		status, err = s.getJSON(ctx, s.cfg.QuoteURL+"/random", nil, &out)
		if err != nil || status != http.StatusOK || len(out) == 0 {
			return fallbackQuotes[int(time.Now().UnixNano())%len(fallbackQuotes)], nil
		}
	}

	author := out[0].A
	if author == "" {
		author = "Unknown"
	}
	return fmt.Sprintf("%q - %s", out[0].Q, author), nil
}

// getJSON 发起 GET 请求并解码 JSON 响应体。
// 非 2xx 也会尝试解码（部分上游在错误时返回结构化 JSON），解码失败不视为错误。
func (s *Service) getJSON(ctx context.Context, rawURL string, headers map[string]string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if decodeErr := json.NewDecoder(resp.Body).Decode(out); decodeErr != nil && resp.StatusCode == http.StatusOK {
		return resp.StatusCode, fmt.Errorf("decode failed: %w", decodeErr)
	}
	return resp.StatusCode, nil
}
