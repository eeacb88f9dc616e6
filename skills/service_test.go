package skills

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/lumeai/internal/cache"
)

func newTestService(t *testing.T, cfg ServiceConfig, c cache.Cache) *Service {
	t.Helper()
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return NewService(cfg, c, zap.NewNop())
}

func TestExecuteWeather(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "weather-key", q.Get("key"))
		assert.Equal(t, "London", q.Get("q"))
		assert.Equal(t, "no", q.Get("aqi"))

		json.NewEncoder(w).Encode(map[string]any{
			"location": map[string]any{"name": "London", "country": "United Kingdom"},
			"current": map[string]any{
				"temp_c":    14.0,
				"condition": map[string]any{"text": "Partly cloudy"},
			},
		})
	}))
	defer srv.Close()

	s := newTestService(t, ServiceConfig{
		Keys:       Keys{Weather: "weather-key"},
		WeatherURL: srv.URL,
	}, nil)

	reply, err := s.Execute(context.Background(), &Intent{Name: IntentWeather, Arg: "London"}, Keys{})
	require.NoError(t, err)
	assert.Equal(t, "Weather in London, United Kingdom: 14.0°C, Partly cloudy", reply)
}

func TestExecuteWeather_BadCityIsApologyNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "No matching location"}})
	}))
	defer srv.Close()

	s := newTestService(t, ServiceConfig{
		Keys:       Keys{Weather: "weather-key"},
		WeatherURL: srv.URL,
	}, nil)

	reply, err := s.Execute(context.Background(), &Intent{Name: IntentWeather, Arg: "Nowhereville"}, Keys{})
	require.NoError(t, err)
	assert.Contains(t, reply, "couldn't get weather for Nowhereville")
}

func TestExecuteWeather_MissingKey(t *testing.T) {
	s := newTestService(t, ServiceConfig{WeatherURL: "http://localhost:1"}, nil)

	reply, err := s.Execute(context.Background(), &Intent{Name: IntentWeather, Arg: "Paris"}, Keys{})
	require.NoError(t, err)
	assert.Contains(t, reply, "couldn't get weather for Paris")
}

func TestExecuteWeather_SessionKeyOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "session-key", r.URL.Query().Get("key"))
		json.NewEncoder(w).Encode(map[string]any{
			"location": map[string]any{"name": "Paris", "country": "France"},
			"current":  map[string]any{"temp_c": 20.0, "condition": map[string]any{"text": "Sunny"}},
		})
	}))
	defer srv.Close()

	s := newTestService(t, ServiceConfig{
		Keys:       Keys{Weather: "default-key"},
		WeatherURL: srv.URL,
	}, nil)

	_, err := s.Execute(context.Background(), &Intent{Name: IntentWeather, Arg: "Paris"}, Keys{Weather: "session-key"})
	require.NoError(t, err)
}

func TestExecuteNews(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "news-key", q.Get("apiKey"))
		assert.Equal(t, "technology", q.Get("category"))
		assert.Equal(t, "us", q.Get("country"))

		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"articles": []map[string]any{
				{"title": "Chips get faster", "source": map[string]any{"name": "TechWire"}},
				{"title": "New language released", "source": map[string]any{"name": "DevDaily"}},
			},
		})
	}))
	defer srv.Close()

	s := newTestService(t, ServiceConfig{
		Keys:    Keys{News: "news-key"},
		NewsURL: srv.URL,
	}, nil)

	reply, err := s.Execute(context.Background(), &Intent{Name: IntentNews, Arg: "technology"}, Keys{})
	require.NoError(t, err)
	assert.Contains(t, reply, "Latest technology headlines:")
	assert.Contains(t, reply, "• Chips get faster (TechWire)")
	assert.Contains(t, reply, "• New language released (DevDaily)")
}

func TestExecuteNews_FreeTextTopicUsesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "bitcoin", q.Get("q"))
		assert.Empty(t, q.Get("category"))
		json.NewEncoder(w).Encode(map[string]any{"status": "ok", "articles": []map[string]any{
			{"title": "Bitcoin news", "source": map[string]any{"name": "CoinDesk"}},
		}})
	}))
	defer srv.Close()

	s := newTestService(t, ServiceConfig{Keys: Keys{News: "news-key"}, NewsURL: srv.URL}, nil)

	_, err := s.Execute(context.Background(), &Intent{Name: IntentNews, Arg: "bitcoin"}, Keys{})
	require.NoError(t, err)
}

func TestExecuteMovies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "tmdb-key", q.Get("api_key"))
		assert.Equal(t, "batman", q.Get("query"))

		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"title": "Batman Begins", "release_date": "2005-06-15", "vote_average": 7.7},
			},
		})
	}))
	defer srv.Close()

	s := newTestService(t, ServiceConfig{
		Keys:    Keys{TMDB: "tmdb-key"},
		TMDBURL: srv.URL,
	}, nil)

	reply, err := s.Execute(context.Background(), &Intent{Name: IntentMovies, Arg: "batman"}, Keys{})
	require.NoError(t, err)
	assert.Contains(t, reply, "Movies about 'batman':")
	assert.Contains(t, reply, "• Batman Begins (2005) - 7.7/10")
}

func TestExecuteAnime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "one piece", q.Get("q"))
		assert.Equal(t, "score", q.Get("order_by"))

		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"title": "One Piece", "episodes": 1000, "score": 8.7},
			},
		})
	}))
	defer srv.Close()

	s := newTestService(t, ServiceConfig{JikanURL: srv.URL}, nil)

	reply, err := s.Execute(context.Background(), &Intent{Name: IntentAnime, Arg: "one piece"}, Keys{})
	require.NoError(t, err)
	assert.Contains(t, reply, "Anime results for 'one piece':")
	assert.Contains(t, reply, "• One Piece - Score: 8.7/10 (1000 eps)")
}

func TestExecuteQuote_FallsBackOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := newTestService(t, ServiceConfig{QuoteURL: srv.URL}, nil)

	reply, err := s.Execute(context.Background(), &Intent{Name: IntentQuote, Arg: "motivational"}, Keys{})
	require.NoError(t, err)
	assert.NotEmpty(t, reply)
	assert.Contains(t, reply, " - ")
}

func TestExecuteQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quotes/success", r.URL.Path)
		json.NewEncoder(w).Encode([]map[string]any{
			{"q": "Stay hungry, stay foolish.", "a": "Steve Jobs"},
		})
	}))
	defer srv.Close()

	s := newTestService(t, ServiceConfig{QuoteURL: srv.URL}, nil)

	reply, err := s.Execute(context.Background(), &Intent{Name: IntentQuote, Arg: "success"}, Keys{})
	require.NoError(t, err)
	assert.Equal(t, `"Stay hungry, stay foolish." - Steve Jobs`, reply)
}

func TestExecuteCachesReplies(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"location": map[string]any{"name": "Oslo", "country": "Norway"},
			"current":  map[string]any{"temp_c": 3.0, "condition": map[string]any{"text": "Snow"}},
		})
	}))
	defer srv.Close()

	mr := miniredis.RunT(t)
	c := cache.NewRedis(mr.Addr(), "", 0, zap.NewNop())
	defer c.Close()

	s := newTestService(t, ServiceConfig{
		Keys:       Keys{Weather: "weather-key"},
		WeatherURL: srv.URL,
		CacheTTL:   time.Minute,
	}, c)

	intent := &Intent{Name: IntentWeather, Arg: "Oslo"}
	first, err := s.Execute(context.Background(), intent, Keys{})
	require.NoError(t, err)
	second, err := s.Execute(context.Background(), intent, Keys{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), hits.Load())
}

func TestExecuteNetworkFailureIsError(t *testing.T) {
	s := newTestService(t, ServiceConfig{
		Keys:       Keys{Weather: "weather-key"},
		WeatherURL: "http://127.0.0.1:1",
		Timeout:    time.Second,
	}, nil)

	_, err := s.Execute(context.Background(), &Intent{Name: IntentWeather, Arg: "London"}, Keys{})
	require.Error(t, err)
}

func TestStatus(t *testing.T) {
	s := newTestService(t, ServiceConfig{Keys: Keys{Weather: "w", TMDB: "t"}}, nil)

	status := s.Status()
	assert.True(t, status["weather"])
	assert.False(t, status["news"])
	assert.True(t, status["movies"])
	assert.True(t, status["anime"])
	assert.True(t, status["quotes"])
}
