package skills

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifierDetect(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		name string
		text string
		want *Intent
	}{
		{"weather with city", "what's the weather in London", &Intent{Name: IntentWeather, Arg: "london"}},
		{"temperature with city", "temperature in tokyo please", &Intent{Name: IntentWeather, Arg: "tokyo"}},
		{"weather keyword only", "is the forecast good today", &Intent{Name: IntentWeather, Arg: "London"}},
		{"news with topic", "any news about bitcoin", &Intent{Name: IntentNews, Arg: "bitcoin"}},
		{"news default topic", "what's happening today", &Intent{Name: IntentNews, Arg: "general"}},
		{"movie search", "find me a movie batman", &Intent{Name: IntentMovies, Arg: "batman"}},
		{"movie default", "I want to watch a film tonight", &Intent{Name: IntentMovies, Arg: "popular"}},
		{"anime search", "search anime one piece", &Intent{Name: IntentAnime, Arg: "one piece"}},
		{"anime default", "recommend me an anime", &Intent{Name: IntentAnime, Arg: "naruto"}},
		{"quote with category", "give me a quote about success", &Intent{Name: IntentQuote, Arg: "success"}},
		{"quote default", "motivate me please", &Intent{Name: IntentQuote, Arg: "motivational"}},
		{"no intent", "tell me a story about dragons", nil},
		{"empty", "   ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Detect(tt.text)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want.Name, got.Name)
			assert.Equal(t, tt.want.Arg, got.Arg)
		})
	}
}
