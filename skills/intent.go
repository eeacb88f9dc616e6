// Package skills 提供意图识别与外部技能调用。
//
// 意图识别是纯正则匹配，不依赖模型；命中技能的用户输入直接走外部 API，
// 未命中的输入交给上层回落到 LLM。
package skills

import (
	"regexp"
	"strings"
)

// 技能名
const (
	IntentWeather = "weather"
	IntentNews    = "news"
	IntentMovies  = "movies"
	IntentAnime   = "anime"
	IntentQuote   = "quote"
)

// Intent 一次识别结果。
// Arg 的含义随技能变化：weather 是地点，news 是主题，
// movies/anime 是搜索词，quote 是类别。
type Intent struct {
	Name string
	Arg  string
}

// Classifier 基于正则的意图识别器
type Classifier struct {
	weatherPatterns []*regexp.Regexp
	newsPattern     *regexp.Regexp
	moviePattern    *regexp.Regexp
	animePattern    *regexp.Regexp
	quotePattern    *regexp.Regexp
}

// NewClassifier 创建意图识别器
func NewClassifier() *Classifier {
	return &Classifier{
		weatherPatterns: []*regexp.Regexp{
			regexp.MustCompile(`weather in ([\w\s]+)`),
			regexp.MustCompile(`temperature in (\w+)`),
			regexp.MustCompile(`how.*weather.*(\w+)`),
			regexp.MustCompile(`what.*weather.*like in (\w+)`),
			regexp.MustCompile(`weather.*(\w+)`),
			regexp.MustCompile(`temperature.*(\w+)`),
		},
		newsPattern:  regexp.MustCompile(`news.*?about\s+(\w+)|(\w+)\s+news`),
		moviePattern: regexp.MustCompile(`movies?.*?about\s+([\w\s]+)|find.*?movie\s+([\w\s]+)|search.*?movie\s+([\w\s]+)`),
		animePattern: regexp.MustCompile(`anime.*?about\s+([\w\s]+)|search.*?anime\s+([\w\s]+)`),
		quotePattern: regexp.MustCompile(`quote.*?about\s+([\w\s]+)`),
	}
}

// Detect 识别文本中的技能意图。未命中任何技能时返回 nil。
func (c *Classifier) Detect(text string) *Intent {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return nil
	}

	// 天气：先精确模式，再关键词兜底
	for _, p := range c.weatherPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			return &Intent{Name: IntentWeather, Arg: strings.TrimSpace(m[1])}
		}
	}
	if containsAny(text, "weather", "temperature", "forecast", "climate") {
		return &Intent{Name: IntentWeather, Arg: "London"}
	}

	if containsAny(text, "news", "headlines", "happening", "current events") {
		topic := "general"
		if m := c.newsPattern.FindStringSubmatch(text); m != nil {
			topic = firstNonEmpty(m[1:]...)
		}
		return &Intent{Name: IntentNews, Arg: topic}
	}

	if containsAny(text, "movie", "film", "cinema") {
		query := "popular"
		if m := c.moviePattern.FindStringSubmatch(text); m != nil {
			query = strings.TrimSpace(firstNonEmpty(m[1:]...))
		}
		return &Intent{Name: IntentMovies, Arg: query}
	}

	if strings.Contains(text, "anime") {
		query := "naruto"
		if m := c.animePattern.FindStringSubmatch(text); m != nil {
			query = strings.TrimSpace(firstNonEmpty(m[1:]...))
		}
		return &Intent{Name: IntentAnime, Arg: query}
	}

	if containsAny(text, "quote", "inspire", "motivate", "wisdom") {
		category := "motivational"
		if m := c.quotePattern.FindStringSubmatch(text); m != nil && strings.TrimSpace(m[1]) != "" {
			category = strings.TrimSpace(m[1])
		}
		return &Intent{Name: IntentQuote, Arg: category}
	}

	return nil
}

func containsAny(text string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
