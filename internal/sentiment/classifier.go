// Package sentiment labels inbound replies.
package sentiment

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/cache"
	"github.com/unclebandit/outreach-engine/internal/config"
	"github.com/unclebandit/outreach-engine/internal/llm"
	"github.com/unclebandit/outreach-engine/internal/logging"
	"github.com/unclebandit/outreach-engine/internal/model"
)

// keyPrefixRunes is how much of a reply identifies it in the cache.
const keyPrefixRunes = 500

const failedSummary = "Analysis failed"

type Classification struct {
	Sentiment model.Sentiment `json:"sentiment"`
	Summary   string          `json:"summary"`
	Cached    bool            `json:"-"`
	Fallback  bool            `json:"-"`
}

type Classifier struct {
	llm    llm.Client
	cache  cache.Cache
	model  string
	ttl    time.Duration
	logger *zap.Logger
}

func New(client llm.Client, c cache.Cache, policy config.Policy, logger *zap.Logger) *Classifier {
	if c == nil {
		c = cache.Noop{}
	}
	return &Classifier{
		llm:    client,
		cache:  c,
		model:  policy.CompletionModel,
		ttl:    policy.SentimentCacheTTL,
		logger: logging.OrNop(logger),
	}
}

// Classify never fails. Unknown labels become neutral and a reply that cannot
// be classified at all comes back neutral with the summary "Analysis failed".
func (c *Classifier) Classify(ctx context.Context, body string) Classification {
	key := cache.Key("sentiment", prefix(body, keyPrefixRunes))

	if raw, ok, err := c.cache.Get(ctx, key); err != nil {
		c.logger.Warn("sentiment cache read failed", zap.Error(err))
	} else if ok {
		var cl Classification
		if json.Unmarshal([]byte(raw), &cl) == nil {
			cl.Sentiment = model.ParseSentiment(string(cl.Sentiment))
			cl.Cached = true
			return cl
		}
	}

	failed := func(err error) Classification {
		c.logger.Warn("sentiment analysis failed", zap.Error(err))
		return Classification{Sentiment: model.SentimentNeutral, Summary: failedSummary, Fallback: true}
	}
	if c.llm == nil {
		return failed(nil)
	}

	resp, err := c.llm.Complete(ctx, llm.Request{
		Model: c.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: "Reply:\n" + body},
		},
		Temperature: 0,
		MaxTokens:   256,
		JSON:        true,
	})
	if err != nil {
		return failed(err)
	}

	var out struct {
		Sentiment string `json:"sentiment"`
		Summary   string `json:"summary"`
	}
	if !llm.DecodeObject(resp.Content, &out) {
		return failed(nil)
	}
	cl := Classification{
		Sentiment: model.ParseSentiment(strings.ToLower(strings.TrimSpace(out.Sentiment))),
		Summary:   strings.TrimSpace(out.Summary),
	}

	if raw, err := json.Marshal(cl); err == nil {
		if err := c.cache.Set(ctx, key, string(raw), c.ttl); err != nil {
			c.logger.Warn("sentiment cache write failed", zap.Error(err))
		}
	}
	return cl
}

const systemPrompt = `You classify replies to sales emails.
Choose exactly one sentiment: "interested", "neutral", "negative" or "not_interested".
Use "negative" for hostile replies or unsubscribe requests and "not_interested" for polite declines.
Respond with only a JSON object of the form {"sentiment": "...", "summary": "one sentence"}.`

// prefix returns at most n runes of s.
func prefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
