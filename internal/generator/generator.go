// Package generator writes personalized outreach copy. Drafts never fail: a
// cache miss goes to the completion service and any problem there falls back
// to a deterministic template.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/cache"
	"github.com/unclebandit/outreach-engine/internal/config"
	"github.com/unclebandit/outreach-engine/internal/llm"
	"github.com/unclebandit/outreach-engine/internal/logging"
	"github.com/unclebandit/outreach-engine/internal/model"
)

type Draft struct {
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	HTMLBody   string `json:"html_body,omitempty"`
	TokensUsed int    `json:"tokens_used"`
	Cached     bool   `json:"cached"`
	Fallback   bool   `json:"fallback"`
}

type Generator struct {
	llm         llm.Client
	cache       cache.Cache
	model       string
	temperature float32
	maxTokens   int
	ttl         time.Duration
	logger      *zap.Logger
}

// New builds a Generator. A nil client makes every draft a fallback; a nil
// cache disables caching.
func New(client llm.Client, c cache.Cache, policy config.Policy, logger *zap.Logger) *Generator {
	if c == nil {
		c = cache.Noop{}
	}
	return &Generator{
		llm:         client,
		cache:       c,
		model:       policy.CompletionModel,
		temperature: policy.Temperature,
		maxTokens:   policy.MaxTokens,
		ttl:         policy.DraftCacheTTL,
		logger:      logging.OrNop(logger),
	}
}

// Draft writes the first message of a campaign to lead.
func (g *Generator) Draft(ctx context.Context, lead *model.Lead, tmpl model.TemplateConfig) Draft {
	tmpl = tmpl.Normalize()
	key := cache.Key("draft", lead.ID, lead.Email, tmpl.Method, tmpl.Tone)
	prompt := initialPrompt(lead, tmpl)
	return g.generate(ctx, key, prompt, "", func() Draft {
		data := placeholders(lead, tmpl)
		return Draft{
			Subject: RenderTemplate(fallbackSubject, data),
			Body:    RenderTemplate(fallbackBody, data),
		}
	})
}

// DraftFollowup writes follow-up number n in the thread started by original.
func (g *Generator) DraftFollowup(ctx context.Context, lead *model.Lead, original *model.SentMessage, n int, tmpl model.TemplateConfig) Draft {
	tmpl = tmpl.Normalize()
	key := cache.Key("followup", lead.ID, original.ThreadID, strconv.Itoa(n), tmpl.Tone)
	subject := replySubject(original.Subject)
	return g.generate(ctx, key, followupPrompt(lead, original, n, tmpl), subject, func() Draft {
		return Draft{Body: RenderTemplate(fallbackFollowupBody, placeholders(lead, tmpl))}
	})
}

// DraftReply acknowledges an interested reply.
func (g *Generator) DraftReply(ctx context.Context, lead *model.Lead, inbound *model.InboundMessage, tmpl model.TemplateConfig) Draft {
	tmpl = tmpl.Normalize()
	key := cache.Key("reply", inbound.AccountID, inbound.MessageID)
	subject := replySubject(inbound.Subject)
	return g.generate(ctx, key, replyPrompt(lead, inbound, tmpl), subject, func() Draft {
		return Draft{Body: RenderTemplate(fallbackReplyBody, placeholders(lead, tmpl))}
	})
}

type completion struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// generate runs cache, then completion, then fallback. A non-empty subject
// pins the subject line so threaded messages keep theirs.
func (g *Generator) generate(ctx context.Context, key string, prompt []llm.Message, subject string, fallback func() Draft) Draft {
	finish := func(d Draft) Draft {
		if subject != "" {
			d.Subject = subject
		}
		if d.HTMLBody == "" {
			d.HTMLBody = htmlFromText(d.Body)
		}
		return d
	}

	if cached, ok := g.lookup(ctx, key); ok {
		return finish(cached)
	}

	useFallback := func(reason string, err error) Draft {
		g.logger.Warn("using fallback draft", zap.String("reason", reason), zap.Error(err))
		d := fallback()
		d.Fallback = true
		return finish(d)
	}

	if g.llm == nil {
		return useFallback("no completion client", nil)
	}
	resp, err := g.llm.Complete(ctx, llm.Request{
		Model:       g.model,
		Messages:    prompt,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
		JSON:        true,
	})
	if err != nil {
		return useFallback("completion failed", err)
	}
	var out completion
	if !llm.DecodeObject(resp.Content, &out) {
		return useFallback("unparseable completion", nil)
	}
	out.Body = strings.TrimSpace(out.Body)
	out.Subject = strings.TrimSpace(out.Subject)
	if out.Body == "" || (out.Subject == "" && subject == "") {
		return useFallback("completion missing subject or body", nil)
	}

	d := finish(Draft{Subject: out.Subject, Body: out.Body, TokensUsed: resp.TokensUsed})
	g.store(ctx, key, d)
	return d
}

func (g *Generator) lookup(ctx context.Context, key string) (Draft, bool) {
	raw, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		g.logger.Warn("draft cache read failed", zap.Error(err))
		return Draft{}, false
	}
	if !ok {
		return Draft{}, false
	}
	var d Draft
	if err := json.Unmarshal([]byte(raw), &d); err != nil || d.Body == "" {
		return Draft{}, false
	}
	d.Cached = true
	d.TokensUsed = 0
	d.Fallback = false
	return d, true
}

func (g *Generator) store(ctx context.Context, key string, d Draft) {
	raw, err := json.Marshal(d)
	if err != nil {
		return
	}
	if err := g.cache.Set(ctx, key, string(raw), g.ttl); err != nil {
		g.logger.Warn("draft cache write failed", zap.Error(err))
	}
}

const systemPrompt = `You are an expert B2B sales copywriter. You write short, specific, human cold emails.
Never invent facts about the recipient. Keep emails under 150 words.
Respond with only a JSON object of the form {"subject": "...", "body": "..."} and nothing else.`

func initialPrompt(lead *model.Lead, tmpl model.TemplateConfig) []llm.Message {
	var b strings.Builder
	b.WriteString("Write a first-touch cold email.\n\n")
	writeLead(&b, lead)
	writeTemplate(&b, tmpl)
	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

func followupPrompt(lead *model.Lead, original *model.SentMessage, n int, tmpl model.TemplateConfig) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Write follow-up number %d to an email that got no reply. Be brief and add one new angle.\n\n", n)
	writeLead(&b, lead)
	writeTemplate(&b, tmpl)
	fmt.Fprintf(&b, "\nOriginal subject: %s\nOriginal body:\n%s\n", original.Subject, original.Body)
	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

func replyPrompt(lead *model.Lead, inbound *model.InboundMessage, tmpl model.TemplateConfig) []llm.Message {
	var b strings.Builder
	b.WriteString("The prospect replied with interest. Write a warm acknowledgement that proposes a short call.\n\n")
	writeLead(&b, lead)
	writeTemplate(&b, tmpl)
	fmt.Fprintf(&b, "\nTheir reply:\n%s\n", inbound.Body)
	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

func writeLead(b *strings.Builder, lead *model.Lead) {
	fmt.Fprintf(b, "Recipient:\n- Name: %s %s\n- Title: %s\n- Company: %s\n- Industry: %s\n",
		lead.FirstName, lead.LastName, lead.Title, lead.Company, lead.Industry)
}

func writeTemplate(b *strings.Builder, tmpl model.TemplateConfig) {
	fmt.Fprintf(b, "\nTone: %s\n", tmpl.Tone)
	if tmpl.ValueProposition != "" {
		fmt.Fprintf(b, "Value proposition: %s\n", tmpl.ValueProposition)
	}
	if tmpl.TargetIndustry != "" {
		fmt.Fprintf(b, "Target industry: %s\n", tmpl.TargetIndustry)
	}
	if tmpl.TargetRole != "" {
		fmt.Fprintf(b, "Target role: %s\n", tmpl.TargetRole)
	}
	for _, k := range tmpl.ExtraKeys() {
		fmt.Fprintf(b, "%s: %s\n", k, tmpl.Extra[k])
	}
}
