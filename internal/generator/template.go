package generator

import (
	"html"
	"strings"

	"github.com/unclebandit/outreach-engine/internal/model"
)

// RenderTemplate replaces {key} placeholders with values from data.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

const (
	fallbackSubject = "Quick question for {company}"
	fallbackBody    = `Hi {first_name},

I came across {company} and was impressed by what you are building in {industry}. {value_proposition}

Would you be open to a quick 15-minute call next week to see if this could help {company}?

Best regards`

	fallbackFollowupBody = `Hi {first_name},

I wanted to follow up on my previous note in case it got buried. {value_proposition}

If now is not a good time for {company}, just let me know and I will not reach out again.

Best regards`

	fallbackReplyBody = `Hi {first_name},

Thanks for getting back to me, great to hear from you. I would love to set up a short call to walk you through how this could work for {company}.

What does your calendar look like later this week?

Best regards`
)

// placeholders fills the fallback values for missing lead fields.
func placeholders(lead *model.Lead, tmpl model.TemplateConfig) map[string]string {
	vp := strings.TrimSpace(tmpl.ValueProposition)
	if vp == "" {
		vp = "We help teams like yours save time on repetitive work."
	}
	industry := firstNonEmpty(lead.Industry, tmpl.TargetIndustry, "your industry")
	return map[string]string{
		"first_name":        firstNonEmpty(lead.FirstName, "there"),
		"last_name":         lead.LastName,
		"company":           firstNonEmpty(lead.Company, "your team"),
		"title":             firstNonEmpty(lead.Title, tmpl.TargetRole),
		"industry":          industry,
		"value_proposition": vp,
	}
}

// replySubject prefixes subject with "Re: " once.
func replySubject(subject string) string {
	s := strings.TrimSpace(subject)
	if len(s) >= 3 && strings.EqualFold(s[:3], "re:") {
		return s
	}
	return "Re: " + s
}

// htmlFromText renders paragraphs of plain text as escaped HTML.
func htmlFromText(text string) string {
	var b strings.Builder
	for _, p := range strings.Split(strings.TrimSpace(text), "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(p), "\n", "<br>"))
		b.WriteString("</p>\n")
	}
	return b.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
