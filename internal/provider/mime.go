package provider

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/unclebandit/outreach-engine/internal/model"
)

// BuildMIME renders msg as an RFC 5322 message. A message with an HTML body is
// sent as multipart/alternative, otherwise as a single text/plain part.
func BuildMIME(msg *OutgoingMessage) ([]byte, error) {
	var h mail.Header
	date := msg.Date
	if date.IsZero() {
		date = time.Now()
	}
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Address: msg.From}})
	h.SetAddressList("To", []*mail.Address{{Address: msg.To}})
	h.SetSubject(msg.Subject)
	h.SetMessageID(msg.MessageID)
	if msg.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{msg.InReplyTo})
		h.SetMsgIDList("References", []string{msg.InReplyTo})
	}

	var buf bytes.Buffer
	if msg.HTMLBody == "" {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("create mime writer: %w", err)
		}
		if _, err := io.WriteString(w, msg.Body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	iw, err := mail.CreateInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mime writer: %w", err)
	}
	parts := []struct{ mediaType, body string }{
		{"text/plain", msg.Body},
		{"text/html", msg.HTMLBody},
	}
	for _, p := range parts {
		var ph mail.InlineHeader
		ph.SetContentType(p.mediaType, map[string]string{"charset": "utf-8"})
		pw, err := iw.CreatePart(ph)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(pw, p.body); err != nil {
			return nil, err
		}
		if err := pw.Close(); err != nil {
			return nil, err
		}
	}
	if err := iw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseMIME reads a received message. The plain text part is preferred for the
// body; an HTML-only message keeps its markup.
func ParseMIME(raw []byte) (*model.InboundMessage, error) {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	defer reader.Close()

	msg := &model.InboundMessage{}
	if subject, err := reader.Header.Subject(); err == nil {
		msg.Subject = subject
	}
	if from, err := reader.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.FromEmail = normalizeEmail(from[0].Address)
	}
	if to, err := reader.Header.AddressList("To"); err == nil && len(to) > 0 {
		msg.ToEmail = normalizeEmail(to[0].Address)
	}
	if id, err := reader.Header.MessageID(); err == nil {
		msg.MessageID = id
	}
	if ids, err := reader.Header.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		msg.InReplyTo = ids[0]
	}
	if date, err := reader.Header.Date(); err == nil {
		msg.ReceivedAt = date.UTC()
	}

	var text, html string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return msg, fmt.Errorf("read message part: %w", err)
		}
		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, _ := header.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(mediaType, "text/plain") || mediaType == "":
			if text == "" {
				text = string(body)
			}
		case strings.HasPrefix(mediaType, "text/html"):
			if html == "" {
				html = string(body)
			}
		}
	}
	msg.Body = strings.TrimSpace(text)
	if msg.Body == "" {
		msg.Body = strings.TrimSpace(html)
	}
	if msg.FromEmail == "" {
		return msg, fmt.Errorf("parse message: missing From address")
	}
	return msg, nil
}

func normalizeEmail(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
