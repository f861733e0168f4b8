package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
)

// SMTPTransport submits mail over SMTP authenticated with OAUTHBEARER. It
// cannot read a mailbox, so Fetch reports ErrFetchUnsupported.
type SMTPTransport struct {
	*OAuth
	Addr string
	// TLSConfig upgrades every session with STARTTLS; a server that does not
	// offer it is refused. Nil sends in plaintext.
	TLSConfig *tls.Config
}

func NewSMTPTransport(oauth *OAuth, addr string) *SMTPTransport {
	host, _, _ := net.SplitHostPort(addr)
	return &SMTPTransport{OAuth: oauth, Addr: addr, TLSConfig: &tls.Config{ServerName: host}}
}

func (s *SMTPTransport) Send(ctx context.Context, accessToken string, msg *OutgoingMessage) (string, error) {
	raw, err := BuildMIME(msg)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c, err := s.dial(ctx)
	if err != nil {
		return "", appErrors.NewProviderError("smtp", 0, err)
	}
	defer c.Close()

	host, portStr, _ := net.SplitHostPort(s.Addr)
	port, _ := strconv.Atoi(portStr)
	auth := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: msg.From,
		Token:    accessToken,
		Host:     host,
		Port:     port,
	})
	if err := c.Auth(auth); err != nil {
		return "", smtpError(err)
	}
	if err := c.SendMail(msg.From, []string{msg.To}, bytes.NewReader(raw)); err != nil {
		return "", smtpError(err)
	}
	if err := c.Quit(); err != nil {
		return "", smtpError(err)
	}
	return msg.MessageID, nil
}

func (s *SMTPTransport) dial(ctx context.Context) (*smtp.Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.Addr)
	if err != nil {
		return nil, err
	}
	if s.TLSConfig == nil {
		return smtp.NewClient(conn), nil
	}
	return smtp.NewClientStartTLS(conn, s.TLSConfig)
}

func (s *SMTPTransport) Fetch(context.Context, string, FetchQuery) (*FetchPage, error) {
	return nil, ErrFetchUnsupported
}

func smtpError(err error) error {
	var serr *smtp.SMTPError
	if errors.As(err, &serr) {
		if serr.Code == 535 || serr.Code == 530 {
			return appErrors.NewAuthFailed("", err)
		}
		return appErrors.NewProviderError("smtp", serr.Code, err)
	}
	var berr *sasl.OAuthBearerError
	if errors.As(err, &berr) {
		return appErrors.NewAuthFailed("", err)
	}
	return appErrors.NewProviderError("smtp", 0, err)
}

var _ Transport = (*SMTPTransport)(nil)
