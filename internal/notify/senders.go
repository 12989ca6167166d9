package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mailersend/mailersend-go"
)

// EmailSender delivers one plain text email.
type EmailSender interface {
	SendEmail(ctx context.Context, to Recipient, subject, text string) error
}

// SMSSender delivers one text message.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, text string) error
}

// MailerSend sends email through the MailerSend API.
type MailerSend struct {
	client    *mailersend.Mailersend
	fromName  string
	fromEmail string
}

func NewMailerSend(apiKey, fromName, fromEmail string) *MailerSend {
	return &MailerSend{
		client:    mailersend.NewMailersend(apiKey),
		fromName:  fromName,
		fromEmail: fromEmail,
	}
}

func (m *MailerSend) SendEmail(ctx context.Context, to Recipient, subject, text string) error {
	message := m.client.Email.NewMessage()
	message.SetFrom(mailersend.From{Name: m.fromName, Email: m.fromEmail})
	message.SetRecipients([]mailersend.Recipient{{Name: to.Name, Email: to.Email}})
	message.SetSubject(subject)
	message.SetText(text)

	if _, err := m.client.Email.Send(ctx, message); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// HTTPSMS posts text messages to a JSON SMS gateway:
//
//	POST <url>  {"to": "...", "from": "...", "text": "..."}
//
// authenticated with a bearer token.  Any 2xx response is a success.
type HTTPSMS struct {
	URL    string
	Token  string
	From   string
	Client *http.Client
}

func NewHTTPSMS(url, token, from string) *HTTPSMS {
	return &HTTPSMS{URL: url, Token: token, From: from, Client: &http.Client{Timeout: 10 * time.Second}}
}

type smsRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Text string `json:"text"`
}

func (s *HTTPSMS) SendSMS(ctx context.Context, phone, text string) error {
	body, err := json.Marshal(smsRequest{To: phone, From: s.From, Text: text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send sms: gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
