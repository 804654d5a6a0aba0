package service

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"parkwatch/internal/config"
	"parkwatch/internal/logging"
)

// MessageCreator is the part of the Twilio API used for SMS.
type MessageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioNotifier sends notifications as SMS.
type TwilioNotifier struct {
	api  MessageCreator
	from string
	log  *logging.Logger
}

func NewTwilioNotifier(cfg config.TwilioConfig, log *logging.Logger) *TwilioNotifier {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username:   cfg.AccountSID,
		Password:   cfg.AuthToken,
		AccountSid: cfg.AccountSID,
	})
	return NewTwilioNotifierWithAPI(client.Api, cfg.FromNumber, log)
}

func NewTwilioNotifierWithAPI(api MessageCreator, from string, log *logging.Logger) *TwilioNotifier {
	return &TwilioNotifier{api: api, from: from, log: log.With("component", "notify", "channel", ChannelSMS)}
}

func (n *TwilioNotifier) Deliver(ctx context.Context, to, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !strings.HasPrefix(to, "+") {
		n.log.Warn("recipient is not in E.164 format", "to", to)
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(n.from)
	params.SetBody(text)

	resp, err := n.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("sending sms to %s: %w", to, err)
	}
	if resp != nil && resp.Sid != nil {
		n.log.Info("sms sent", "to", to, "sid", *resp.Sid)
	}
	return nil
}

const mailSendEndpoint = "/v3/mail/send"

var emailTemplate = template.Must(template.New("notification").Parse(`<!DOCTYPE html>
<html><body style="font-family:sans-serif">
<h3>{{.Subject}}</h3>
{{range .Lines}}<p>{{.}}</p>
{{end}}</body></html>`))

// SendGridNotifier sends notifications as email.
type SendGridNotifier struct {
	apiKey    string
	host      string
	fromEmail string
	fromName  string
	log       *logging.Logger
}

func NewSendGridNotifier(cfg config.SendGridConfig, log *logging.Logger) *SendGridNotifier {
	return &SendGridNotifier{
		apiKey:    cfg.APIKey,
		host:      cfg.Host,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		log:       log.With("component", "notify", "channel", ChannelEmail),
	}
}

func (n *SendGridNotifier) Deliver(ctx context.Context, to, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, html, err := emailContent(text)
	if err != nil {
		return err
	}

	from := mail.NewEmail(n.fromName, n.fromEmail)
	message := mail.NewSingleEmail(from, subject, mail.NewEmail("", to), text, html)

	request := sendgrid.GetRequest(n.apiKey, mailSendEndpoint, n.host)
	request.Method = "POST"
	request.Body = mail.GetRequestBody(message)

	response, err := sendgrid.MakeRequest(request)
	if err != nil {
		return fmt.Errorf("sending email to %s: %w", to, err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned status %d: %s", response.StatusCode, response.Body)
	}
	n.log.Info("email sent", "to", to, "status", response.StatusCode)
	return nil
}

// emailContent takes the subject from the first line of text and renders
// the rest as HTML paragraphs.
func emailContent(text string) (string, string, error) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	subject := lines[0]
	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, struct {
		Subject string
		Lines   []string
	}{subject, lines[1:]})
	if err != nil {
		return "", "", fmt.Errorf("rendering email: %w", err)
	}
	return subject, buf.String(), nil
}
