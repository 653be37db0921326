package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	log "github.com/sirupsen/logrus"

	"staffline/internal/config"
	"staffline/internal/domain"
	"staffline/internal/repo"
)

// Provider sends a plain text mail.
type Provider interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// Directory looks up the users a notification is addressed to.
type Directory interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
	ListUsers(ctx context.Context, userType string) ([]domain.User, error)
}

// MailSink notifies administrators about new requests and requesters about
// decisions on their requests.
type MailSink struct {
	provider  Provider
	directory Directory
}

func NewMailSink(provider Provider, directory Directory) *MailSink {
	return &MailSink{provider: provider, directory: directory}
}

func (s *MailSink) Name() string { return "mail" }

func (s *MailSink) logger() *log.Entry {
	return log.WithField("component", "history").WithField("sink", s.Name())
}

func (s *MailSink) Accepts(evt domain.Event) bool {
	if evt.EntityType != domain.EntityRequest {
		return false
	}
	switch evt.ActivityType {
	case domain.ActivityRequest, domain.ActivityApprove, domain.ActivityReject:
		return true
	}
	return false
}

func (s *MailSink) Deliver(ctx context.Context, evt domain.Event) error {
	to, err := s.recipients(ctx, evt)
	if err != nil {
		return err
	}
	if len(to) == 0 {
		return nil
	}
	subject := fmt.Sprintf("Staffline - request %s %s", strings.ToLower(evt.ActivityType), evt.EntityID)
	body := fmt.Sprintf("%s\r\n\r\nRequest: %s\r\nBy: %s\r\nAt: %s\r\n", evt.Description, evt.EntityID, evt.ActorID, evt.TS)
	return s.provider.Send(ctx, to, subject, body)
}

func (s *MailSink) recipients(ctx context.Context, evt domain.Event) ([]string, error) {
	if evt.ActivityType == domain.ActivityRequest {
		admins, err := s.directory.ListUsers(ctx, domain.UserTypeAdmin)
		if err != nil {
			return nil, err
		}
		to := make([]string, 0, len(admins))
		for _, u := range admins {
			if u.Email != "" && u.ID != evt.ActorID {
				to = append(to, u.Email)
			}
		}
		return to, nil
	}
	var payload struct {
		RequesterID string `json:"requester_id"`
	}
	logger := s.logger().WithFields(log.Fields{"event_id": evt.ID, "request_id": evt.EntityID})
	if evt.Payload != "" {
		if err := json.Unmarshal([]byte(evt.Payload), &payload); err != nil {
			logger.WithError(err).Warn("request notice dropped: unreadable payload")
			return nil, nil
		}
	}
	if payload.RequesterID == "" || payload.RequesterID == evt.ActorID || payload.RequesterID == domain.SystemActor {
		return nil, nil
	}
	u, err := s.directory.GetUser(ctx, payload.RequesterID)
	if errors.Is(err, repo.ErrNotFound) {
		// requester removed since the request was filed
		logger.WithField("requester_id", payload.RequesterID).Info("request notice dropped: requester no longer exists")
		return nil, nil
	}
	if err != nil {
		logger.WithError(err).WithField("requester_id", payload.RequesterID).Warn("requester lookup failed")
		return nil, err
	}
	if u.Email == "" {
		return nil, nil
	}
	return []string{u.Email}, nil
}

// SMTPProvider delivers mail through an SMTP relay with PLAIN auth.
type SMTPProvider struct {
	cfg config.SMTPConfig
}

func NewSMTPProvider(cfg config.SMTPConfig) *SMTPProvider {
	return &SMTPProvider{cfg: cfg}
}

func (p *SMTPProvider) Send(_ context.Context, to []string, subject, body string) error {
	logger := log.WithField("component", "history").WithField("sink", "mail")
	if p.cfg.Host == "" || p.cfg.Port == "" {
		logger.Warn("smtp not configured, mail skipped")
		return nil
	}
	from := p.cfg.From
	if from == "" {
		from = p.cfg.User
	}
	var auth sasl.Client
	if p.cfg.User != "" {
		auth = sasl.NewPlainClient("", p.cfg.User, p.cfg.Password)
	}
	msg := strings.NewReader(fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n%s",
		from, strings.Join(to, ", "), subject, body))
	addr := p.cfg.Host + ":" + p.cfg.Port
	var err error
	if p.cfg.TLS {
		err = smtp.SendMailTLS(addr, auth, from, to, msg)
	} else {
		err = smtp.SendMail(addr, auth, from, to, msg)
	}
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	logger.WithField("recipients", len(to)).Info("mail sent")
	return nil
}

// Sinks builds every sink enabled by cfg.
func Sinks(cfg *config.Config, directory Directory) []Sink {
	if cfg == nil {
		return nil
	}
	sinks := WebhookSinks(cfg.History.Webhooks)
	if cfg.Notify.SMTP.Enabled {
		sinks = append(sinks, NewMailSink(NewSMTPProvider(cfg.Notify.SMTP), directory))
	}
	return sinks
}
