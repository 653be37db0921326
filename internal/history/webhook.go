package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"staffline/internal/config"
	"staffline/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookSink posts each accepted event as JSON to one URL.
type WebhookSink struct {
	hook   config.WebhookConfig
	filter eventFilter
	client *http.Client
}

func NewWebhookSink(hook config.WebhookConfig) *WebhookSink {
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	return &WebhookSink{
		hook:   hook,
		filter: newEventFilter(hook.Events),
		client: &http.Client{Timeout: timeout},
	}
}

// WebhookSinks builds sinks for every enabled webhook.
func WebhookSinks(hooks []config.WebhookConfig) []Sink {
	var sinks []Sink
	for _, hook := range hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		sinks = append(sinks, NewWebhookSink(hook))
	}
	return sinks
}

func (s *WebhookSink) Name() string { return "webhook " + s.hook.URL }

func (s *WebhookSink) Accepts(evt domain.Event) bool { return s.filter.match(evt.ActivityType) }

type webhookEvent struct {
	ID           int64           `json:"id"`
	TS           string          `json:"ts"`
	EntityType   string          `json:"entity_type"`
	EntityID     string          `json:"entity_id,omitempty"`
	ActivityType string          `json:"activity_type"`
	ProjectID    string          `json:"project_id,omitempty"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Role         string          `json:"role,omitempty"`
	ActorID      string          `json:"actor_id"`
	Description  string          `json:"description"`
	Automatic    bool            `json:"automatic"`
	Payload      json.RawMessage `json:"payload"`
	PayloadRaw   string          `json:"payload_raw,omitempty"`
}

func (s *WebhookSink) Deliver(ctx context.Context, evt domain.Event) error {
	payload := json.RawMessage("{}")
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage(evt.Payload)
		} else {
			raw = evt.Payload
		}
	}
	data, err := json.Marshal(webhookEvent{
		ID:           evt.ID,
		TS:           evt.TS,
		EntityType:   evt.EntityType,
		EntityID:     evt.EntityID,
		ActivityType: evt.ActivityType,
		ProjectID:    evt.ProjectID,
		ResourceID:   evt.ResourceID,
		Role:         evt.Role,
		ActorID:      evt.ActorID,
		Description:  evt.Description,
		Automatic:    evt.Automatic,
		Payload:      payload,
		PayloadRaw:   raw,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Staffline-Event", evt.ActivityType)
	req.Header.Set("X-Staffline-Delivery", strconv.FormatInt(evt.ID, 10))
	if strings.TrimSpace(s.hook.Secret) != "" {
		req.Header.Set("X-Staffline-Secret", s.hook.Secret)
	}
	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
