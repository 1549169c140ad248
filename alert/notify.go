package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/c360studio/metahub/logsink"
	"github.com/c360studio/metahub/store"
)

// webhookNotifyTimeout bounds the POST to a customer's alert webhook.
const webhookNotifyTimeout = 10 * time.Second

// alertFromAddress is the sender for alert emails.
const alertFromAddress = "alerts@metahub.io"

// Notifier fans a fired alert out to its configured channels. Each channel
// reports success independently; the caller records which ones accepted.
type Notifier struct {
	sink       *logsink.Sink
	sendgrid   *sendgrid.Client
	httpClient *http.Client
}

// NewNotifier creates a notifier. An empty SendGrid key disables the email
// channel.
func NewNotifier(sink *logsink.Sink, sendgridKey string) *Notifier {
	n := &Notifier{
		sink:       sink,
		httpClient: &http.Client{Timeout: webhookNotifyTimeout},
	}
	if sendgridKey != "" {
		n.sendgrid = sendgrid.NewSendClient(sendgridKey)
	}
	return n
}

// Notify attempts every channel of the rule and returns the ones that
// accepted the notification.
func (n *Notifier) Notify(ctx context.Context, rule *store.AlertRule, history *store.AlertHistory) []string {
	accepted := make([]string, 0, len(rule.NotifyChannels))
	for _, channel := range rule.NotifyChannels {
		var err error
		switch channel {
		case "in_app":
			err = n.notifyInApp(ctx, rule, history)
		case "email":
			err = n.notifyEmail(rule, history)
		case "webhook":
			err = n.notifyWebhook(ctx, rule, history)
		default:
			err = fmt.Errorf("unknown channel %q", channel)
		}
		if err == nil {
			accepted = append(accepted, channel)
		}
	}
	return accepted
}

// notifyInApp writes the firing to the tenant's event log. This is the
// channel the dashboard reads; it always succeeds when the sink is up.
func (n *Notifier) notifyInApp(ctx context.Context, rule *store.AlertRule, history *store.AlertHistory) error {
	return n.sink.Write(ctx, &logsink.Entry{
		WorkspaceID: rule.WorkspaceID,
		Level:       logsink.LevelWarn,
		Category:    logsink.CategoryAlert,
		Action:      "alert.triggered",
		Message:     fmt.Sprintf("Alert %q triggered", rule.Name),
		Resource:    history.ID,
		Metadata: map[string]any{
			"rule_id":            rule.ID,
			"condition_type":     rule.ConditionType,
			"condition_snapshot": history.ConditionSnapshot,
		},
	})
}

// notifyEmail sends the firing through SendGrid to notify_config.email.
func (n *Notifier) notifyEmail(rule *store.AlertRule, history *store.AlertHistory) error {
	if n.sendgrid == nil {
		return fmt.Errorf("email channel not configured")
	}
	to := rule.NotifyConfig["email"]
	if to == "" {
		return fmt.Errorf("rule has no notify email address")
	}

	subject := fmt.Sprintf("[metahub] Alert triggered: %s", rule.Name)
	body := fmt.Sprintf("Alert %q (%s) fired at %s.\n\nMeasured values: %v\n",
		rule.Name, rule.ConditionType, history.CreatedAt.Format(time.RFC3339), history.ConditionSnapshot)
	msg := mail.NewSingleEmail(
		mail.NewEmail("metahub alerts", alertFromAddress),
		subject,
		mail.NewEmail("", to),
		body,
		"")

	resp, err := n.sendgrid.Send(msg)
	if err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned %d", resp.StatusCode)
	}
	return nil
}

// notifyWebhook posts the alert history JSON to notify_config.webhook_url.
func (n *Notifier) notifyWebhook(ctx context.Context, rule *store.AlertRule, history *store.AlertHistory) error {
	target := rule.NotifyConfig["webhook_url"]
	if target == "" {
		return fmt.Errorf("rule has no webhook_url")
	}

	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal alert history: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post alert webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned %d", resp.StatusCode)
	}
	return nil
}
