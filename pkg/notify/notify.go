// Package notify implements Notifier: formatting and best-effort,
// rate-limited, retrying delivery of alert and remediation events to a
// Slack-compatible webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/homelabhq/hub/pkg/alerting"
	"github.com/homelabhq/hub/pkg/health"
	"github.com/homelabhq/hub/pkg/herrors"
	"github.com/homelabhq/hub/pkg/log"
	"github.com/homelabhq/hub/pkg/metrics"
	"github.com/homelabhq/hub/pkg/types"
	"golang.org/x/time/rate"
)

const (
	retryQueueCapacity = 100
	maxAttempts        = 3
	actionStderrCap    = 500
)

var backoffSchedule = []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second}

// Config is the webhook endpoint and the notification gating flags that
// apply to kinds of events the alerting/actions packages don't already
// gate themselves (action completions carry no config of their own).
type Config struct {
	WebhookURL string
	Notify     types.NotificationConfig
}

type queuedMessage struct {
	payload   []byte
	attempt   int
	notBefore time.Time
}

// Notifier posts Slack-compatible messages to a configured webhook. A
// send never blocks its caller on network I/O failing hard: retryable
// failures land on a bounded in-memory queue drained by
// ProcessRetryQueue, which the scheduler calls on every tick.
type Notifier struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter

	mu    sync.Mutex
	queue []queuedMessage
}

// New builds a Notifier. A limiter of 1 message/second with a burst of
// 5 keeps a flapping server from hammering the webhook.
func New(cfg Config) *Notifier {
	return &Notifier{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(1), 5),
	}
}

// NotifyAlert implements alerting.Notifier. The new-alert/escalation/
// cooldown/resolve gating already happened in the AlertEngine; this is
// purely about formatting and delivery.
func (n *Notifier) NotifyAlert(event alerting.AlertEvent) error {
	if n.cfg.WebhookURL == "" {
		return nil
	}
	payload, err := json.Marshal(formatAlertMessage(event))
	if err != nil {
		return fmt.Errorf("notify: marshal alert message: %w", err)
	}
	return n.send(payload)
}

// NotifyActionCompletion implements actions.Notifier. Action
// notifications never use the retry queue — a stale remediation result
// arriving late is confusing rather than useful, so a failed send is
// simply dropped (and logged).
func (n *Notifier) NotifyActionCompletion(action *types.RemediationAction) error {
	if n.cfg.WebhookURL == "" {
		return nil
	}
	if action.Status == types.ActionStatusCompleted && !n.cfg.Notify.NotifyOnRemediation {
		return nil
	}
	payload, err := json.Marshal(formatActionMessage(action))
	if err != nil {
		return fmt.Errorf("notify: marshal action message: %w", err)
	}
	if err := n.deliverOnce(payload); err != nil {
		metrics.NotificationsSentTotal.WithLabelValues("dropped").Inc()
		return err
	}
	metrics.NotificationsSentTotal.WithLabelValues("sent").Inc()
	return nil
}

// CheckWebhookHealth probes the configured webhook with a lightweight
// GET instead of a real alert payload, so an operator (or a future
// status page) can tell a dead webhook apart from a quiet fleet. A
// webhook accepting GET with any 2xx-4xx response is treated as
// reachable — Slack's own incoming-webhook URLs return 405 on GET,
// which still proves DNS and TLS are fine.
func (n *Notifier) CheckWebhookHealth(ctx context.Context) health.Result {
	if n.cfg.WebhookURL == "" {
		return health.Result{Healthy: false, Message: "no webhook configured"}
	}
	checker := health.NewHTTPChecker(n.cfg.WebhookURL).WithStatusRange(200, 499)
	return checker.Check(ctx)
}

// send delivers payload immediately, enqueueing it for retry on a
// retryable failure instead of surfacing the error to the caller.
func (n *Notifier) send(payload []byte) error {
	retryAfter, err := n.deliverOnceRetryable(payload)
	if err == nil {
		metrics.NotificationsSentTotal.WithLabelValues("sent").Inc()
		return nil
	}
	if !isRetryable(err) {
		dropped := &herrors.NotificationDropped{Reason: err.Error()}
		log.Logger.Warn().Err(dropped).Msg("notify: webhook rejected message, not retrying")
		metrics.NotificationsSentTotal.WithLabelValues("dropped").Inc()
		return nil
	}
	n.enqueue(payload, 0, retryAfter)
	return nil
}

func (n *Notifier) deliverOnce(payload []byte) error {
	_, err := n.deliverOnceRetryable(payload)
	return err
}

type retryableError struct {
	status int
	err    error
}

func (e *retryableError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("webhook returned status %d", e.status)
}

func isRetryable(err error) bool {
	re, ok := err.(*retryableError)
	if !ok {
		return true // transport/timeout error
	}
	return re.status == http.StatusTooManyRequests || re.status >= 500
}

// deliverOnceRetryable posts payload and returns a non-nil Duration
// when the response carried a Retry-After hint worth honoring.
func (n *Notifier) deliverOnceRetryable(payload []byte) (time.Duration, error) {
	if err := n.limiter.Wait(context.Background()); err != nil {
		return 0, err
	}

	req, err := http.NewRequest(http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return 0, nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return parseRetryAfter(resp.Header.Get("Retry-After")), &retryableError{status: resp.StatusCode}
	}
	return 0, &retryableError{status: resp.StatusCode}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func (n *Notifier) enqueue(payload []byte, attempt int, retryAfter time.Duration) {
	delay := backoffFor(attempt)
	if retryAfter > delay {
		delay = retryAfter
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queue) >= retryQueueCapacity {
		dropped := &herrors.NotificationDropped{Reason: "retry queue overflow"}
		log.Logger.Warn().Err(dropped).Msg("notify: dropping oldest queued message")
		n.queue = n.queue[1:] // drop oldest on overflow
		metrics.NotificationsSentTotal.WithLabelValues("dropped").Inc()
	}
	n.queue = append(n.queue, queuedMessage{
		payload:   payload,
		attempt:   attempt,
		notBefore: time.Now().UTC().Add(delay),
	})
	metrics.NotificationsSentTotal.WithLabelValues("queued").Inc()
	metrics.NotificationQueueDepth.Set(float64(len(n.queue)))
}

func backoffFor(attempt int) time.Duration {
	if attempt < 0 || attempt >= len(backoffSchedule) {
		return backoffSchedule[len(backoffSchedule)-1]
	}
	return backoffSchedule[attempt]
}

// ProcessRetryQueue walks the whole queue and resends any message
// whose scheduled time has elapsed. Called by the scheduler, not by a
// self-managed ticker, so its cadence is a Scheduler-level decision.
func (n *Notifier) ProcessRetryQueue() {
	now := time.Now().UTC()

	n.mu.Lock()
	var due []queuedMessage
	var remaining []queuedMessage
	for _, msg := range n.queue {
		if !msg.notBefore.After(now) {
			due = append(due, msg)
		} else {
			remaining = append(remaining, msg)
		}
	}
	n.queue = remaining
	metrics.NotificationQueueDepth.Set(float64(len(n.queue)))
	n.mu.Unlock()

	for _, msg := range due {
		retryAfter, err := n.deliverOnceRetryable(msg.payload)
		if err == nil {
			metrics.NotificationsSentTotal.WithLabelValues("sent").Inc()
			continue
		}
		nextAttempt := msg.attempt + 1
		if !isRetryable(err) || nextAttempt >= maxAttempts {
			dropped := &herrors.NotificationDropped{Reason: err.Error()}
			log.Logger.Warn().Err(dropped).Int("attempt", nextAttempt).Msg("notify: dropping message after exhausting retries")
			metrics.NotificationsSentTotal.WithLabelValues("dropped").Inc()
			continue
		}
		n.enqueue(msg.payload, nextAttempt, retryAfter)
	}
}

// slackMessage is the minimal Slack incoming-webhook schema: a text
// fallback plus a single coloured attachment with key/value fields.
type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

const (
	colorCritical = "#D32F2F"
	colorHigh     = "#F57C00"
	colorMedium   = "#1976D2"
	colorResolved = "#2E7D32"
)

func colorFor(severity types.Severity, resolved bool) string {
	if resolved {
		return colorResolved
	}
	switch severity {
	case types.SeverityCritical:
		return colorCritical
	case types.SeverityHigh:
		return colorHigh
	default:
		return colorMedium
	}
}

func formatAlertMessage(event alerting.AlertEvent) slackMessage {
	alert := event.Alert
	resolved := event.Reason == alerting.ReasonResolved
	title := alert.Title
	if event.Reason == alerting.ReasonCooldown {
		title = "[Reminder] " + title
	}

	serverLabel := event.Server.Hostname
	if event.Server.DisplayName != "" {
		serverLabel = event.Server.DisplayName
	}

	fields := []slackField{
		{Title: "Server", Value: serverLabel, Short: true},
		{Title: "Severity", Value: string(alert.Severity), Short: true},
		{Title: "Current value", Value: formatFloat(alert.ActualValue), Short: true},
		{Title: "Threshold", Value: formatFloat(alert.ThresholdValue), Short: true},
	}
	if resolved && alert.DurationMinutes != nil {
		fields = append(fields, slackField{Title: "Duration", Value: fmt.Sprintf("%d min", *alert.DurationMinutes), Short: true})
	}

	return slackMessage{
		Text: title,
		Attachments: []slackAttachment{{
			Color:  colorFor(alert.Severity, resolved),
			Title:  title,
			Text:   alert.Message,
			Fields: fields,
			Ts:     time.Now().UTC().Unix(),
		}},
	}
}

func formatActionMessage(action *types.RemediationAction) slackMessage {
	serverField := slackField{Title: "Server", Value: action.ServerID, Short: true}
	actionField := slackField{Title: "Action", Value: string(action.ActionType), Short: true}

	if action.Status == types.ActionStatusCompleted {
		return slackMessage{
			Text: fmt.Sprintf("Remediation %s completed", action.ActionType),
			Attachments: []slackAttachment{{
				Color: colorResolved,
				Title: fmt.Sprintf("Action %s succeeded", action.ID),
				Fields: []slackField{
					serverField, actionField,
					{Title: "Exit code", Value: exitCodeString(action.ExitCode), Short: true},
				},
				Ts: time.Now().UTC().Unix(),
			}},
		}
	}

	return slackMessage{
		Text: fmt.Sprintf("Remediation %s failed", action.ActionType),
		Attachments: []slackAttachment{{
			Color: colorCritical,
			Title: fmt.Sprintf("Action %s failed", action.ID),
			Text:  truncateStderr(action.Stderr),
			Fields: []slackField{
				serverField, actionField,
				{Title: "Exit code", Value: exitCodeString(action.ExitCode), Short: true},
			},
			Ts: time.Now().UTC().Unix(),
		}},
	}
}

func exitCodeString(code *int) string {
	if code == nil {
		return "n/a"
	}
	return strconv.Itoa(*code)
}

func truncateStderr(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= actionStderrCap {
		return s
	}
	return s[:actionStderrCap] + "..."
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
