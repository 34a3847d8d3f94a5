package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/homelabhq/hub/pkg/alerting"
	"github.com/homelabhq/hub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAlertEvent(reason alerting.NotifyReason, severity types.Severity, status types.AlertStatus) alerting.AlertEvent {
	return alerting.AlertEvent{
		Server: &types.Server{ID: "srv-1", Hostname: "box1"},
		Alert: &types.Alert{
			ID: "alert-1", ServerID: "srv-1", AlertType: types.MetricCPU,
			Severity: severity, Status: status, Title: "CPU high on box1",
			Message: "cpu at 96%", ActualValue: 96, ThresholdValue: 95,
		},
		Reason: reason,
	}
}

func TestNotifyAlertSkipsWhenNoWebhookConfigured(t *testing.T) {
	n := New(Config{})
	err := n.NotifyAlert(testAlertEvent(alerting.ReasonNewAlert, types.SeverityCritical, types.AlertStatusOpen))
	require.NoError(t, err)
}

func TestNotifyAlertPostsSlackPayload(t *testing.T) {
	var received slackMessage
	var callCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&callCount, 1)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(Config{WebhookURL: server.URL})
	err := n.NotifyAlert(testAlertEvent(alerting.ReasonNewAlert, types.SeverityCritical, types.AlertStatusOpen))
	require.NoError(t, err)

	assert.EqualValues(t, 1, atomic.LoadInt32(&callCount))
	require.Len(t, received.Attachments, 1)
	assert.Equal(t, colorCritical, received.Attachments[0].Color)
	assert.Equal(t, "CPU high on box1", received.Attachments[0].Title)
}

func TestNotifyAlertPrependsReminderPrefixOnCooldown(t *testing.T) {
	var received slackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(Config{WebhookURL: server.URL})
	err := n.NotifyAlert(testAlertEvent(alerting.ReasonCooldown, types.SeverityHigh, types.AlertStatusOpen))
	require.NoError(t, err)
	assert.Contains(t, received.Attachments[0].Title, "[Reminder]")
}

func TestNotifyAlertUsesResolvedColorRegardlessOfSeverity(t *testing.T) {
	var received slackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(Config{WebhookURL: server.URL})
	err := n.NotifyAlert(testAlertEvent(alerting.ReasonResolved, types.SeverityCritical, types.AlertStatusResolved))
	require.NoError(t, err)
	assert.Equal(t, colorResolved, received.Attachments[0].Color)
}

func TestNotifyActionCompletionSkipsWhenNoWebhookConfigured(t *testing.T) {
	n := New(Config{})
	err := n.NotifyActionCompletion(&types.RemediationAction{ID: "a1", Status: types.ActionStatusCompleted})
	require.NoError(t, err)
}

func TestNotifyActionCompletionSuppressedWhenRemediationFlagDisabled(t *testing.T) {
	var callCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&callCount, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(Config{WebhookURL: server.URL, Notify: types.NotificationConfig{NotifyOnRemediation: false}})
	err := n.NotifyActionCompletion(&types.RemediationAction{ID: "a1", Status: types.ActionStatusCompleted})
	require.NoError(t, err)
	assert.EqualValues(t, 0, atomic.LoadInt32(&callCount))
}

func TestNotifyActionCompletionAlwaysSendsOnFailureRegardlessOfFlag(t *testing.T) {
	var callCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&callCount, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(Config{WebhookURL: server.URL, Notify: types.NotificationConfig{NotifyOnRemediation: false}})
	exitCode := 1
	err := n.NotifyActionCompletion(&types.RemediationAction{
		ID: "a1", Status: types.ActionStatusFailed, ExitCode: &exitCode, Stderr: "boom",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&callCount))
}

func TestNotifyActionCompletionTruncatesLongStderr(t *testing.T) {
	var received slackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(Config{WebhookURL: server.URL})
	longStderr := make([]byte, 600)
	for i := range longStderr {
		longStderr[i] = 'x'
	}
	err := n.NotifyActionCompletion(&types.RemediationAction{ID: "a1", Status: types.ActionStatusFailed, Stderr: string(longStderr)})
	require.NoError(t, err)
	require.Len(t, received.Attachments, 1)
	assert.LessOrEqual(t, len(received.Attachments[0].Text), actionStderrCap+3)
	assert.Contains(t, received.Attachments[0].Text, "...")
}

func Test5xxResponseEnqueuesForRetry(t *testing.T) {
	var callCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&callCount, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := New(Config{WebhookURL: server.URL})
	err := n.NotifyAlert(testAlertEvent(alerting.ReasonNewAlert, types.SeverityCritical, types.AlertStatusOpen))
	require.NoError(t, err, "a retryable failure must not propagate to the caller")

	n.mu.Lock()
	queueLen := len(n.queue)
	n.mu.Unlock()
	assert.Equal(t, 1, queueLen)
}

func Test4xxResponseDoesNotRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	n := New(Config{WebhookURL: server.URL})
	err := n.NotifyAlert(testAlertEvent(alerting.ReasonNewAlert, types.SeverityCritical, types.AlertStatusOpen))
	require.NoError(t, err)

	n.mu.Lock()
	queueLen := len(n.queue)
	n.mu.Unlock()
	assert.Equal(t, 0, queueLen)
}

func TestProcessRetryQueueResendsWhenDue(t *testing.T) {
	var callCount int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&callCount, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(Config{WebhookURL: server.URL})
	n.enqueue([]byte(`{"text":"retry me"}`), 0, 0)

	// still not due
	n.mu.Lock()
	n.queue[0].notBefore = time.Now().UTC().Add(time.Hour)
	n.mu.Unlock()
	n.ProcessRetryQueue()
	assert.EqualValues(t, 0, atomic.LoadInt32(&callCount))

	n.mu.Lock()
	n.queue[0].notBefore = time.Now().UTC().Add(-time.Second)
	n.mu.Unlock()
	n.ProcessRetryQueue()
	assert.EqualValues(t, 1, atomic.LoadInt32(&callCount))

	n.mu.Lock()
	queueLen := len(n.queue)
	n.mu.Unlock()
	assert.Equal(t, 0, queueLen)
}

func TestProcessRetryQueueDropsAfterMaxAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := New(Config{WebhookURL: server.URL})
	n.enqueue([]byte(`{"text":"retry me"}`), maxAttempts-1, 0)
	n.mu.Lock()
	n.queue[0].notBefore = time.Now().UTC().Add(-time.Second)
	n.mu.Unlock()

	n.ProcessRetryQueue()

	n.mu.Lock()
	queueLen := len(n.queue)
	n.mu.Unlock()
	assert.Equal(t, 0, queueLen, "exhausted retries must drop the message instead of re-queueing")
}

func TestCheckWebhookHealthReportsUnconfigured(t *testing.T) {
	n := New(Config{})
	result := n.CheckWebhookHealth(context.Background())
	assert.False(t, result.Healthy)
}

func TestCheckWebhookHealthReportsReachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer server.Close()

	n := New(Config{WebhookURL: server.URL})
	result := n.CheckWebhookHealth(context.Background())
	assert.True(t, result.Healthy, "a 405 from a GET still proves the endpoint is reachable")
}

func TestRetryQueueOverflowDropsOldest(t *testing.T) {
	n := New(Config{WebhookURL: "http://example.invalid"})
	for i := 0; i < retryQueueCapacity+10; i++ {
		n.enqueue([]byte(`{"text":"x"}`), 0, 0)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Len(t, n.queue, retryQueueCapacity)
}
