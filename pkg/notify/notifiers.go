// Package notify delivers user-visible warnings raised by the resolver.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"
)

// LogNotifier records warnings in the structured log
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a new log notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{
		logger: logger,
	}
}

// Notify logs the warning
func (n *LogNotifier) Notify(warning Warning) error {
	n.logger.Warn(warning.Message,
		zap.String("kind", string(warning.Kind)),
		zap.String("source", warning.Source),
		zap.Time("timestamp", warning.Timestamp))
	return nil
}

// WriterNotifier prints warnings as colored lines to a writer
type WriterNotifier struct {
	out io.Writer
	mu  sync.Mutex
}

// NewWriterNotifier creates a new writer notifier
func NewWriterNotifier(out io.Writer) *WriterNotifier {
	return &WriterNotifier{out: out}
}

// Notify writes the warning to the underlying writer
func (n *WriterNotifier) Notify(warning Warning) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	label := color.New(color.FgYellow, color.Bold).Sprint("warning:")
	_, err := fmt.Fprintf(n.out, "%s %s (%s)\n", label, warning.Message, warning.Source)
	return err
}

// WebhookNotifier sends warnings to a webhook URL
type WebhookNotifier struct {
	webhookURL string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewWebhookNotifier creates a new webhook notifier
func NewWebhookNotifier(webhookURL string, logger *zap.Logger) *WebhookNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookNotifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Notify posts the warning as JSON to the configured webhook
func (n *WebhookNotifier) Notify(warning Warning) error {
	payload, err := json.Marshal(warning)
	if err != nil {
		return fmt.Errorf("failed to marshal warning: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, n.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}

	n.logger.Debug("webhook notification sent",
		zap.String("url", n.webhookURL),
		zap.String("source", warning.Source),
		zap.Int("statusCode", resp.StatusCode))

	return nil
}

// Recorder keeps the most recent warnings in memory
type Recorder struct {
	limit    int
	warnings []Warning
	mu       sync.RWMutex
}

// NewRecorder creates a recorder holding at most limit warnings
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = 100
	}
	return &Recorder{limit: limit}
}

// Notify stores the warning, evicting the oldest when full
func (r *Recorder) Notify(warning Warning) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.warnings = append(r.warnings, warning)
	if over := len(r.warnings) - r.limit; over > 0 {
		r.warnings = append([]Warning(nil), r.warnings[over:]...)
	}
	return nil
}

// Warnings returns a copy of the recorded warnings, oldest first
func (r *Recorder) Warnings() []Warning {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Warning, len(r.warnings))
	copy(result, r.warnings)
	return result
}

// Multi fans a warning out to several notifiers
type Multi []Notifier

// Notify delivers to every notifier and returns the first error
func (m Multi) Notify(warning Warning) error {
	var first error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(warning); err != nil && first == nil {
			first = err
		}
	}
	return first
}
