package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Transport delivers one rendered message. Errors wrapped with Permanent are
// not retried.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, msg Message) error

func (f TransportFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Webhook posts each message as JSON to a fixed URL. A 4xx answer is a
// permanent failure; network errors and 5xx answers are retried.
type Webhook struct {
	URL    string
	Client *http.Client
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (w *Webhook) Send(ctx context.Context, msg Message) error {
	body, err := jsoniter.Marshal(msg)
	if err != nil {
		return Permanent(fmt.Errorf("encode message: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Notification-Job", string(msg.JobID))
	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Permanent(fmt.Errorf("webhook rejected message: status %d", resp.StatusCode))
	default:
		return fmt.Errorf("webhook unavailable: status %d", resp.StatusCode)
	}
}

// LogFile appends one line per message to a file, creating its directory
// on first use.
type LogFile struct {
	Path string
	mu   sync.Mutex
}

func NewLogFile(path string) *LogFile {
	if path == "" {
		path = filepath.Join("logs", "notifications.log")
	}
	return &LogFile{Path: path}
}

func (l *LogFile) Send(_ context.Context, msg Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	body := strings.ReplaceAll(strings.TrimSpace(msg.Body), "\n", " / ")
	line := fmt.Sprintf("[%s] %s | job_id=%s | to=%s | subject=%q | body=%q\n",
		time.Now().UTC().Format(time.RFC3339), msg.Type, msg.JobID, msg.To, msg.Subject, body)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
