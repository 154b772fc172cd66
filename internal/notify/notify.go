// Package notify sends operator alerts through an HTTP sink,
// generalizing the teacher's src/notify/telegram.go single-purpose
// Telegram poster into a priority-aware, rate-capped sink: every
// priority has its own cap, and CRITICAL alerts on the
// same key are deduplicated for a day so a stuck condition doesn't
// spam.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Priority is the severity of a notification.
type Priority string

const (
	PriorityCritical  Priority = "CRITICAL"
	PriorityError     Priority = "ERROR"
	PriorityWarning   Priority = "WARNING"
	PriorityInfo      Priority = "INFO"
	PriorityHeartbeat Priority = "HEARTBEAT"
)

// rateLimit describes how many notifications of a priority may be sent
// within window.
type rateLimit struct {
	max    int
	window time.Duration
}

var limits = map[Priority]rateLimit{
	PriorityCritical:  {max: 6, window: time.Hour},
	PriorityError:     {max: 5, window: time.Minute},
	PriorityWarning:   {max: 10, window: time.Minute},
	PriorityInfo:      {max: 60, window: time.Minute},
	PriorityHeartbeat: {max: 24, window: 24 * time.Hour},
}

const criticalDedupWindow = 24 * time.Hour

// Sink posts a message to a Telegram-style bot HTTP API, matching the
// teacher's SendMessage payload shape.
type Sink struct {
	botToken string
	chatID   string
	client   *http.Client
	enabled  bool

	mu        sync.Mutex
	sentAt    map[Priority][]time.Time
	dedupSeen map[string]time.Time
}

// NewSink builds a Sink. When botToken or chatID is empty the sink is
// disabled and every Send call becomes a silent no-op, matching the
// teacher's enabled flag.
func NewSink(botToken, chatID string) *Sink {
	return &Sink{
		botToken:  botToken,
		chatID:    chatID,
		client:    &http.Client{Timeout: 10 * time.Second},
		enabled:   botToken != "" && chatID != "",
		sentAt:    make(map[Priority][]time.Time),
		dedupSeen: make(map[string]time.Time),
	}
}

// Send delivers text at priority, subject to that priority's rate cap.
// dedupKey, if non-empty, additionally suppresses CRITICAL repeats of
// the same key within 24h. Rate-limited or deduplicated sends return
// nil without contacting the venue.
func (s *Sink) Send(priority Priority, dedupKey, text string) error {
	if !s.enabled {
		return nil
	}

	if !s.allow(priority, dedupKey) {
		return nil
	}

	payload := map[string]interface{}{
		"chat_id":    s.chatID,
		"text":       fmt.Sprintf("[%s] %s", priority, text),
		"parse_mode": "HTML",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", s.botToken)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("notification API error: status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (s *Sink) allow(priority Priority, dedupKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	if priority == PriorityCritical && dedupKey != "" {
		if last, ok := s.dedupSeen[dedupKey]; ok && now.Sub(last) < criticalDedupWindow {
			return false
		}
		s.dedupSeen[dedupKey] = now
	}

	lim, ok := limits[priority]
	if !ok {
		return true
	}

	cutoff := now.Add(-lim.window)
	kept := s.sentAt[priority][:0]
	for _, t := range s.sentAt[priority] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= lim.max {
		s.sentAt[priority] = kept
		return false
	}
	s.sentAt[priority] = append(kept, now)
	return true
}
