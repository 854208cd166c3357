// Package notification fans pipeline outcomes out to pluggable channels: a
// terminal log line, a webhook, or anything else implementing Channel. The
// center routes by explicit channel name or a configured default, keeps a
// bounded delivery history, and fans critical notifications out to every
// channel that can take them.
package notification

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NotificationPriority orders notifications from informational to critical.
type NotificationPriority int

const (
	PriorityLow NotificationPriority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p NotificationPriority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("PRIORITY(%d)", int(p))
	}
}

// ParsePriority maps a config string to a priority. Empty and unknown
// strings both come back as PriorityLow so a channel without a configured
// floor accepts everything.
func ParsePriority(s string) NotificationPriority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "normal":
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// Notification is one user-facing event. Channel picks an explicit route; an
// empty Channel goes to the center's default.
type Notification struct {
	ID        string
	UserID    string
	Title     string
	Body      string
	Priority  NotificationPriority
	Channel   string
	Metadata  map[string]string
	CreatedAt time.Time
}

// DeliveryStatus is the outcome of one delivery attempt.
type DeliveryStatus string

const (
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
)

// SendResult records one delivery attempt for the history.
type SendResult struct {
	NotificationID string
	UserID         string
	Channel        string
	Status         DeliveryStatus
	Error          string
	SentAt         time.Time
}

// Channel delivers notifications over one transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	Supports(p NotificationPriority) bool
}

// ChannelConfig holds per-channel routing policy.
type ChannelConfig struct {
	Name        string
	Enabled     bool
	MinPriority NotificationPriority
	IsDefault   bool
}

type registeredChannel struct {
	channel Channel
	config  ChannelConfig
}

// Center routes notifications to registered channels.
type Center struct {
	mu          sync.RWMutex
	channels    map[string]*registeredChannel
	defaultName string
	history     []SendResult
	historySize int
}

// CenterOption configures a Center.
type CenterOption func(*Center)

// WithDefaultChannel routes notifications without an explicit channel to name.
func WithDefaultChannel(name string) CenterOption {
	return func(c *Center) {
		c.defaultName = name
	}
}

// WithHistorySize bounds the retained delivery history.
func WithHistorySize(n int) CenterOption {
	return func(c *Center) {
		if n > 0 {
			c.historySize = n
		}
	}
}

const defaultHistorySize = 100

// NewCenter builds an empty Center.
func NewCenter(opts ...CenterOption) *Center {
	c := &Center{
		channels:    make(map[string]*registeredChannel),
		historySize: defaultHistorySize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterChannel adds ch under its own name. A config marked IsDefault
// becomes the new default route.
func (c *Center) RegisterChannel(ch Channel, cfg ChannelConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg.Name = ch.Name()
	c.channels[cfg.Name] = &registeredChannel{channel: ch, config: cfg}
	if cfg.IsDefault {
		c.defaultName = cfg.Name
	}
}

// UnregisterChannel removes a channel; removing the default clears it.
func (c *Center) UnregisterChannel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, name)
	if c.defaultName == name {
		c.defaultName = ""
	}
}

// SetDefault reroutes unaddressed notifications to name.
func (c *Center) SetDefault(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[name]; !ok {
		return fmt.Errorf("channel %q not registered", name)
	}
	c.defaultName = name
	return nil
}

// ListChannels returns the routing policy of every registered channel, the
// IsDefault flag reflecting the current default.
func (c *Center) ListChannels() []ChannelConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ChannelConfig, 0, len(c.channels))
	for name, reg := range c.channels {
		cfg := reg.config
		cfg.IsDefault = name == c.defaultName
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Send delivers n to its channel, or the default when n.Channel is empty.
// Delivery failures come back in the result, not the error; the error is
// reserved for unroutable notifications. Critical notifications additionally
// fan out to every other channel that accepts them.
func (c *Center) Send(ctx context.Context, n Notification) (SendResult, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	target := n.Channel
	if target == "" {
		c.mu.RLock()
		target = c.defaultName
		c.mu.RUnlock()
	}
	if target == "" {
		return SendResult{}, fmt.Errorf("no channel specified and no default configured")
	}

	result := c.deliver(ctx, n, target)
	c.record(result)

	if n.Priority >= PriorityCritical {
		for _, name := range c.channelNames() {
			if name == target {
				continue
			}
			c.record(c.deliver(ctx, n, name))
		}
	}

	return result, nil
}

// SendMulti delivers n to each named channel, returning one result per name
// in order.
func (c *Center) SendMulti(ctx context.Context, n Notification, channels []string) ([]SendResult, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	results := make([]SendResult, 0, len(channels))
	for _, name := range channels {
		result := c.deliver(ctx, n, name)
		c.record(result)
		results = append(results, result)
	}
	return results, nil
}

// History returns recent delivery results, newest first, optionally filtered
// by user.
func (c *Center) History(userID string, limit int) []SendResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]SendResult, 0, limit)
	for i := len(c.history) - 1; i >= 0; i-- {
		if userID != "" && c.history[i].UserID != userID {
			continue
		}
		out = append(out, c.history[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (c *Center) deliver(ctx context.Context, n Notification, name string) SendResult {
	result := SendResult{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Channel:        name,
		SentAt:         time.Now(),
	}

	c.mu.RLock()
	reg, ok := c.channels[name]
	c.mu.RUnlock()

	switch {
	case !ok:
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("channel %q not found", name)
	case !reg.config.Enabled:
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("channel %q is disabled", name)
	case n.Priority < reg.config.MinPriority:
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("priority %s below channel minimum %s", n.Priority, reg.config.MinPriority)
	case !reg.channel.Supports(n.Priority):
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("channel %q does not support priority %s", name, n.Priority)
	default:
		if err := reg.channel.Send(ctx, n); err != nil {
			result.Status = StatusFailed
			result.Error = err.Error()
		} else {
			result.Status = StatusDelivered
		}
	}
	return result
}

func (c *Center) channelNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.channels))
	for name := range c.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Center) record(result SendResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, result)
	if len(c.history) > c.historySize {
		c.history = c.history[len(c.history)-c.historySize:]
	}
}
