package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	perrors "parkwatch/internal/errors"
	"parkwatch/internal/logging"
)

// Notification channel names. A recipient "sms:+886912345678" goes to the
// sms channel; a recipient without a known prefix goes to the default one.
const (
	ChannelLog   = "log"
	ChannelSMS   = "sms"
	ChannelEmail = "email"
	ChannelMQTT  = "mqtt"
)

// Notifier delivers a text message to a recipient.
type Notifier interface {
	Deliver(ctx context.Context, recipient, text string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, recipient, text string) error

func (f NotifierFunc) Deliver(ctx context.Context, recipient, text string) error {
	return f(ctx, recipient, text)
}

// NotifierRouter dispatches deliveries by recipient prefix.
type NotifierRouter struct {
	mu             sync.RWMutex
	channels       map[string]Notifier
	defaultChannel string
}

// NewNotifierRouter returns a router with the log channel registered.
func NewNotifierRouter(defaultChannel string, log *logging.Logger) *NotifierRouter {
	if defaultChannel == "" {
		defaultChannel = ChannelLog
	}
	r := &NotifierRouter{
		channels:       make(map[string]Notifier),
		defaultChannel: defaultChannel,
	}
	r.Register(ChannelLog, NewLogNotifier(log))
	return r
}

func (r *NotifierRouter) Register(channel string, n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[channel] = n
}

// Channels returns the registered channel names, sorted.
func (r *NotifierRouter) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.channels))
	for name := range r.channels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Route returns the notifier and the address a recipient maps to.
func (r *NotifierRouter) Route(recipient string) (Notifier, string, error) {
	recipient = strings.TrimSpace(recipient)
	channel, address := r.defaultChannel, recipient
	if prefix, rest, ok := strings.Cut(recipient, ":"); ok && isChannelName(prefix) {
		channel, address = prefix, strings.TrimSpace(rest)
	}
	if address == "" {
		return nil, "", perrors.New(perrors.InvalidRequest, "請提供通知對象。")
	}

	r.mu.RLock()
	n, ok := r.channels[channel]
	r.mu.RUnlock()
	if !ok {
		return nil, "", perrors.New(perrors.InvalidRequest, fmt.Sprintf("通知管道 %s 未啟用。", channel))
	}
	return n, address, nil
}

func (r *NotifierRouter) Deliver(ctx context.Context, recipient, text string) error {
	n, address, err := r.Route(recipient)
	if err != nil {
		return err
	}
	return n.Deliver(ctx, address, text)
}

func isChannelName(s string) bool {
	switch s {
	case ChannelLog, ChannelSMS, ChannelEmail, ChannelMQTT:
		return true
	}
	return false
}

// LogNotifier writes notifications to the log. It is always available.
type LogNotifier struct {
	log *logging.Logger
}

func NewLogNotifier(log *logging.Logger) *LogNotifier {
	return &LogNotifier{log: log.With("component", "notify", "channel", ChannelLog)}
}

func (n *LogNotifier) Deliver(_ context.Context, recipient, text string) error {
	n.log.Info("notification", "recipient", recipient, "text", text)
	return nil
}
