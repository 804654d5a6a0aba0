package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"parkwatch/internal/entities"
	perrors "parkwatch/internal/errors"
	"parkwatch/internal/logging"
)

const defaultDeliveryTimeout = 15 * time.Second

// SenderService composes monitor notifications and hands them to a Notifier.
type SenderService struct {
	notifier Notifier
	timeout  time.Duration
	log      *logging.Logger
}

func NewSenderService(notifier Notifier, log *logging.Logger) *SenderService {
	return &SenderService{
		notifier: notifier,
		timeout:  defaultDeliveryTimeout,
		log:      log.With("component", "sender"),
	}
}

// recipientRouter is implemented by notifiers that can reject a recipient
// before anything is sent.
type recipientRouter interface {
	Route(recipient string) (Notifier, string, error)
}

// CheckRecipient reports whether recipient can be delivered to.
func (s *SenderService) CheckRecipient(recipient string) error {
	if strings.TrimSpace(recipient) == "" {
		return perrors.New(perrors.InvalidRequest, "請提供通知對象。")
	}
	if r, ok := s.notifier.(recipientRouter); ok {
		_, _, err := r.Route(recipient)
		return err
	}
	return nil
}

// NewSpotsNotification lists every new spot as segment, zone and number.
func NewSpotsNotification(monitorID, recipient, query string, spots []entities.ClassifiedSpot) entities.Notification {
	subject := fmt.Sprintf("%s 有新的空車位", query)
	var b strings.Builder
	b.WriteString(subject)
	b.WriteString("：")
	for _, s := range spots {
		fmt.Fprintf(&b, "\n%s %s %s 號", s.SegmentName, s.Zone, s.Number)
	}
	return entities.Notification{MonitorID: monitorID, Recipient: recipient, Subject: subject, Text: b.String()}
}

// TimeoutNotification tells the recipient the window passed without news.
func TimeoutNotification(monitorID, recipient, query string, window time.Duration) entities.Notification {
	subject := fmt.Sprintf("%s 監控結束", query)
	text := fmt.Sprintf("%s\n在 %s 內沒有新的空車位，已停止監控。", subject, windowText(window))
	return entities.Notification{MonitorID: monitorID, Recipient: recipient, Subject: subject, Text: text}
}

func windowText(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%d 分鐘", int(d/time.Minute))
	}
	return fmt.Sprintf("%d 秒", int(d.Round(time.Second)/time.Second))
}

// Send delivers n once. The delivery outlives the caller's cancellation but
// is bounded by the sender timeout. Failures are logged and returned, never
// retried.
func (s *SenderService) Send(ctx context.Context, n entities.Notification) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.notifier.Deliver(ctx, n.Recipient, n.Text); err != nil {
		s.log.Error("notification delivery failed", "monitor", n.MonitorID, "recipient", n.Recipient, "error", err)
		return err
	}
	s.log.Info("notification delivered", "monitor", n.MonitorID, "recipient", n.Recipient, "subject", n.Subject)
	return nil
}
