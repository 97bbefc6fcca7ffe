// Package notify delivers alerts by email and push, best effort.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"voice-guard-go/internal/apperr"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// Delivery records the outcome of one send to one recipient.
type Delivery struct {
	Channel   Channel `json:"channel"`
	Recipient string  `json:"recipient"`
	Err       error   `json:"-"`
}

func (d Delivery) OK() bool { return d.Err == nil }

type Report struct {
	Deliveries []Delivery
}

func (r Report) Count(ch Channel) (sent, failed int) {
	for _, d := range r.Deliveries {
		if d.Channel != ch {
			continue
		}
		if d.OK() {
			sent++
		} else {
			failed++
		}
	}
	return sent, failed
}

// Batch is the set of sends for one notification stage.
type Batch struct {
	Emails []Email
	Pushes []PushMessage
}

func (b Batch) Empty() bool { return len(b.Emails) == 0 && len(b.Pushes) == 0 }

// Notifier fans a Batch out concurrently. Every email is its own unit of
// work; pushes go out as one batch. A failed send is recorded and never
// cancels its siblings.
type Notifier struct {
	mailer      Mailer
	pusher      Pusher
	concurrency int
	log         *logrus.Entry
}

// NewNotifier accepts a nil mailer or pusher; the matching channel is then skipped.
func NewNotifier(mailer Mailer, pusher Pusher, concurrency int, log *logrus.Entry) *Notifier {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Notifier{mailer: mailer, pusher: pusher, concurrency: concurrency, log: log.WithField("module", "notify")}
}

// Deliver waits for every send to settle and returns their outcomes.
func (n *Notifier) Deliver(ctx context.Context, b Batch) Report {
	start := time.Now()
	emails := b.Emails
	if n.mailer == nil && len(emails) > 0 {
		n.log.WithField("emails", len(emails)).Warn("no mailer configured, skipping email delivery")
		emails = nil
	}
	pushes := b.Pushes
	if n.pusher == nil && len(pushes) > 0 {
		n.log.WithField("pushes", len(pushes)).Warn("no pusher configured, skipping push delivery")
		pushes = nil
	}

	emailOut := make([]Delivery, len(emails))
	var pushOut []Delivery

	// Goroutines always return nil: errors are captured per delivery so one
	// failure cannot cancel the group context for the others.
	var g errgroup.Group
	g.SetLimit(n.concurrency)
	if len(pushes) > 0 {
		g.Go(func() error {
			pushOut = n.push(ctx, pushes)
			return nil
		})
	}
	for i, e := range emails {
		g.Go(func() error {
			emailOut[i] = n.email(ctx, e)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Deliveries: append(emailOut, pushOut...)}
	emailSent, emailFailed := report.Count(ChannelEmail)
	pushSent, pushFailed := report.Count(ChannelPush)
	n.log.WithFields(logrus.Fields{
		"email_sent":   emailSent,
		"email_failed": emailFailed,
		"push_sent":    pushSent,
		"push_failed":  pushFailed,
		"duration_ms":  time.Since(start).Milliseconds(),
	}).Info("delivery finished")
	return report
}

func (n *Notifier) email(ctx context.Context, e Email) Delivery {
	d := Delivery{Channel: ChannelEmail, Recipient: e.To}
	if err := n.mailer.Send(ctx, e); err != nil {
		d.Err = apperr.New(apperr.Delivery, "email", err)
		n.log.WithFields(logrus.Fields{"to": e.To, "error": err.Error()}).Warn("email delivery failed")
	}
	return d
}

func (n *Notifier) push(ctx context.Context, msgs []PushMessage) []Delivery {
	results, err := n.pusher.SendBatch(ctx, msgs)

	out := make([]Delivery, len(msgs))
	byToken := make(map[string]error, len(results))
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		byToken[r.Token] = r.Err
		seen[r.Token] = true
	}
	for i, m := range msgs {
		d := Delivery{Channel: ChannelPush, Recipient: m.Token}
		switch {
		case seen[m.Token] && byToken[m.Token] != nil:
			d.Err = apperr.New(apperr.Delivery, "push", byToken[m.Token])
		case !seen[m.Token]:
			cause := err
			if cause == nil {
				cause = errors.New("no result for token")
			}
			d.Err = apperr.New(apperr.Delivery, "push", cause)
		}
		out[i] = d
	}
	if err != nil {
		n.log.WithField("error", err.Error()).Warn("push batch failed")
	}
	if _, failed := (Report{Deliveries: out}).Count(ChannelPush); failed > 0 {
		n.log.WithFields(logrus.Fields{"failed": failed, "total": len(out)}).Warn("push batch partially rejected")
	}
	return out
}
