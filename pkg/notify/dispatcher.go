// Package notify delivers qualification and security alerts over
// independent channels. Delivery is best effort: each channel retries a
// bounded number of times, logs its failures, and never raises them back
// to the conversation that triggered the alert.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/localos/nuru/pkg/lead"
	"github.com/localos/nuru/pkg/security"
	"github.com/localos/nuru/pkg/work"
)

// Payload is one alert rendered for every channel. Senders pick the
// representation they need.
type Payload struct {
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a payload over one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, p Payload) error
}

// Dispatcher fans an alert out to every configured sender through the
// worker pool. A channel that fails exhausts its retries alone; the other
// channels are unaffected.
type Dispatcher struct {
	senders []Sender
	pool    *work.Pool
	retries int
	wait    time.Duration
	log     *zap.Logger
}

func NewDispatcher(senders []Sender, pool *work.Pool, retries int, wait time.Duration, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{senders: senders, pool: pool, retries: retries, wait: wait, log: log}
}

// DispatchQualified sends the new-lead alert. Never blocks the caller.
func (d *Dispatcher) DispatchQualified(p lead.Profile) {
	d.fanOut("lead", renderLead(p))
}

// DispatchSecurityAlert sends the injection-attempt alert. Reconnaissance
// events are logged upstream and never reach the dispatcher.
func (d *Dispatcher) DispatchSecurityAlert(ev security.Event) {
	d.fanOut("security", renderSecurity(ev))
}

func (d *Dispatcher) fanOut(kind string, p Payload) {
	for _, s := range d.senders {
		s := s
		name := fmt.Sprintf("notify.%s.%s", kind, s.Name())
		if !d.pool.Submit(name, func(ctx context.Context) error {
			return d.sendWithRetry(ctx, s, p)
		}) {
			d.log.Warn("notification dropped, pool at capacity",
				zap.String("channel", s.Name()), zap.String("kind", kind))
		}
	}
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, s Sender, p Payload) error {
	var err error
	for attempt := 0; attempt <= d.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(d.wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = s.Send(ctx, p); err == nil {
			return nil
		}
		d.log.Warn("notification attempt failed",
			zap.String("channel", s.Name()),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return fmt.Errorf("notify: %s exhausted %d attempts: %w", s.Name(), d.retries+1, err)
}

func renderLead(p lead.Profile) Payload {
	subject := "New qualified lead"
	if p.Company != "" {
		subject = "New qualified lead: " + p.Company
	}

	rows := []struct{ label, value string }{
		{"Trigger", string(p.Trigger)},
		{"Company", orDash(p.Company)},
		{"Industry", orDash(p.Industry)},
		{"Email", orDash(p.Email)},
		{"Phone", orDash(p.Phone)},
		{"Budget", orDash(p.Budget)},
		{"Timeline", orDash(p.Timeline)},
		{"Problem", orDash(p.Problem)},
	}

	var text, htm strings.Builder
	htm.WriteString("<h3>" + html.EscapeString(subject) + "</h3><table>")
	for _, r := range rows {
		fmt.Fprintf(&text, "%s: %s\n", r.label, r.value)
		// Every field is visitor-sourced; escape before embedding in markup.
		fmt.Fprintf(&htm, "<tr><td><b>%s</b></td><td>%s</td></tr>",
			r.label, html.EscapeString(r.value))
	}
	htm.WriteString("</table>")

	if p.Summary != "" {
		fmt.Fprintf(&text, "\nHandoff brief:\n%s\n", p.Summary)
		fmt.Fprintf(&htm, "<p><b>Handoff brief</b></p><pre>%s</pre>", html.EscapeString(p.Summary))
	}

	return Payload{Subject: subject, Text: text.String(), HTML: htm.String()}
}

func renderSecurity(ev security.Event) Payload {
	subject := "Injection attempt detected"
	text := fmt.Sprintf("Conversation %d matched pattern %q\nSource: %s\nMessage: %s\n",
		ev.ConversationID, ev.MatchedPattern, orDash(ev.SourceAddress), ev.MessageContent)
	htm := fmt.Sprintf("<h3>%s</h3><p>Conversation %d matched pattern <code>%s</code></p><p>Source: %s</p><pre>%s</pre>",
		subject, ev.ConversationID,
		html.EscapeString(ev.MatchedPattern),
		html.EscapeString(orDash(ev.SourceAddress)),
		html.EscapeString(ev.MessageContent))
	return Payload{Subject: subject, Text: text, HTML: htm}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
