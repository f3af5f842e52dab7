package notify

import (
	"context"
	"log"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Message is one outbound notification, either a check-in reminder to an
// owner or a disclosure to a recipient.
type Message struct {
	To      string
	Channel Channel
	Subject string
	Body    string
}

// Result is the provider's verdict on a single send. Retryable distinguishes
// transient failures (timeouts, rate limits) from permanent ones (bad
// address, provider auth).
type Result struct {
	Success   bool
	Retryable bool
	Error     string
}

// Dispatcher abstracts the email/SMS provider. Implementations handle
// provider-level concerns; callers decide retry policy from Result.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) Result
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Escalation is an operational alert delivered to the admin channel.
type Escalation struct {
	Severity    Severity
	Kind        string
	Error       string
	SecretTitle string
	RetryCount  int
}

// AdminNotifier delivers escalations. Fire-and-forget: implementations must
// never return and callers must never wait on delivery, so a broken admin
// channel cannot stall a sweep.
type AdminNotifier interface {
	Notify(ctx context.Context, e Escalation)
}

// LogDispatcher writes notifications to the server log instead of a provider.
// Used in development and as the default when no provider is configured.
type LogDispatcher struct {
	Logger *log.Logger
}

func (d *LogDispatcher) Send(_ context.Context, msg Message) Result {
	if d.Logger != nil {
		d.Logger.Printf("notify %s via %s: %s", msg.To, msg.Channel, msg.Subject)
	}
	return Result{Success: true}
}

// LogAdminNotifier logs escalations.
type LogAdminNotifier struct {
	Logger *log.Logger
}

func (n *LogAdminNotifier) Notify(_ context.Context, e Escalation) {
	if n.Logger != nil {
		n.Logger.Printf("ALERT [%s] %s: %s (secret=%q retries=%d)", e.Severity, e.Kind, e.Error, e.SecretTitle, e.RetryCount)
	}
}
