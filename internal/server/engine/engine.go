package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"lastword/internal/server/config"
	"lastword/internal/server/notify"
	"lastword/internal/server/repository"
	cryptohelper "lastword/internal/shared/crypto"
	"lastword/internal/shared/models"
)

// Repository is the slice of the store the sweep needs. The due/overdue
// queries are cron scope by design; everything else is guarded by
// conditional updates so overlapping sweeps converge.
type Repository interface {
	DueReminders(ctx context.Context, now time.Time, limit int) ([]repository.DueReminder, error)
	MarkReminderSent(ctx context.Context, id string, now time.Time) error
	MarkReminderFailed(ctx context.Context, id, errMsg string, now time.Time) error
	BumpReminderRetry(ctx context.Context, id, errMsg string, now time.Time) error
	OverdueSecrets(ctx context.Context, now time.Time, limit int) ([]models.Secret, error)
	MarkTriggered(ctx context.Context, id string, now time.Time) (bool, error)
	RecordDisclosure(ctx context.Context, o models.DisclosureOutcome) error
}

// Engine runs the periodic sweep: due reminders to owners, then overdue
// detection and disclosure. Every entry point is an idempotent command; the
// external scheduler may invoke it any number of times, overlapping included.
type Engine struct {
	repo       Repository
	dispatcher notify.Dispatcher
	admin      notify.AdminNotifier
	masterKey  []byte
	logger     *log.Logger

	batchSize            int
	maxReminderRetries   int
	maxRecipientAttempts int
}

func New(repo Repository, dispatcher notify.Dispatcher, admin notify.AdminNotifier, masterKey []byte, cfg config.Config, logger *log.Logger) *Engine {
	return &Engine{
		repo:                 repo,
		dispatcher:           dispatcher,
		admin:                admin,
		masterKey:            masterKey,
		logger:               logger,
		batchSize:            cfg.SweepBatchSize,
		maxReminderRetries:   cfg.MaxReminderRetries,
		maxRecipientAttempts: cfg.MaxRecipientAttempts,
	}
}

// Summary reports what one sweep invocation did.
type Summary struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Triggered int `json:"triggered"`
}

// Sweep processes one bounded batch of due reminders and overdue secrets.
// Store errors abort the sweep; the scheduler retries on its next tick.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (Summary, error) {
	now = now.UTC()
	var sum Summary

	due, err := e.repo.DueReminders(ctx, now, e.batchSize)
	if err != nil {
		return sum, err
	}
	for _, d := range due {
		sum.Processed++
		sent, err := e.processReminder(ctx, d, now)
		if err != nil {
			return sum, err
		}
		if sent {
			sum.Sent++
		} else {
			sum.Failed++
		}
	}

	overdue, err := e.repo.OverdueSecrets(ctx, now, e.batchSize)
	if err != nil {
		return sum, err
	}
	for _, s := range overdue {
		won, err := e.repo.MarkTriggered(ctx, s.ID, now)
		if err != nil {
			return sum, err
		}
		if !won {
			// another sweep got there first; exactly one trigger happened
			continue
		}
		sum.Triggered++
		e.Disclose(ctx, s, now)
	}

	if e.logger != nil {
		e.logger.Printf("sweep: processed=%d sent=%d failed=%d triggered=%d", sum.Processed, sum.Sent, sum.Failed, sum.Triggered)
	}
	return sum, nil
}

// processReminder notifies the owner a check-in is due. Reminders never carry
// secret content. Returns whether the reminder ended up sent; a retryable
// failure below the cap leaves it pending for the next sweep and counts as
// neither.
func (e *Engine) processReminder(ctx context.Context, d repository.DueReminder, now time.Time) (bool, error) {
	msg := notify.Message{
		To:      d.OwnerEmail,
		Channel: notify.ChannelEmail,
		Subject: fmt.Sprintf("Check-in reminder: %s", d.SecretTitle),
		Body:    reminderBody(d),
	}
	res := e.dispatcher.Send(ctx, msg)
	if res.Success {
		return true, e.repo.MarkReminderSent(ctx, d.Reminder.ID, now)
	}

	if res.Retryable && d.Reminder.RetryCount+1 < e.maxReminderRetries {
		return false, e.repo.BumpReminderRetry(ctx, d.Reminder.ID, res.Error, now)
	}
	if err := e.repo.MarkReminderFailed(ctx, d.Reminder.ID, res.Error, now); err != nil {
		return false, err
	}
	e.admin.Notify(ctx, notify.Escalation{
		Severity:    reminderSeverity(d.Reminder.RetryCount),
		Kind:        "reminder_delivery_failed",
		Error:       res.Error,
		SecretTitle: d.SecretTitle,
		RetryCount:  d.Reminder.RetryCount,
	})
	return false, nil
}

func reminderSeverity(retryCount int) notify.Severity {
	if retryCount > 3 {
		return notify.SeverityHigh
	}
	return notify.SeverityMedium
}

func reminderBody(d repository.DueReminder) string {
	body := fmt.Sprintf("Your secret %q requires a check-in before %s or it will be disclosed to its recipients.",
		d.SecretTitle, d.Deadline.Format(time.RFC1123))
	if d.CheckInToken != "" {
		body += fmt.Sprintf(" Check in without logging in: /api/v1/checkin/%s", d.CheckInToken)
	}
	return body
}

// Disclose decrypts the payload and delivers it to every recipient. The
// secret is already triggered when this runs and stays triggered whatever
// happens here; delivery failures are operational incidents, not state
// transitions. One recipient's failure never blocks the others.
func (e *Engine) Disclose(ctx context.Context, s models.Secret, now time.Time) {
	plaintext, err := cryptohelper.Decrypt(e.masterKey, cryptohelper.Envelope{
		Ciphertext: s.Ciphertext,
		Nonce:      s.Nonce,
		Tag:        s.AuthTag,
	}, []byte(s.ID))
	if err != nil {
		if e.logger != nil {
			e.logger.Printf("disclosure decrypt failed for secret %s: %v", s.ID, err)
		}
		e.admin.Notify(ctx, notify.Escalation{
			Severity:    notify.SeverityCritical,
			Kind:        "disclosure_decrypt_failed",
			Error:       err.Error(),
			SecretTitle: s.Title,
		})
		return
	}

	for _, rcpt := range s.Recipients {
		for _, ch := range recipientChannels(rcpt) {
			e.deliverToRecipient(ctx, s, rcpt, ch, plaintext, now)
		}
	}
}

type recipientChannel struct {
	channel notify.Channel
	to      string
}

func recipientChannels(r models.Recipient) []recipientChannel {
	var out []recipientChannel
	if (r.ContactMethod == models.ContactEmail || r.ContactMethod == models.ContactBoth) && r.Email != "" {
		out = append(out, recipientChannel{channel: notify.ChannelEmail, to: r.Email})
	}
	if (r.ContactMethod == models.ContactSMS || r.ContactMethod == models.ContactBoth) && r.Phone != "" {
		out = append(out, recipientChannel{channel: notify.ChannelSMS, to: r.Phone})
	}
	return out
}

// deliverToRecipient sends the disclosure over one channel with bounded
// in-call retries and records a durable outcome either way. Disclosure
// failures escalate critical regardless of how many retries were spent.
func (e *Engine) deliverToRecipient(ctx context.Context, s models.Secret, rcpt models.Recipient, ch recipientChannel, plaintext []byte, now time.Time) {
	msg := notify.Message{
		To:      ch.to,
		Channel: ch.channel,
		Subject: fmt.Sprintf("A message was left for you: %s", s.Title),
		Body:    string(plaintext),
	}
	var res notify.Result
	attempts := 0
	for attempts < e.maxRecipientAttempts {
		attempts++
		res = e.dispatcher.Send(ctx, msg)
		if res.Success || !res.Retryable {
			break
		}
	}
	outcome := models.DisclosureOutcome{
		SecretID:      s.ID,
		RecipientName: rcpt.Name,
		Channel:       string(ch.channel),
		Success:       res.Success,
		Attempts:      attempts,
		Error:         res.Error,
		CompletedAt:   now,
	}
	if err := e.repo.RecordDisclosure(ctx, outcome); err != nil && e.logger != nil {
		e.logger.Printf("record disclosure outcome for secret %s: %v", s.ID, err)
	}
	if !res.Success {
		e.admin.Notify(ctx, notify.Escalation{
			Severity:    notify.SeverityCritical,
			Kind:        "disclosure_delivery_failed",
			Error:       res.Error,
			SecretTitle: s.Title,
			RetryCount:  attempts,
		})
	}
}
