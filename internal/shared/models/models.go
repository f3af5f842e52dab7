package models

import "time"

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// SecretStatus is the lifecycle state of a secret. triggered is terminal.
type SecretStatus string

const (
	SecretStatusActive    SecretStatus = "active"
	SecretStatusPaused    SecretStatus = "paused"
	SecretStatusTriggered SecretStatus = "triggered"
)

type ContactMethod string

const (
	ContactEmail ContactMethod = "email"
	ContactSMS   ContactMethod = "sms"
	ContactBoth  ContactMethod = "both"
)

// Recipient is a person the secret is disclosed to after a missed deadline.
type Recipient struct {
	Name          string        `json:"name"`
	Email         string        `json:"email,omitempty"`
	Phone         string        `json:"phone,omitempty"`
	ContactMethod ContactMethod `json:"contact_method"`
}

// Secret holds an owner's encrypted payload together with its dead-man's-switch
// clock. Ciphertext, nonce and auth tag are opaque to everything but the
// disclosure path and are never serialized to API clients.
type Secret struct {
	ID                  string       `json:"id"`
	OwnerID             string       `json:"owner_id"`
	Title               string       `json:"title"`
	Ciphertext          []byte       `json:"-"`
	Nonce               []byte       `json:"-"`
	AuthTag             []byte       `json:"-"`
	Recipients          []Recipient  `json:"recipients"`
	CheckInIntervalDays int          `json:"check_in_interval_days"`
	LastCheckIn         time.Time    `json:"last_check_in"`
	NextCheckIn         time.Time    `json:"next_check_in"`
	Status              SecretStatus `json:"status"`
	TriggeredAt         *time.Time   `json:"triggered_at,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

type ReminderStatus string

const (
	ReminderStatusPending   ReminderStatus = "pending"
	ReminderStatusSent      ReminderStatus = "sent"
	ReminderStatusFailed    ReminderStatus = "failed"
	ReminderStatusCancelled ReminderStatus = "cancelled"
)

// Reminder is one materialized milestone of a secret's reminder schedule.
// Sent reminders are immutable history; a check-in cancels stale pending ones.
type Reminder struct {
	ID           string         `json:"id"`
	SecretID     string         `json:"secret_id"`
	Type         string         `json:"type"`
	ScheduledFor time.Time      `json:"scheduled_for"`
	Status       ReminderStatus `json:"status"`
	RetryCount   int            `json:"retry_count"`
	LastRetryAt  *time.Time     `json:"last_retry_at,omitempty"`
	Error        string         `json:"error,omitempty"`
	SentAt       *time.Time     `json:"sent_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// CheckInToken is a single-use token the owner redeems instead of logging in.
// Valid iff not expired and UsedAt is nil.
type CheckInToken struct {
	Token     string     `json:"token"`
	SecretID  string     `json:"secret_id"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// DisclosureOutcome is the durable audit record of one delivery attempt chain
// to one recipient over one channel.
type DisclosureOutcome struct {
	ID            string    `json:"id"`
	SecretID      string    `json:"secret_id"`
	RecipientName string    `json:"recipient_name"`
	Channel       string    `json:"channel"`
	Success       bool      `json:"success"`
	Attempts      int       `json:"attempts"`
	Error         string    `json:"error,omitempty"`
	CompletedAt   time.Time `json:"completed_at"`
}
