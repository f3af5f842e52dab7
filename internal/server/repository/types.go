package repository

import (
	"time"

	"lastword/internal/shared/models"
)

// DueReminder is a pending reminder joined with the context needed to notify
// the secret's owner: the sweep never loads secret payloads for reminders.
type DueReminder struct {
	Reminder     models.Reminder
	SecretTitle  string
	Deadline     time.Time
	OwnerEmail   string
	CheckInToken string
}
