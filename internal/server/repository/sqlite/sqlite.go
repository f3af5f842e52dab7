package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"lastword/internal/server/repository"
	"lastword/internal/server/schedule"
	"lastword/internal/shared/models"
)

type Repository struct {
	db *sql.DB
}

func New(dsn string) (*Repository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			password_hash BLOB NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS refresh_tokens (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(id)
		);
		CREATE TABLE IF NOT EXISTS secrets (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			title TEXT NOT NULL,
			ciphertext BLOB NOT NULL,
			nonce BLOB NOT NULL,
			auth_tag BLOB NOT NULL,
			recipients BLOB NOT NULL,
			interval_days INTEGER NOT NULL,
			last_check_in TIMESTAMP NOT NULL,
			next_check_in TIMESTAMP NOT NULL,
			status TEXT NOT NULL,
			triggered_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			FOREIGN KEY(owner_id) REFERENCES users(id)
		);
		CREATE INDEX IF NOT EXISTS idx_secrets_status_next ON secrets(status, next_check_in);
		CREATE TABLE IF NOT EXISTS reminders (
			id TEXT PRIMARY KEY,
			secret_id TEXT NOT NULL,
			type TEXT NOT NULL,
			scheduled_for TIMESTAMP NOT NULL,
			status TEXT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_retry_at TIMESTAMP,
			error TEXT NOT NULL DEFAULT '',
			sent_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY(secret_id) REFERENCES secrets(id)
		);
		CREATE INDEX IF NOT EXISTS idx_reminders_status_sched ON reminders(status, scheduled_for);
		CREATE TABLE IF NOT EXISTS check_in_tokens (
			token TEXT PRIMARY KEY,
			secret_id TEXT NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			used_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY(secret_id) REFERENCES secrets(id)
		);
		CREATE TABLE IF NOT EXISTS disclosures (
			id TEXT PRIMARY KEY,
			secret_id TEXT NOT NULL,
			recipient_name TEXT NOT NULL,
			channel TEXT NOT NULL,
			success INTEGER NOT NULL,
			attempts INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			completed_at TIMESTAMP NOT NULL,
			FOREIGN KEY(secret_id) REFERENCES secrets(id)
		);
	`); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error { return r.db.Close() }

// Auth

func (r *Repository) CreateUser(ctx context.Context, email string, passwordHash []byte) (models.User, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `INSERT INTO users(id,email,password_hash,created_at) VALUES(?,?,?,?)`, id, email, passwordHash, now)
	if err != nil {
		return models.User{}, err
	}
	return models.User{ID: id, Email: email, CreatedAt: now}, nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (id string, passwordHash []byte, err error) {
	row := r.db.QueryRowContext(ctx, `SELECT id,password_hash FROM users WHERE email = ?`, email)
	if err = row.Scan(&id, &passwordHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, sql.ErrNoRows
		}
		return "", nil, err
	}
	return
}

func (r *Repository) CreateRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO refresh_tokens(token, user_id, expires_at, created_at) VALUES(?,?,?,?)`, token, userID, expiresAt, time.Now().UTC())
	return err
}

func (r *Repository) GetRefreshToken(ctx context.Context, token string) (userID string, expiresAt time.Time, err error) {
	row := r.db.QueryRowContext(ctx, `SELECT user_id, expires_at FROM refresh_tokens WHERE token = ?`, token)
	err = row.Scan(&userID, &expiresAt)
	return
}

func (r *Repository) DeleteRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = ?`, token)
	return err
}

// Secrets

const secretColumns = `id, owner_id, title, ciphertext, nonce, auth_tag, recipients, interval_days, last_check_in, next_check_in, status, triggered_at, created_at, updated_at`

// CreateSecret inserts the secret and materializes its initial reminder
// schedule in one transaction. The caller supplies id, clock fields and
// payload; status is forced to active.
func (r *Repository) CreateSecret(ctx context.Context, s models.Secret, now time.Time) (models.Secret, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.Status = models.SecretStatusActive
	s.TriggeredAt = nil
	s.CreatedAt = now.UTC()
	s.UpdatedAt = s.CreatedAt
	recJSON, _ := json.Marshal(s.Recipients)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Secret{}, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO secrets(`+secretColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, s.ID, s.OwnerID, s.Title, s.Ciphertext, s.Nonce, s.AuthTag, recJSON,
		s.CheckInIntervalDays, s.LastCheckIn, s.NextCheckIn, string(s.Status), nil, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return models.Secret{}, err
	}
	plan := schedule.Plan(s.LastCheckIn, s.CheckInIntervalDays, now)
	if err := materializeTx(ctx, tx, s.ID, plan, now); err != nil {
		return models.Secret{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Secret{}, err
	}
	return s, nil
}

func (r *Repository) GetSecret(ctx context.Context, ownerID, id string) (models.Secret, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+secretColumns+` FROM secrets WHERE owner_id = ? AND id = ?`, ownerID, id)
	return scanSecret(row)
}

// GetSecretByID is the cron-scope lookup used by the sweep; every owner-facing
// path must go through GetSecret instead.
func (r *Repository) GetSecretByID(ctx context.Context, id string) (models.Secret, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+secretColumns+` FROM secrets WHERE id = ?`, id)
	return scanSecret(row)
}

func (r *Repository) ListSecrets(ctx context.Context, ownerID string) ([]models.Secret, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+secretColumns+` FROM secrets WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Secret
	for rows.Next() {
		s, err := scanSecret(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteSecret(ctx context.Context, ownerID, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, `DELETE FROM secrets WHERE owner_id = ? AND id = ?`, ownerID, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return repository.ErrNotFound
	}
	for _, q := range []string{
		`DELETE FROM reminders WHERE secret_id = ?`,
		`DELETE FROM check_in_tokens WHERE secret_id = ?`,
		`DELETE FROM disclosures WHERE secret_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CheckIn resets the dead-man's-switch clock for an active secret owned by
// ownerID and regenerates its reminder schedule, all in one transaction.
func (r *Repository) CheckIn(ctx context.Context, ownerID, id string, now time.Time) (models.Secret, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Secret{}, err
	}
	defer func() { _ = tx.Rollback() }()
	s, err := checkInTx(ctx, tx, ownerID, id, now)
	if err != nil {
		return models.Secret{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Secret{}, err
	}
	return s, nil
}

// CheckInByToken consumes a single-use check-in token and performs the
// check-in atomically; a replayed or expired token mutates nothing.
func (r *Repository) CheckInByToken(ctx context.Context, token string, now time.Time) (models.Secret, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Secret{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE check_in_tokens SET used_at = ? WHERE token = ? AND used_at IS NULL AND expires_at > ?`, now.UTC(), token, now.UTC())
	if err != nil {
		return models.Secret{}, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return models.Secret{}, repository.ErrTokenInvalid
	}
	var secretID, ownerID string
	if err := tx.QueryRowContext(ctx, `SELECT t.secret_id, s.owner_id FROM check_in_tokens t JOIN secrets s ON s.id = t.secret_id WHERE t.token = ?`, token).Scan(&secretID, &ownerID); err != nil {
		return models.Secret{}, err
	}
	s, err := checkInTx(ctx, tx, ownerID, secretID, now)
	if err != nil {
		return models.Secret{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Secret{}, err
	}
	return s, nil
}

func checkInTx(ctx context.Context, tx *sql.Tx, ownerID, id string, now time.Time) (models.Secret, error) {
	now = now.UTC()
	var days int
	row := tx.QueryRowContext(ctx, `SELECT interval_days FROM secrets WHERE id = ? AND owner_id = ? AND status = ?`, id, ownerID, string(models.SecretStatusActive))
	if err := row.Scan(&days); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Secret{}, secretStateErr(ctx, tx, ownerID, id)
		}
		return models.Secret{}, err
	}
	next := schedule.NextCheckIn(now, days)
	res, err := tx.ExecContext(ctx, `UPDATE secrets SET last_check_in = ?, next_check_in = ?, updated_at = ? WHERE id = ? AND owner_id = ? AND status = ?`,
		now, next, now, id, ownerID, string(models.SecretStatusActive))
	if err != nil {
		return models.Secret{}, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return models.Secret{}, secretStateErr(ctx, tx, ownerID, id)
	}
	if err := materializeTx(ctx, tx, id, schedule.Plan(now, days, now), now); err != nil {
		return models.Secret{}, err
	}
	row = tx.QueryRowContext(ctx, `SELECT `+secretColumns+` FROM secrets WHERE id = ? AND owner_id = ?`, id, ownerID)
	return scanSecret(row)
}

// Pause suspends deadline enforcement and cancels the pending reminders. The
// stored next_check_in is retained for display.
func (r *Repository) Pause(ctx context.Context, ownerID, id string, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, `UPDATE secrets SET status = ?, updated_at = ? WHERE id = ? AND owner_id = ? AND status = ?`,
		string(models.SecretStatusPaused), now.UTC(), id, ownerID, string(models.SecretStatusActive))
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return secretStateErr(ctx, tx, ownerID, id)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE reminders SET status = ? WHERE secret_id = ? AND status = ?`,
		string(models.ReminderStatusCancelled), id, string(models.ReminderStatusPending)); err != nil {
		return err
	}
	return tx.Commit()
}

// Resume reactivates a paused secret with a fresh clock starting at now.
func (r *Repository) Resume(ctx context.Context, ownerID, id string, now time.Time) (models.Secret, error) {
	now = now.UTC()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Secret{}, err
	}
	defer func() { _ = tx.Rollback() }()
	var days int
	row := tx.QueryRowContext(ctx, `SELECT interval_days FROM secrets WHERE id = ? AND owner_id = ? AND status = ?`, id, ownerID, string(models.SecretStatusPaused))
	if err := row.Scan(&days); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Secret{}, secretStateErr(ctx, tx, ownerID, id)
		}
		return models.Secret{}, err
	}
	next := schedule.NextCheckIn(now, days)
	res, err := tx.ExecContext(ctx, `UPDATE secrets SET status = ?, last_check_in = ?, next_check_in = ?, updated_at = ? WHERE id = ? AND owner_id = ? AND status = ?`,
		string(models.SecretStatusActive), now, next, now, id, ownerID, string(models.SecretStatusPaused))
	if err != nil {
		return models.Secret{}, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return models.Secret{}, secretStateErr(ctx, tx, ownerID, id)
	}
	if err := materializeTx(ctx, tx, id, schedule.Plan(now, days, now), now); err != nil {
		return models.Secret{}, err
	}
	row = tx.QueryRowContext(ctx, `SELECT `+secretColumns+` FROM secrets WHERE id = ? AND owner_id = ?`, id, ownerID)
	s, err := scanSecret(row)
	if err != nil {
		return models.Secret{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Secret{}, err
	}
	return s, nil
}

// UpdateInterval changes the check-in interval. On an active secret the
// deadline and schedule are recomputed from the unchanged last check-in; on a
// paused secret only the stored deadline moves.
func (r *Repository) UpdateInterval(ctx context.Context, ownerID, id string, days int, now time.Time) (models.Secret, error) {
	now = now.UTC()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Secret{}, err
	}
	defer func() { _ = tx.Rollback() }()
	var status string
	var lastCheckIn time.Time
	row := tx.QueryRowContext(ctx, `SELECT status, last_check_in FROM secrets WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err := row.Scan(&status, &lastCheckIn); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Secret{}, repository.ErrNotFound
		}
		return models.Secret{}, err
	}
	if status == string(models.SecretStatusTriggered) {
		return models.Secret{}, repository.ErrTriggered
	}
	next := schedule.NextCheckIn(lastCheckIn, days)
	res, err := tx.ExecContext(ctx, `UPDATE secrets SET interval_days = ?, next_check_in = ?, updated_at = ? WHERE id = ? AND owner_id = ? AND status = ?`,
		days, next, now, id, ownerID, status)
	if err != nil {
		return models.Secret{}, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return models.Secret{}, secretStateErr(ctx, tx, ownerID, id)
	}
	if status == string(models.SecretStatusActive) {
		if err := materializeTx(ctx, tx, id, schedule.Plan(lastCheckIn, days, now), now); err != nil {
			return models.Secret{}, err
		}
	}
	row = tx.QueryRowContext(ctx, `SELECT `+secretColumns+` FROM secrets WHERE id = ? AND owner_id = ?`, id, ownerID)
	s, err := scanSecret(row)
	if err != nil {
		return models.Secret{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Secret{}, err
	}
	return s, nil
}

// MaterializeSchedule regenerates the reminder rows for an active secret from
// its current clock. Safe to call any number of times; converges to exactly
// the reminders implied by the current deadline.
func (r *Repository) MaterializeSchedule(ctx context.Context, secretID string, now time.Time) error {
	now = now.UTC()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	var status string
	var lastCheckIn time.Time
	var days int
	row := tx.QueryRowContext(ctx, `SELECT status, last_check_in, interval_days FROM secrets WHERE id = ?`, secretID)
	if err := row.Scan(&status, &lastCheckIn, &days); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrNotFound
		}
		return err
	}
	if status != string(models.SecretStatusActive) {
		return repository.ErrWrongState
	}
	if err := materializeTx(ctx, tx, secretID, schedule.Plan(lastCheckIn, days, now), now); err != nil {
		return err
	}
	return tx.Commit()
}

// materializeTx reconciles the reminder rows of one secret against a freshly
// computed plan: pending rows whose (type, scheduled_for) left the plan are
// cancelled, plan entries with no matching non-cancelled row are inserted.
func materializeTx(ctx context.Context, tx *sql.Tx, secretID string, plan []schedule.PlannedReminder, now time.Time) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, type, scheduled_for, status FROM reminders WHERE secret_id = ? AND status != ?`,
		secretID, string(models.ReminderStatusCancelled))
	if err != nil {
		return err
	}
	type existing struct {
		id     string
		status string
	}
	have := make(map[string]existing) // keyed by type|unix
	for rows.Next() {
		var e existing
		var typ string
		var sched time.Time
		if err := rows.Scan(&e.id, &typ, &sched, &e.status); err != nil {
			rows.Close()
			return err
		}
		have[reminderKey(typ, sched)] = e
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	planned := make(map[string]bool, len(plan))
	for _, p := range plan {
		planned[reminderKey(p.Type, p.FiresAt)] = true
	}

	for key, e := range have {
		if e.status == string(models.ReminderStatusPending) && !planned[key] {
			if _, err := tx.ExecContext(ctx, `UPDATE reminders SET status = ? WHERE id = ? AND status = ?`,
				string(models.ReminderStatusCancelled), e.id, string(models.ReminderStatusPending)); err != nil {
				return err
			}
		}
	}
	for _, p := range plan {
		if _, ok := have[reminderKey(p.Type, p.FiresAt)]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO reminders(id, secret_id, type, scheduled_for, status, retry_count, error, created_at) VALUES(?,?,?,?,?,0,'',?)`,
			uuid.NewString(), secretID, p.Type, p.FiresAt, string(models.ReminderStatusPending), now); err != nil {
			return err
		}
	}
	return nil
}

func reminderKey(typ string, at time.Time) string {
	return typ + "|" + at.UTC().Format(time.RFC3339Nano)
}

// Sweep queries (cron scope, intentionally not owner-filtered)

func (r *Repository) OverdueSecrets(ctx context.Context, now time.Time, limit int) ([]models.Secret, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+secretColumns+` FROM secrets WHERE status = ? AND next_check_in <= ? ORDER BY next_check_in LIMIT ?`,
		string(models.SecretStatusActive), now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Secret
	for rows.Next() {
		s, err := scanSecret(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) DueReminders(ctx context.Context, now time.Time, limit int) ([]repository.DueReminder, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.id, r.secret_id, r.type, r.scheduled_for, r.retry_count, r.last_retry_at, r.error, r.created_at,
		       s.title, s.next_check_in, u.email,
		       COALESCE((SELECT t.token FROM check_in_tokens t
		                 WHERE t.secret_id = s.id AND t.used_at IS NULL AND t.expires_at > ?
		                 ORDER BY t.created_at DESC LIMIT 1), '')
		FROM reminders r
		JOIN secrets s ON s.id = r.secret_id
		JOIN users u ON u.id = s.owner_id
		WHERE r.status = ? AND r.scheduled_for <= ? AND s.status = ?
		ORDER BY r.scheduled_for
		LIMIT ?
	`, now.UTC(), string(models.ReminderStatusPending), now.UTC(), string(models.SecretStatusActive), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []repository.DueReminder
	for rows.Next() {
		var d repository.DueReminder
		var lastRetry sql.NullTime
		if err := rows.Scan(&d.Reminder.ID, &d.Reminder.SecretID, &d.Reminder.Type, &d.Reminder.ScheduledFor,
			&d.Reminder.RetryCount, &lastRetry, &d.Reminder.Error, &d.Reminder.CreatedAt,
			&d.SecretTitle, &d.Deadline, &d.OwnerEmail, &d.CheckInToken); err != nil {
			return nil, err
		}
		d.Reminder.Status = models.ReminderStatusPending
		if lastRetry.Valid {
			t := lastRetry.Time
			d.Reminder.LastRetryAt = &t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkTriggered is the compare-and-set trigger guard: it flips an active
// secret to triggered and reports whether this caller won the transition.
// Pending reminders are cancelled alongside; the owner is past reminding.
func (r *Repository) MarkTriggered(ctx context.Context, id string, now time.Time) (bool, error) {
	now = now.UTC()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, `UPDATE secrets SET status = ?, triggered_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(models.SecretStatusTriggered), now, now, id, string(models.SecretStatusActive))
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE reminders SET status = ? WHERE secret_id = ? AND status = ?`,
		string(models.ReminderStatusCancelled), id, string(models.ReminderStatusPending)); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Reminder bookkeeping. All guards require status='pending' so a racing sweep
// that lost the row is a clean no-op.

func (r *Repository) MarkReminderSent(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE reminders SET status = ?, sent_at = ?, error = '' WHERE id = ? AND status = ?`,
		string(models.ReminderStatusSent), now.UTC(), id, string(models.ReminderStatusPending))
	return err
}

func (r *Repository) MarkReminderFailed(ctx context.Context, id, errMsg string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE reminders SET status = ?, error = ?, last_retry_at = ? WHERE id = ? AND status = ?`,
		string(models.ReminderStatusFailed), errMsg, now.UTC(), id, string(models.ReminderStatusPending))
	return err
}

func (r *Repository) BumpReminderRetry(ctx context.Context, id, errMsg string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE reminders SET retry_count = retry_count + 1, last_retry_at = ?, error = ? WHERE id = ? AND status = ?`,
		now.UTC(), errMsg, id, string(models.ReminderStatusPending))
	return err
}

func (r *Repository) ListReminders(ctx context.Context, ownerID, secretID string) ([]models.Reminder, error) {
	if _, err := r.GetSecret(ctx, ownerID, secretID); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, secret_id, type, scheduled_for, status, retry_count, last_retry_at, error, sent_at, created_at FROM reminders WHERE secret_id = ? ORDER BY scheduled_for`, secretID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Reminder
	for rows.Next() {
		var m models.Reminder
		var status string
		var lastRetry, sentAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.SecretID, &m.Type, &m.ScheduledFor, &status, &m.RetryCount, &lastRetry, &m.Error, &sentAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Status = models.ReminderStatus(status)
		if lastRetry.Valid {
			t := lastRetry.Time
			m.LastRetryAt = &t
		}
		if sentAt.Valid {
			t := sentAt.Time
			m.SentAt = &t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Check-in tokens

func (r *Repository) CreateCheckInToken(ctx context.Context, secretID string, expiresAt time.Time) (models.CheckInToken, error) {
	t := models.CheckInToken{
		Token:     uuid.NewString(),
		SecretID:  secretID,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: time.Now().UTC(),
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO check_in_tokens(token, secret_id, expires_at, created_at) VALUES(?,?,?,?)`,
		t.Token, t.SecretID, t.ExpiresAt, t.CreatedAt)
	if err != nil {
		return models.CheckInToken{}, err
	}
	return t, nil
}

// Disclosure audit

func (r *Repository) RecordDisclosure(ctx context.Context, o models.DisclosureOutcome) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO disclosures(id, secret_id, recipient_name, channel, success, attempts, error, completed_at) VALUES(?,?,?,?,?,?,?,?)`,
		o.ID, o.SecretID, o.RecipientName, o.Channel, o.Success, o.Attempts, o.Error, o.CompletedAt.UTC())
	return err
}

func (r *Repository) ListDisclosures(ctx context.Context, ownerID, secretID string) ([]models.DisclosureOutcome, error) {
	if _, err := r.GetSecret(ctx, ownerID, secretID); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, secret_id, recipient_name, channel, success, attempts, error, completed_at FROM disclosures WHERE secret_id = ? ORDER BY completed_at`, secretID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.DisclosureOutcome
	for rows.Next() {
		var o models.DisclosureOutcome
		if err := rows.Scan(&o.ID, &o.SecretID, &o.RecipientName, &o.Channel, &o.Success, &o.Attempts, &o.Error, &o.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSecret(row rowScanner) (models.Secret, error) {
	var s models.Secret
	var status string
	var recJSON []byte
	var triggeredAt sql.NullTime
	err := row.Scan(&s.ID, &s.OwnerID, &s.Title, &s.Ciphertext, &s.Nonce, &s.AuthTag, &recJSON,
		&s.CheckInIntervalDays, &s.LastCheckIn, &s.NextCheckIn, &status, &triggeredAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Secret{}, repository.ErrNotFound
		}
		return models.Secret{}, err
	}
	s.Status = models.SecretStatus(status)
	if triggeredAt.Valid {
		t := triggeredAt.Time
		s.TriggeredAt = &t
	}
	if len(recJSON) > 0 {
		_ = json.Unmarshal(recJSON, &s.Recipients)
	}
	return s, nil
}

// secretStateErr classifies a failed conditional update: the row is either
// missing for this owner, terminal, or in the wrong state for the transition.
func secretStateErr(ctx context.Context, tx *sql.Tx, ownerID, id string) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM secrets WHERE id = ? AND owner_id = ?`, id, ownerID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return err
	}
	if status == string(models.SecretStatusTriggered) {
		return repository.ErrTriggered
	}
	return repository.ErrWrongState
}
