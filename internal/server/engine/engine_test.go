package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"lastword/internal/server/config"
	"lastword/internal/server/notify"
	"lastword/internal/server/repository/sqlite"
	"lastword/internal/server/schedule"
	cryptohelper "lastword/internal/shared/crypto"
	"lastword/internal/shared/models"
)

type fakeDispatcher struct {
	// script is consumed front to back; after it runs out every send succeeds
	script []notify.Result
	sent   []notify.Message
}

func (f *fakeDispatcher) Send(_ context.Context, msg notify.Message) notify.Result {
	f.sent = append(f.sent, msg)
	if len(f.script) > 0 {
		res := f.script[0]
		f.script = f.script[1:]
		return res
	}
	return notify.Result{Success: true}
}

type fakeAdmin struct {
	escalations []notify.Escalation
}

func (f *fakeAdmin) Notify(_ context.Context, e notify.Escalation) {
	f.escalations = append(f.escalations, e)
}

var testKey = []byte("0123456789abcdef0123456789abcdef")

type fixture struct {
	repo       *sqlite.Repository
	dispatcher *fakeDispatcher
	admin      *fakeAdmin
	engine     *Engine
	owner      models.User
}

func newFixture(t *testing.T, name string) *fixture {
	t.Helper()
	repo, err := sqlite.New("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	owner, err := repo.CreateUser(context.Background(), "owner@example.com", []byte("h"))
	if err != nil {
		t.Fatal(err)
	}
	d := &fakeDispatcher{}
	a := &fakeAdmin{}
	cfg := config.Config{SweepBatchSize: 100, MaxReminderRetries: 5, MaxRecipientAttempts: 3}
	return &fixture{
		repo:       repo,
		dispatcher: d,
		admin:      a,
		engine:     New(repo, d, a, testKey, cfg, nil),
		owner:      owner,
	}
}

// seedSecret creates an encrypted secret whose clock started at lastCheckIn.
func (f *fixture) seedSecret(t *testing.T, days int, lastCheckIn time.Time, recipients []models.Recipient) models.Secret {
	t.Helper()
	id := "sec-" + t.Name() + "-" + lastCheckIn.Format("150405.000000000")
	env, err := cryptohelper.Encrypt(testKey, []byte("buried treasure map"), []byte(id))
	if err != nil {
		t.Fatal(err)
	}
	s := models.Secret{
		ID:                  id,
		OwnerID:             f.owner.ID,
		Title:               "estate plan",
		Ciphertext:          env.Ciphertext,
		Nonce:               env.Nonce,
		AuthTag:             env.Tag,
		Recipients:          recipients,
		CheckInIntervalDays: days,
		LastCheckIn:         lastCheckIn,
		NextCheckIn:         schedule.NextCheckIn(lastCheckIn, days),
	}
	s, err = f.repo.CreateSecret(context.Background(), s, lastCheckIn)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func emailRecipients() []models.Recipient {
	return []models.Recipient{
		{Name: "Alice", Email: "alice@example.com", ContactMethod: models.ContactEmail},
		{Name: "Bob", Email: "bob@example.com", ContactMethod: models.ContactEmail},
	}
}

func TestSweepSendsDueReminders(t *testing.T) {
	f := newFixture(t, "eng_due")
	// 10 days into a 30 day cycle: the 25% milestone is due, nothing is overdue
	f.seedSecret(t, 30, time.Now().UTC().Add(-10*24*time.Hour), emailRecipients())

	sum, err := f.engine.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Processed != 1 || sum.Sent != 1 || sum.Failed != 0 || sum.Triggered != 0 {
		t.Fatalf("summary: %+v", sum)
	}
	if len(f.dispatcher.sent) != 1 {
		t.Fatalf("sent %d messages", len(f.dispatcher.sent))
	}
	msg := f.dispatcher.sent[0]
	if msg.To != "owner@example.com" {
		t.Fatalf("reminder went to %q, not the owner", msg.To)
	}
	if strings.Contains(msg.Body, "buried treasure map") {
		t.Fatal("reminder leaked secret content")
	}

	// a second sweep in the same period is a no-op
	sum, err = f.engine.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Processed != 0 {
		t.Fatalf("repeat sweep reprocessed reminders: %+v", sum)
	}
}

func TestReminderRetryableFailureStaysPendingThenEscalates(t *testing.T) {
	f := newFixture(t, "eng_retry")
	f.seedSecret(t, 30, time.Now().UTC().Add(-10*24*time.Hour), emailRecipients())

	fail := notify.Result{Success: false, Retryable: true, Error: "rate limited"}
	// MaxReminderRetries is 5: four sweeps bump the counter, the fifth fails it
	for i := 0; i < 4; i++ {
		f.dispatcher.script = []notify.Result{fail}
		sum, err := f.engine.Sweep(context.Background(), time.Now())
		if err != nil {
			t.Fatal(err)
		}
		if sum.Processed != 1 || sum.Sent != 0 {
			t.Fatalf("sweep %d summary: %+v", i, sum)
		}
		if len(f.admin.escalations) != 0 {
			t.Fatalf("escalated before exhausting retries (sweep %d)", i)
		}
	}

	f.dispatcher.script = []notify.Result{fail}
	sum, err := f.engine.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Failed != 1 {
		t.Fatalf("final summary: %+v", sum)
	}
	if len(f.admin.escalations) != 1 {
		t.Fatalf("expected exactly one escalation, got %d", len(f.admin.escalations))
	}
	esc := f.admin.escalations[0]
	if esc.Severity != notify.SeverityHigh {
		t.Fatalf("severity after >3 retries: %s", esc.Severity)
	}

	// the failed reminder is finished; nothing left to process
	sum, err = f.engine.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Processed != 0 {
		t.Fatalf("failed reminder came back: %+v", sum)
	}
}

func TestReminderNonRetryableFailsImmediately(t *testing.T) {
	f := newFixture(t, "eng_permfail")
	f.seedSecret(t, 30, time.Now().UTC().Add(-10*24*time.Hour), emailRecipients())

	f.dispatcher.script = []notify.Result{{Success: false, Retryable: false, Error: "mailbox does not exist"}}
	sum, err := f.engine.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Failed != 1 {
		t.Fatalf("summary: %+v", sum)
	}
	if len(f.admin.escalations) != 1 {
		t.Fatalf("escalations: %d", len(f.admin.escalations))
	}
	if f.admin.escalations[0].Severity != notify.SeverityMedium {
		t.Fatalf("first-failure severity: %s", f.admin.escalations[0].Severity)
	}
}

func TestOverdueSecretTriggersDisclosure(t *testing.T) {
	f := newFixture(t, "eng_disclose")
	s := f.seedSecret(t, 30, time.Now().UTC().Add(-40*24*time.Hour), emailRecipients())

	sum, err := f.engine.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Triggered != 1 {
		t.Fatalf("summary: %+v", sum)
	}

	var disclosed []notify.Message
	for _, m := range f.dispatcher.sent {
		if strings.Contains(m.Body, "buried treasure map") {
			disclosed = append(disclosed, m)
		}
	}
	if len(disclosed) != 2 {
		t.Fatalf("disclosure delivered to %d recipients, want 2", len(disclosed))
	}
	if disclosed[0].To != "alice@example.com" || disclosed[1].To != "bob@example.com" {
		t.Fatalf("recipients out of order: %s then %s", disclosed[0].To, disclosed[1].To)
	}

	got, err := f.repo.GetSecret(context.Background(), f.owner.ID, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.SecretStatusTriggered || got.TriggeredAt == nil {
		t.Fatalf("state after trigger: %+v", got)
	}

	outcomes, err := f.repo.ListDisclosures(context.Background(), f.owner.ID, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("recorded %d outcomes, want 2", len(outcomes))
	}
	for _, o := range outcomes {
		if !o.Success || o.Attempts != 1 {
			t.Fatalf("bad outcome: %+v", o)
		}
	}

	// the trigger fired once and for all: the next sweep finds nothing
	sum, err = f.engine.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Triggered != 0 {
		t.Fatalf("secret triggered twice: %+v", sum)
	}
}

func TestDisclosureRecipientFailureDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t, "eng_partial")
	s := f.seedSecret(t, 30, time.Now().UTC().Add(-40*24*time.Hour), emailRecipients())

	// Alice's address is dead; Bob must still receive the disclosure
	f.dispatcher.script = []notify.Result{{Success: false, Retryable: false, Error: "bad address"}}
	sum, err := f.engine.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Triggered != 1 {
		t.Fatalf("summary: %+v", sum)
	}

	outcomes, err := f.repo.ListDisclosures(context.Background(), f.owner.ID, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes: %d", len(outcomes))
	}
	byName := map[string]models.DisclosureOutcome{}
	for _, o := range outcomes {
		byName[o.RecipientName] = o
	}
	if byName["Alice"].Success || byName["Alice"].Error == "" {
		t.Fatalf("Alice outcome: %+v", byName["Alice"])
	}
	if !byName["Bob"].Success {
		t.Fatalf("Bob outcome: %+v", byName["Bob"])
	}
	if len(f.admin.escalations) != 1 || f.admin.escalations[0].Severity != notify.SeverityCritical {
		t.Fatalf("disclosure failure escalation: %+v", f.admin.escalations)
	}

	// partial failure never resurrects the deadline
	got, _ := f.repo.GetSecret(context.Background(), f.owner.ID, s.ID)
	if got.Status != models.SecretStatusTriggered {
		t.Fatalf("status reverted: %s", got.Status)
	}
}

func TestDisclosureRetriesTransientFailures(t *testing.T) {
	f := newFixture(t, "eng_transient")
	s := f.seedSecret(t, 30, time.Now().UTC().Add(-40*24*time.Hour),
		[]models.Recipient{{Name: "Alice", Email: "alice@example.com", ContactMethod: models.ContactEmail}})

	f.dispatcher.script = []notify.Result{
		{Success: false, Retryable: true, Error: "timeout"},
		{Success: false, Retryable: true, Error: "timeout"},
		{Success: true},
	}
	if _, err := f.engine.Sweep(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}
	outcomes, err := f.repo.ListDisclosures(context.Background(), f.owner.ID, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 1 || !outcomes[0].Success || outcomes[0].Attempts != 3 {
		t.Fatalf("outcome: %+v", outcomes)
	}
	if len(f.admin.escalations) != 0 {
		t.Fatalf("success after retries should not escalate: %+v", f.admin.escalations)
	}
}

func TestDecryptFailureEscalatesCriticalAndStaysTriggered(t *testing.T) {
	f := newFixture(t, "eng_decrypt")
	s := f.seedSecret(t, 30, time.Now().UTC().Add(-40*24*time.Hour), emailRecipients())

	// engine configured with a different key than the one that sealed the payload
	cfg := config.Config{SweepBatchSize: 100, MaxReminderRetries: 5, MaxRecipientAttempts: 3}
	wrongKey := []byte("ffffffffffffffffffffffffffffffff")
	eng := New(f.repo, f.dispatcher, f.admin, wrongKey, cfg, nil)

	sum, err := eng.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Triggered != 1 {
		t.Fatalf("summary: %+v", sum)
	}
	if len(f.dispatcher.sent) != 0 {
		t.Fatal("nothing must be delivered when decryption fails")
	}
	if len(f.admin.escalations) != 1 || f.admin.escalations[0].Severity != notify.SeverityCritical {
		t.Fatalf("escalations: %+v", f.admin.escalations)
	}
	got, _ := f.repo.GetSecret(context.Background(), f.owner.ID, s.ID)
	if got.Status != models.SecretStatusTriggered {
		t.Fatalf("decrypt failure must not revert the trigger: %s", got.Status)
	}
}

func TestSweepBatchBound(t *testing.T) {
	f := newFixture(t, "eng_batch")
	past := time.Now().UTC().Add(-40 * 24 * time.Hour)
	for i := 0; i < 3; i++ {
		f.seedSecret(t, 30, past.Add(time.Duration(i)*time.Second), emailRecipients())
	}
	cfg := config.Config{SweepBatchSize: 2, MaxReminderRetries: 5, MaxRecipientAttempts: 3}
	eng := New(f.repo, f.dispatcher, f.admin, testKey, cfg, nil)

	sum, err := eng.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Triggered != 2 {
		t.Fatalf("first bounded sweep: %+v", sum)
	}
	sum, err = eng.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Triggered != 1 {
		t.Fatalf("second sweep should finish the backlog: %+v", sum)
	}
}

func TestEndToEndLifecycle(t *testing.T) {
	f := newFixture(t, "eng_e2e")
	t0 := time.Now().UTC().Add(-41 * 24 * time.Hour)
	s := f.seedSecret(t, 30, t0, emailRecipients())

	// owner checks in 10 days after creation
	checkInAt := t0.Add(10 * 24 * time.Hour)
	s2, err := f.repo.CheckIn(context.Background(), f.owner.ID, s.ID, checkInAt)
	if err != nil {
		t.Fatal(err)
	}
	if !s2.NextCheckIn.Equal(checkInAt.Add(30 * 24 * time.Hour)) {
		t.Fatalf("deadline after check-in: %v", s2.NextCheckIn)
	}

	// then never again; deadline passed 1 day ago
	sum, err := f.engine.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Triggered != 1 {
		t.Fatalf("summary: %+v", sum)
	}
	var got int
	for _, m := range f.dispatcher.sent {
		if strings.Contains(m.Body, "buried treasure map") {
			got++
		}
	}
	if got != 2 {
		t.Fatalf("disclosure reached %d recipients", got)
	}
}
