package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"lastword/internal/server/config"
	"lastword/internal/server/schedule"
	cryptohelper "lastword/internal/shared/crypto"
	"lastword/internal/shared/models"
	"lastword/internal/shared/passhash"
)

type Repository interface {
	CreateUser(ctx context.Context, email string, passwordHash []byte) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (id string, passwordHash []byte, err error)

	CreateRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, token string) (userID string, expiresAt time.Time, err error)
	DeleteRefreshToken(ctx context.Context, token string) error

	CreateSecret(ctx context.Context, s models.Secret, now time.Time) (models.Secret, error)
	GetSecret(ctx context.Context, ownerID, id string) (models.Secret, error)
	ListSecrets(ctx context.Context, ownerID string) ([]models.Secret, error)
	DeleteSecret(ctx context.Context, ownerID, id string) error
	CheckIn(ctx context.Context, ownerID, id string, now time.Time) (models.Secret, error)
	CheckInByToken(ctx context.Context, token string, now time.Time) (models.Secret, error)
	Pause(ctx context.Context, ownerID, id string, now time.Time) error
	Resume(ctx context.Context, ownerID, id string, now time.Time) (models.Secret, error)
	UpdateInterval(ctx context.Context, ownerID, id string, days int, now time.Time) (models.Secret, error)
	CreateCheckInToken(ctx context.Context, secretID string, expiresAt time.Time) (models.CheckInToken, error)
	ListReminders(ctx context.Context, ownerID, secretID string) ([]models.Reminder, error)
	ListDisclosures(ctx context.Context, ownerID, secretID string) ([]models.DisclosureOutcome, error)
}

type Services struct {
	Auth    *AuthService
	Secrets *SecretsService
}

func NewServices(repo Repository, cfg config.Config, masterKey []byte) *Services {
	return &Services{
		Auth: &AuthService{repo: repo, jwtSecret: []byte(cfg.JWTSecret)},
		Secrets: &SecretsService{
			repo:            repo,
			masterKey:       masterKey,
			minIntervalDays: cfg.MinIntervalDays,
			maxIntervalDays: cfg.MaxIntervalDays,
		},
	}
}

// AuthService implements user registration, password verification,
// JWT access token issuance and refresh token rotation.
type AuthService struct {
	repo      Repository
	jwtSecret []byte
}

func (a *AuthService) Register(ctx context.Context, email, password string) (models.User, error) {
	if email == "" || password == "" {
		return models.User{}, errors.New("email and password required")
	}
	phc, err := passhash.HashPassword(password)
	if err != nil {
		return models.User{}, err
	}
	return a.repo.CreateUser(ctx, email, []byte(phc))
}

func (a *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	id, hash, err := a.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return "", errors.New("invalid credentials")
	}
	ok, err := passhash.VerifyPassword(string(hash), password)
	if err != nil || !ok {
		return "", errors.New("invalid credentials")
	}
	return a.IssueAccessToken(id, 24*time.Hour)
}

func (a *AuthService) ParseToken(_ context.Context, token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return "", errors.New("invalid token")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("invalid token subject")
	}
	return sub, nil
}

func (a *AuthService) IssueAccessToken(userID string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{"sub": userID, "exp": time.Now().Add(ttl).Unix()}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(a.jwtSecret)
}

func (a *AuthService) IssueRefreshToken(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	expires := time.Now().Add(ttl)
	if err := a.repo.CreateRefreshToken(ctx, userID, token, expires); err != nil {
		return "", err
	}
	return token, nil
}

// Refresh exchanges a refresh token for a new access token, rotating the
// refresh token in the process. The old refresh token is single use.
func (a *AuthService) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	userID, exp, err := a.repo.GetRefreshToken(ctx, refreshToken)
	if err != nil {
		return "", "", errors.New("invalid refresh token")
	}
	if time.Now().After(exp) {
		_ = a.repo.DeleteRefreshToken(ctx, refreshToken)
		return "", "", errors.New("refresh token expired")
	}
	if err := a.repo.DeleteRefreshToken(ctx, refreshToken); err != nil {
		return "", "", err
	}
	next, err := a.IssueRefreshToken(ctx, userID, 30*24*time.Hour)
	if err != nil {
		return "", "", err
	}
	access, err := a.IssueAccessToken(userID, 24*time.Hour)
	if err != nil {
		return "", "", err
	}
	return access, next, nil
}

// SecretsService owns secret lifecycle operations. Every mutation is scoped
// by (id, owner) at the repository; the service adds validation and the
// encryption of payloads before they ever reach storage.
type SecretsService struct {
	repo            Repository
	masterKey       []byte
	minIntervalDays int
	maxIntervalDays int
}

type CreateSecretInput struct {
	Title        string
	Payload      []byte
	Recipients   []models.Recipient
	IntervalDays int
}

// Create validates, encrypts and stores a new secret. The returned token is
// the first single-use check-in token, valid until the first deadline.
func (s *SecretsService) Create(ctx context.Context, ownerID string, in CreateSecretInput) (models.Secret, models.CheckInToken, error) {
	if ownerID == "" {
		return models.Secret{}, models.CheckInToken{}, errors.New("owner required")
	}
	if in.Title == "" {
		return models.Secret{}, models.CheckInToken{}, errors.New("title required")
	}
	if len(in.Payload) == 0 {
		return models.Secret{}, models.CheckInToken{}, errors.New("payload required")
	}
	if err := s.validateInterval(in.IntervalDays); err != nil {
		return models.Secret{}, models.CheckInToken{}, err
	}
	if err := validateRecipients(in.Recipients); err != nil {
		return models.Secret{}, models.CheckInToken{}, err
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	env, err := cryptohelper.Encrypt(s.masterKey, in.Payload, []byte(id))
	if err != nil {
		return models.Secret{}, models.CheckInToken{}, err
	}
	sec := models.Secret{
		ID:                  id,
		OwnerID:             ownerID,
		Title:               in.Title,
		Ciphertext:          env.Ciphertext,
		Nonce:               env.Nonce,
		AuthTag:             env.Tag,
		Recipients:          in.Recipients,
		CheckInIntervalDays: in.IntervalDays,
		LastCheckIn:         now,
		NextCheckIn:         schedule.NextCheckIn(now, in.IntervalDays),
	}
	sec, err = s.repo.CreateSecret(ctx, sec, now)
	if err != nil {
		return models.Secret{}, models.CheckInToken{}, err
	}
	tok, err := s.repo.CreateCheckInToken(ctx, sec.ID, sec.NextCheckIn)
	if err != nil {
		return models.Secret{}, models.CheckInToken{}, err
	}
	return sec, tok, nil
}

func (s *SecretsService) List(ctx context.Context, ownerID string) ([]models.Secret, error) {
	return s.repo.ListSecrets(ctx, ownerID)
}

func (s *SecretsService) Get(ctx context.Context, ownerID, id string) (models.Secret, error) {
	return s.repo.GetSecret(ctx, ownerID, id)
}

func (s *SecretsService) Delete(ctx context.Context, ownerID, id string) error {
	return s.repo.DeleteSecret(ctx, ownerID, id)
}

// CheckIn resets the deadline for the owner and issues the next single-use
// check-in token.
func (s *SecretsService) CheckIn(ctx context.Context, ownerID, id string) (models.Secret, models.CheckInToken, error) {
	sec, err := s.repo.CheckIn(ctx, ownerID, id, time.Now().UTC())
	if err != nil {
		return models.Secret{}, models.CheckInToken{}, err
	}
	tok, err := s.repo.CreateCheckInToken(ctx, sec.ID, sec.NextCheckIn)
	if err != nil {
		return models.Secret{}, models.CheckInToken{}, err
	}
	return sec, tok, nil
}

// CheckInByToken is the link-based check-in: possession of a valid token is
// the authorization.
func (s *SecretsService) CheckInByToken(ctx context.Context, token string) (models.Secret, models.CheckInToken, error) {
	sec, err := s.repo.CheckInByToken(ctx, token, time.Now().UTC())
	if err != nil {
		return models.Secret{}, models.CheckInToken{}, err
	}
	tok, err := s.repo.CreateCheckInToken(ctx, sec.ID, sec.NextCheckIn)
	if err != nil {
		return models.Secret{}, models.CheckInToken{}, err
	}
	return sec, tok, nil
}

func (s *SecretsService) Pause(ctx context.Context, ownerID, id string) error {
	return s.repo.Pause(ctx, ownerID, id, time.Now().UTC())
}

func (s *SecretsService) Resume(ctx context.Context, ownerID, id string) (models.Secret, error) {
	return s.repo.Resume(ctx, ownerID, id, time.Now().UTC())
}

func (s *SecretsService) UpdateInterval(ctx context.Context, ownerID, id string, days int) (models.Secret, error) {
	if err := s.validateInterval(days); err != nil {
		return models.Secret{}, err
	}
	return s.repo.UpdateInterval(ctx, ownerID, id, days, time.Now().UTC())
}

func (s *SecretsService) Reminders(ctx context.Context, ownerID, secretID string) ([]models.Reminder, error) {
	return s.repo.ListReminders(ctx, ownerID, secretID)
}

func (s *SecretsService) Disclosures(ctx context.Context, ownerID, secretID string) ([]models.DisclosureOutcome, error) {
	return s.repo.ListDisclosures(ctx, ownerID, secretID)
}

func (s *SecretsService) validateInterval(days int) error {
	if days < s.minIntervalDays || days > s.maxIntervalDays {
		return fmt.Errorf("interval must be between %d and %d days", s.minIntervalDays, s.maxIntervalDays)
	}
	return nil
}

func validateRecipients(recipients []models.Recipient) error {
	if len(recipients) == 0 {
		return errors.New("at least one recipient required")
	}
	for i, r := range recipients {
		if r.Name == "" {
			return fmt.Errorf("recipient %d: name required", i)
		}
		switch r.ContactMethod {
		case models.ContactEmail:
			if r.Email == "" {
				return fmt.Errorf("recipient %d: email required for email contact", i)
			}
		case models.ContactSMS:
			if r.Phone == "" {
				return fmt.Errorf("recipient %d: phone required for sms contact", i)
			}
		case models.ContactBoth:
			if r.Email == "" || r.Phone == "" {
				return fmt.Errorf("recipient %d: email and phone required for both contact", i)
			}
		default:
			return fmt.Errorf("recipient %d: unknown contact method %q", i, r.ContactMethod)
		}
	}
	return nil
}
