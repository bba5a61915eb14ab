package checkin

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/wurt83ow/checkin-client/pkg/appcontext"
	"github.com/wurt83ow/checkin-client/pkg/models"
)

// Club groups events and subscriptions.
type Club struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Event is something members check in to.
type Event struct {
	ID       string    `yaml:"id"`
	ClubID   string    `yaml:"club_id"`
	Name     string    `yaml:"name"`
	StartsAt time.Time `yaml:"starts_at"`
	EndsAt   time.Time `yaml:"ends_at"`
}

// Subscription entitles a user to a club's events for a period.
type Subscription struct {
	ID          string    `yaml:"id"`
	UserID      string    `yaml:"user_id"`
	ClubID      string    `yaml:"club_id"`
	Active      bool      `yaml:"active"`
	ActiveFrom  time.Time `yaml:"active_from"`
	ActiveUntil time.Time `yaml:"active_until"`
}

// QRCode is the scannable credential of a subscription.
type QRCode struct {
	ID             string `yaml:"id"`
	Code           string `yaml:"code"`
	SubscriptionID string `yaml:"subscription_id"`
	Active         bool   `yaml:"active"`
}

// User is a staff or member account.
type User struct {
	ID       string `yaml:"id"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// Seed is the initial data of a Memory service.
type Seed struct {
	Clubs         []Club         `yaml:"clubs"`
	Events        []Event        `yaml:"events"`
	Subscriptions []Subscription `yaml:"subscriptions"`
	QRCodes       []QRCode       `yaml:"qr_codes"`
	Users         []User         `yaml:"users"`
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) (Seed, error) {
	var seed Seed
	data, err := os.ReadFile(path)
	if err != nil {
		return seed, fmt.Errorf("read seed %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return seed, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return seed, nil
}

type account struct {
	id           string
	passwordHash []byte
}

type attendanceKey struct {
	qrID    string
	eventID string
}

// Memory is an in-process check-in service enforcing the server-side
// validity rules: the QR code must exist and be active, and its
// subscription must be active and belong to the event's club.
type Memory struct {
	mu            sync.Mutex
	clubs         map[string]Club
	events        map[string]Event
	subscriptions map[string]Subscription
	qrByCode      map[string]QRCode
	qrByID        map[string]QRCode
	accounts      map[string]account
	tokens        map[string]string
	open          map[attendanceKey]*models.CheckinRecord
	history       []models.CheckinRecord

	// RequireAuth rejects calls whose context carries no known bearer token.
	RequireAuth bool
	now         func() time.Time
}

// NewMemory indexes seed. User passwords are stored as bcrypt hashes.
func NewMemory(seed Seed) (*Memory, error) {
	m := &Memory{
		clubs:         make(map[string]Club),
		events:        make(map[string]Event),
		subscriptions: make(map[string]Subscription),
		qrByCode:      make(map[string]QRCode),
		qrByID:        make(map[string]QRCode),
		accounts:      make(map[string]account),
		tokens:        make(map[string]string),
		open:          make(map[attendanceKey]*models.CheckinRecord),
		now:           time.Now,
	}
	for _, c := range seed.Clubs {
		m.clubs[c.ID] = c
	}
	for _, e := range seed.Events {
		m.events[e.ID] = e
	}
	for _, s := range seed.Subscriptions {
		m.subscriptions[s.ID] = s
	}
	for _, q := range seed.QRCodes {
		m.qrByCode[q.Code] = q
		m.qrByID[q.ID] = q
	}
	for _, u := range seed.Users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.MinCost)
		if err != nil {
			return nil, fmt.Errorf("hash password of %s: %w", u.Email, err)
		}
		m.accounts[u.Email] = account{id: u.ID, passwordHash: hash}
	}
	return m, nil
}

// SetClock replaces the time source.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Login exchanges credentials for a bearer token.
func (m *Memory) Login(ctx context.Context, email, password string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[email]
	if !ok || bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)) != nil {
		return "", NewError(KindUnauthorized, "invalid email or password")
	}
	token := uuid.NewString()
	m.tokens[token] = acc.id
	return token, nil
}

// Checkin opens an attendance of the QR code's holder at the event.
func (m *Memory) Checkin(ctx context.Context, qrCode, eventID string) (models.CheckinRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qr, sub, err := m.validate(ctx, qrCode, eventID)
	if err != nil {
		return models.CheckinRecord{}, err
	}
	key := attendanceKey{qrID: qr.ID, eventID: eventID}
	if _, already := m.open[key]; already {
		return models.CheckinRecord{}, NewError(KindUnknown, "already checked in")
	}
	rec := &models.CheckinRecord{
		ID:          uuid.NewString(),
		QRCodeID:    qr.ID,
		EventID:     eventID,
		UserID:      sub.UserID,
		CheckedInAt: m.now().UTC(),
	}
	m.open[key] = rec
	return *rec, nil
}

// Checkout closes the open attendance of the QR code's holder at the event.
func (m *Memory) Checkout(ctx context.Context, qrCode, eventID string) (models.CheckinRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qr, _, err := m.validate(ctx, qrCode, eventID)
	if err != nil {
		return models.CheckinRecord{}, err
	}
	key := attendanceKey{qrID: qr.ID, eventID: eventID}
	rec, ok := m.open[key]
	if !ok {
		return models.CheckinRecord{}, NewError(KindUnknown, "not checked in")
	}
	out := m.now().UTC()
	rec.CheckedOutAt = &out
	delete(m.open, key)
	m.history = append(m.history, *rec)
	return *rec, nil
}

// Attendance returns the open check-ins followed by closed ones.
func (m *Memory) Attendance() []models.CheckinRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.CheckinRecord, 0, len(m.open)+len(m.history))
	for _, rec := range m.open {
		out = append(out, *rec)
	}
	return append(out, m.history...)
}

func (m *Memory) validate(ctx context.Context, qrCode, eventID string) (QRCode, Subscription, error) {
	if m.RequireAuth {
		token, ok := appcontext.BearerToken(ctx)
		if !ok {
			return QRCode{}, Subscription{}, NewError(KindUnauthorized, "missing bearer token")
		}
		if _, known := m.tokens[token]; !known {
			return QRCode{}, Subscription{}, NewError(KindUnauthorized, "unknown bearer token")
		}
	}

	qr, ok := m.qrByCode[qrCode]
	if !ok {
		if qr, ok = m.qrByID[qrCode]; !ok {
			return QRCode{}, Subscription{}, NewError(KindInvalidQR, "Invalid QR Code")
		}
	}
	if !qr.Active {
		return QRCode{}, Subscription{}, NewError(KindInactiveQR, "QR code is inactive")
	}

	event, ok := m.events[eventID]
	if !ok {
		return QRCode{}, Subscription{}, NewError(KindUnknown, "event not found")
	}

	sub, ok := m.subscriptions[qr.SubscriptionID]
	if !ok || sub.ClubID != event.ClubID {
		return QRCode{}, Subscription{}, NewError(KindInvalidQR, "QR code is not valid for this club")
	}
	if !sub.Active {
		return QRCode{}, Subscription{}, NewError(KindInactiveQR, "subscription is inactive")
	}
	at := event.StartsAt
	if at.IsZero() {
		at = m.now()
	}
	if (!sub.ActiveFrom.IsZero() && at.Before(sub.ActiveFrom)) ||
		(!sub.ActiveUntil.IsZero() && at.After(sub.ActiveUntil)) {
		return QRCode{}, Subscription{}, NewError(KindInactiveQR, "subscription does not cover this event")
	}
	return qr, sub, nil
}
