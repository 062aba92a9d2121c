// Package users implements the account service: registration, login, and
// profile management over the shared record store.
package users

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cartmesh/cartmesh/internal/auth"
	"github.com/cartmesh/cartmesh/internal/store"
)

const collection = "users"

// Collections returns the store collections this service owns.
func Collections() []string { return []string{collection} }

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// ValidationError describes a rejected request field.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// User is the stored account record. Password material never leaves the
// service; the client-facing view is Profile.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"passwordHash"`
	Salt         string    `json:"salt"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Profile is the client-facing view of an account.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Profile strips password material from the record.
func (u User) Profile() Profile {
	return Profile{ID: u.ID, Email: u.Email, Name: u.Name, CreatedAt: u.CreatedAt}
}

// Stats is the aggregate payload served to the dashboard.
type Stats struct {
	TotalUsers int `json:"totalUsers"`
}

// Service implements account operations.
type Service struct {
	store  *store.Store
	tokens *auth.Tokens
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates the account service over an opened store.
func NewService(st *store.Store, tokens *auth.Tokens, logger *slog.Logger) *Service {
	return &Service{store: st, tokens: tokens, logger: logger, now: time.Now}
}

// Register creates an account and mints its first token. Emails are
// normalized to lower case and must be unique.
func (s *Service) Register(email, name, password string) (Profile, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)
	if err := validate(email, name, password); err != nil {
		return Profile{}, "", err
	}

	if _, err := s.byEmail(email); err == nil {
		return Profile{}, "", ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return Profile{}, "", err
	}

	hash, salt, err := auth.HashPassword(password)
	if err != nil {
		return Profile{}, "", fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	u := User{
		ID:           store.NewID(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Salt:         salt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Put(collection, u.ID, u); err != nil {
		return Profile{}, "", err
	}

	token, err := s.tokens.Mint(u.ID, u.Email)
	if err != nil {
		return Profile{}, "", err
	}

	s.logger.Info("user registered", "user_id", u.ID, "email", u.Email)
	return u.Profile(), token, nil
}

// Login checks credentials and mints a token. A missing account and a wrong
// password produce the same error.
func (s *Service) Login(email, password string) (Profile, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.byEmail(email)
	if errors.Is(err, store.ErrNotFound) {
		return Profile{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return Profile{}, "", err
	}

	if !auth.CheckPassword(password, u.Salt, u.PasswordHash) {
		return Profile{}, "", ErrInvalidCredentials
	}

	token, err := s.tokens.Mint(u.ID, u.Email)
	if err != nil {
		return Profile{}, "", err
	}

	s.logger.Info("user logged in", "user_id", u.ID)
	return u.Profile(), token, nil
}

// Get returns the account profile, or store.ErrNotFound.
func (s *Service) Get(id string) (Profile, error) {
	var u User
	if err := s.store.Get(collection, id, &u); err != nil {
		return Profile{}, err
	}
	return u.Profile(), nil
}

// UpdateName changes the display name.
func (s *Service) UpdateName(id, name string) (Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Profile{}, validationErrorf("name is required")
	}

	var u User
	if err := s.store.Get(collection, id, &u); err != nil {
		return Profile{}, err
	}

	u.Name = name
	u.UpdatedAt = s.now().UTC()
	if err := s.store.Put(collection, id, u); err != nil {
		return Profile{}, err
	}
	return u.Profile(), nil
}

// Delete removes the account, or returns store.ErrNotFound.
func (s *Service) Delete(id string) error {
	if err := s.store.Delete(collection, id); err != nil {
		return err
	}
	s.logger.Info("user deleted", "user_id", id)
	return nil
}

// Stats returns the dashboard aggregates.
func (s *Service) Stats() (Stats, error) {
	n, err := s.store.Count(collection)
	if err != nil {
		return Stats{}, err
	}
	return Stats{TotalUsers: n}, nil
}

func (s *Service) byEmail(email string) (User, error) {
	raws, err := s.store.Find(collection, func(raw []byte) bool {
		var u User
		return json.Unmarshal(raw, &u) == nil && u.Email == email
	})
	if err != nil {
		return User{}, err
	}
	if len(raws) == 0 {
		return User{}, store.ErrNotFound
	}

	var u User
	if err := json.Unmarshal(raws[0], &u); err != nil {
		return User{}, err
	}
	return u, nil
}

func validate(email, name, password string) error {
	if email == "" || !strings.Contains(email, "@") {
		return validationErrorf("a valid email is required")
	}
	if name == "" {
		return validationErrorf("name is required")
	}
	if len(password) < 8 {
		return validationErrorf("password must be at least 8 characters")
	}
	return nil
}
