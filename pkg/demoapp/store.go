// Package demoapp implements the login/signup web application the bundled
// flows exercise.
package demoapp

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Seeded account every fresh store starts with.
const (
	SeedEmail     = "test@example.com"
	SeedPassword  = "Test123!"
	SeedFirstName = "Test"
	SeedLastName  = "User"
)

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailTaken is returned when the email is already registered.
	ErrEmailTaken = errors.New("email already registered")
)

// Messages shown for the sentinel errors.
const (
	msgInvalidCredentials = "Invalid email or password"
	msgEmailTaken         = "Email already registered"
)

// User is a registered account.
type User struct {
	Email        string
	FirstName    string
	LastName     string
	PasswordHash []byte
}

// Store holds users in memory keyed by email.
type Store struct {
	mu    sync.RWMutex
	users map[string]User
	cost  int
}

// NewStore returns a store seeded with the test account.
func NewStore() *Store {
	return newStore(bcrypt.DefaultCost)
}

func newStore(cost int) *Store {
	s := &Store{users: make(map[string]User), cost: cost}
	_ = s.Register(SignupForm{
		FirstName:       SeedFirstName,
		LastName:        SeedLastName,
		Email:           SeedEmail,
		Password:        SeedPassword,
		ConfirmPassword: SeedPassword,
	})
	return s
}

// Exists reports whether email is registered.
func (s *Store) Exists(email string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[strings.TrimSpace(email)]
	return ok
}

// Lookup returns the user registered under email.
func (s *Store) Lookup(email string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[email]
	return u, ok
}

// Count returns the number of registered users.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Authenticate checks a login.
func (s *Store) Authenticate(email, password string) (User, error) {
	u, ok := s.Lookup(strings.TrimSpace(email))
	if !ok {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, prehash(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

// Register creates a user from an already validated form.
func (s *Store) Register(form SignupForm) error {
	hash, err := bcrypt.GenerateFromPassword(prehash(form.Password), s.cost)
	if err != nil {
		return err
	}
	email := strings.TrimSpace(form.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[email]; ok {
		return ErrEmailTaken
	}
	s.users[email] = User{
		Email:        email,
		FirstName:    strings.TrimSpace(form.FirstName),
		LastName:     strings.TrimSpace(form.LastName),
		PasswordHash: hash,
	}
	return nil
}

// prehash folds a password of any length into 44 bytes, below bcrypt's
// 72-byte input limit.
func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}
