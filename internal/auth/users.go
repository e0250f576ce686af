// Package auth keeps local accounts: who may log in and with which role.
package auth

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-exams/internal/rbac"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidUser        = errors.New("invalid user")
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists users. ByUsername and ByID return (nil, nil) when nothing
// matches.
type Store interface {
	Insert(ctx context.Context, u User) error
	ByUsername(ctx context.Context, username string) (*User, error)
	ByID(ctx context.Context, id string) (*User, error)
}

// Directory is the account logic on top of a Store.
type Directory struct {
	store Store
	now   func() time.Time
}

func NewDirectory(store Store) *Directory {
	return &Directory{store: store, now: time.Now}
}

// Add creates a user with a bcrypt hash of password.
func (d *Directory) Add(ctx context.Context, username, role, password string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return User{}, errors.Wrap(ErrInvalidUser, "username and password are required")
	}
	if !rbac.ValidRole(role) {
		return User{}, errors.Wrapf(ErrInvalidUser, "unknown role %q", role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, errors.Wrap(err, "hash password")
	}
	return d.insert(ctx, username, role, string(hash))
}

// EnsureAdmin creates the bootstrap admin from a ready bcrypt hash unless a
// user with that name exists.
func (d *Directory) EnsureAdmin(ctx context.Context, username, passHash string) error {
	if username == "" || passHash == "" {
		return nil
	}
	u, err := d.store.ByUsername(ctx, username)
	if err != nil || u != nil {
		return err
	}
	_, err = d.insert(ctx, username, rbac.RoleAdmin, passHash)
	if errors.Is(err, ErrUserExists) {
		return nil
	}
	return err
}

func (d *Directory) insert(ctx context.Context, username, role, hash string) (User, error) {
	u := User{
		ID:           uuid.NewString(),
		Username:     username,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    d.now().UTC().Truncate(time.Second),
	}
	if err := d.store.Insert(ctx, u); err != nil {
		return User{}, err
	}
	return u, nil
}

func (d *Directory) Authenticate(ctx context.Context, username, password string) (string, string, error) {
	u, err := d.store.ByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return "", "", err
	}
	if u == nil {
		return "", "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", "", ErrInvalidCredentials
	}
	return u.ID, u.Role, nil
}

func (d *Directory) RoleOf(ctx context.Context, userID string) (string, error) {
	u, err := d.store.ByID(ctx, userID)
	if err != nil || u == nil {
		return "", err
	}
	return u.Role, nil
}

type SQLStore struct{ db *sql.DB }

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) Insert(ctx context.Context, u User) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO users (id, username, role, password_hash, created_at)
		VALUES ($1,$2,$3,$4,$5) ON CONFLICT (username) DO NOTHING`,
		u.ID, u.Username, u.Role, u.PasswordHash, u.CreatedAt.Unix())
	if err != nil {
		return errors.Wrapf(err, "insert user %s", u.Username)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrUserExists, "username %s", u.Username)
	}
	return nil
}

func (s *SQLStore) ByUsername(ctx context.Context, username string) (*User, error) {
	return s.one(ctx, `WHERE username=$1`, username)
}

func (s *SQLStore) ByID(ctx context.Context, id string) (*User, error) {
	return s.one(ctx, `WHERE id=$1`, id)
}

func (s *SQLStore) one(ctx context.Context, where string, arg string) (*User, error) {
	var (
		u       User
		created int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, username, role, password_hash, created_at FROM users `+where, arg).
		Scan(&u.ID, &u.Username, &u.Role, &u.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	return &u, nil
}

type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]User // by id
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{users: map[string]User{}} }

func (m *MemoryStore) Insert(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.users {
		if x.Username == u.Username {
			return errors.Wrapf(ErrUserExists, "username %s", u.Username)
		}
	}
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStore) ByUsername(_ context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ByID(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}
