// Package auth provides user accounts and bearer-token authentication.
//
// Passwords are hashed with bcrypt; tokens are HS256 JWTs issued on login
// and verified on every authenticated request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

// Sentinel errors for account operations.
var (
	// ErrUserExists is returned when the username or email is already taken.
	ErrUserExists = errors.New("username or email already exists")

	// ErrInvalidCredentials is returned when login fails. It deliberately
	// does not distinguish unknown user from wrong password.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrUserNotFound is returned when a user ID does not exist.
	ErrUserNotFound = errors.New("user not found")
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// maxPasswordLen caps password input; bcrypt silently truncates at 72 bytes,
// so longer inputs are rejected instead of partially hashed.
const maxPasswordLen = 72

// User is an account row.
type User struct {
	ID        uuid.UUID
	Username  string
	Email     string
	Precision string
	CreatedAt time.Time
	LastLogin time.Time
}

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store manages user accounts in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     querier
	logger *slog.Logger
}

// NewStore creates a user Store.
func NewStore(db querier, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

// Create registers a new user with a bcrypt-hashed password.
// Returns ErrUserExists when the username or email is already taken.
func (s *Store) Create(ctx context.Context, username, email, password string) (*User, error) {
	if username == "" || email == "" || password == "" {
		return nil, fmt.Errorf("username, email and password are required")
	}
	if len(password) > maxPasswordLen {
		return nil, fmt.Errorf("password exceeds %d bytes", maxPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	var u User
	err = s.db.QueryRow(ctx,
		`INSERT INTO users (username, email, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING id, username, email, precision_mode, created_at`,
		username, email, string(hash),
	).Scan(&u.ID, &u.Username, &u.Email, &u.Precision, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	s.logger.Info("user registered", "user_id", u.ID, "username", u.Username)
	return &u, nil
}

// Authenticate verifies a username/password pair and records the login time.
// Returns ErrInvalidCredentials on any mismatch.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*User, error) {
	var (
		u    User
		hash string
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, username, email, precision_mode, created_at, password_hash
		 FROM users WHERE username = $1`,
		username,
	).Scan(&u.ID, &u.Username, &u.Email, &u.Precision, &u.CreatedAt, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Burn a bcrypt comparison anyway so unknown users cost the
			// same as wrong passwords.
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if _, err := s.db.Exec(ctx,
		`UPDATE users SET last_login = now() WHERE id = $1`, u.ID); err != nil {
		s.logger.Warn("updating last_login", "user_id", u.ID, "error", err)
	}

	return &u, nil
}

// GetByID retrieves a user by ID. Returns ErrUserNotFound when absent.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx,
		`SELECT id, username, email, precision_mode, created_at, COALESCE(last_login, 'epoch'::timestamptz)
		 FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.Precision, &u.CreatedAt, &u.LastLogin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("getting user %s: %w", id, err)
	}
	return &u, nil
}

// Precision returns the user's stored answer precision mode.
func (s *Store) Precision(ctx context.Context, id uuid.UUID) (string, error) {
	var mode string
	err := s.db.QueryRow(ctx,
		`SELECT precision_mode FROM users WHERE id = $1`, id).Scan(&mode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("getting precision for %s: %w", id, err)
	}
	return mode, nil
}

// SetPrecision stores the user's answer precision mode. The caller is
// expected to have validated the mode; the schema CHECK rejects anything
// else as a last line of defense.
func (s *Store) SetPrecision(ctx context.Context, id uuid.UUID, mode string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE users SET precision_mode = $2 WHERE id = $1`, id, mode)
	if err != nil {
		return fmt.Errorf("setting precision for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// dummyHash is a valid bcrypt hash of an unguessable value, used to
// equalize timing when the username does not exist.
var dummyHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("hiraku-timing-pad"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
}()
