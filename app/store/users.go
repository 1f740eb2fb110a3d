package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

const userColumns = "id, name, fullname, pwhash, email, admin"

// AddUser inserts a new user with a bcrypt-hashed password
func (s *Store) AddUser(ctx context.Context, req UserRequest) (User, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return User{}, fmt.Errorf("%w: empty user name", ErrValidation)
	}
	if req.Password == "" {
		return User{}, fmt.Errorf("%w: empty password for user %s", ErrValidation, req.Name)
	}
	hash, err := s.hashPassword(req.Password)
	if err != nil {
		return User{}, err
	}

	var id int64
	err = s.db.GetContext(ctx, &id, s.db.Rebind(`INSERT INTO users (name, fullname, pwhash, email, admin) VALUES (?, ?, ?, ?, ?) RETURNING id`),
		req.Name, req.FullName, hash, req.Email, req.Admin)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, fmt.Errorf("user %s: %w", req.Name, ErrAlreadyExists)
		}
		return User{}, fmt.Errorf("failed to add user %s: %w", req.Name, err)
	}
	log.Printf("[INFO] user %s added, id %d, admin %v", req.Name, id, req.Admin)
	return User{ID: id, Name: req.Name, FullName: req.FullName, PwHash: hash, Email: req.Email, Admin: req.Admin}, nil
}

// ModifyUser updates a user, an empty password keeps the current hash
func (s *Store) ModifyUser(ctx context.Context, id int64, req UserRequest) (User, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return User{}, fmt.Errorf("%w: empty user name", ErrValidation)
	}
	var res User
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		u, err := s.getUser(ctx, tx, `id = ?`, id)
		if err != nil {
			return err
		}
		if req.Password != "" {
			if u.PwHash, err = s.hashPassword(req.Password); err != nil {
				return err
			}
		}
		u.Name, u.FullName, u.Email, u.Admin = req.Name, req.FullName, req.Email, req.Admin
		_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE users SET name = ?, fullname = ?, pwhash = ?, email = ?, admin = ? WHERE id = ?`),
			u.Name, u.FullName, u.PwHash, u.Email, u.Admin, id)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("user %s: %w", req.Name, ErrAlreadyExists)
			}
			return fmt.Errorf("failed to modify user %d: %w", id, err)
		}
		res = u
		return nil
	})
	if err != nil {
		return User{}, err
	}
	return res, nil
}

// DelUser removes a user and returns the projects it owned, now ownerless
func (s *Store) DelUser(ctx context.Context, id int64) ([]Project, error) {
	var orphans []Project
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.getUser(ctx, tx, `id = ?`, id); err != nil {
			return err
		}
		var rows []projectRow
		if err := tx.SelectContext(ctx, &rows, tx.Rebind(`SELECT `+projectColumns+` FROM projects WHERE owner_id = ? ORDER BY builddir`), id); err != nil {
			return fmt.Errorf("failed to list projects of user %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE projects SET owner_id = NULL WHERE owner_id = ?`), id); err != nil {
			return fmt.Errorf("failed to orphan projects of user %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM users WHERE id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete user %d: %w", id, err)
		}
		for _, r := range rows {
			p := r.project()
			p.OwnerID = nil
			orphans = append(orphans, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] user %d deleted, %d projects orphaned", id, len(orphans))
	return orphans, nil
}

// GetUser returns a user by id
func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	return s.getUser(ctx, s.db, `id = ?`, id)
}

// GetUserByName returns a user by name
func (s *Store) GetUserByName(ctx context.Context, name string) (User, error) {
	return s.getUser(ctx, s.db, `name = ?`, name)
}

// ListUsers returns all users ordered by id
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	var res []User
	if err := s.db.SelectContext(ctx, &res, `SELECT `+userColumns+` FROM users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return res, nil
}

// IsAdmin reports whether the user has the admin flag
func (s *Store) IsAdmin(ctx context.Context, id int64) (bool, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return false, err
	}
	return u.Admin, nil
}

// ValidateLogin checks name and password, unknown names cost the same as wrong passwords
func (s *Store) ValidateLogin(ctx context.Context, name, password string) (User, error) {
	u, err := s.GetUserByName(ctx, name)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return User{}, err
		}
		_ = bcrypt.CompareHashAndPassword(s.dummyHash(), []byte(password))
		return User{}, fmt.Errorf("user %s: %w", name, ErrInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PwHash), []byte(password)); err != nil {
		return User{}, fmt.Errorf("user %s: %w", name, ErrInvalidCredentials)
	}
	return u, nil
}

// EnsureAdmin adds an admin user if no users exist yet, returns true if the user was added
func (s *Store) EnsureAdmin(ctx context.Context, name, password string) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM users`); err != nil {
		return false, fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		return false, nil
	}
	if _, err := s.AddUser(ctx, UserRequest{Name: name, FullName: "Administrator", Password: password, Admin: true}); err != nil {
		return false, fmt.Errorf("failed to bootstrap admin: %w", err)
	}
	return true, nil
}

func (s *Store) getUser(ctx context.Context, q sqlx.QueryerContext, where string, arg any) (User, error) {
	var u User
	err := sqlx.GetContext(ctx, q, &u, s.db.Rebind(`SELECT `+userColumns+` FROM users WHERE `+where), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to get user %v: %w", arg, err)
	}
	return u, nil
}

func (s *Store) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// dummyHash returns a hash made with the store's cost, so unknown names take as long as real ones
func (s *Store) dummyHash() []byte {
	s.dummyOnce.Do(func() {
		s.dummy, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.bcryptCost)
	})
	return s.dummy
}
