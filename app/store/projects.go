package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"

	"github.com/umputun/rootfsd/app/enums"
)

// CreateProject makes the project directory and inserts the project row with empty_project status.
// The directory is removed if the insert fails.
func (s *Store) CreateProject(ctx context.Context, builddir string, ownerID *int64) (Project, error) {
	if !filepath.IsAbs(builddir) {
		return Project{}, fmt.Errorf("%w: builddir %q is not absolute", ErrValidation, builddir)
	}
	builddir = filepath.Clean(builddir)

	var count int
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(`SELECT COUNT(*) FROM projects WHERE builddir = ?`), builddir); err != nil {
		return Project{}, fmt.Errorf("failed to check project %s: %w", builddir, err)
	}
	if count > 0 {
		return Project{}, fmt.Errorf("project %s: %w", builddir, ErrAlreadyExists)
	}

	if err := os.Mkdir(builddir, 0o750); err != nil {
		if errors.Is(err, os.ErrExist) {
			return Project{}, fmt.Errorf("directory %s: %w", builddir, ErrAlreadyExists)
		}
		return Project{}, fmt.Errorf("%w: failed to create %s: %w", ErrIO, builddir, err)
	}

	edit := s.now().Unix()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO projects (builddir, status, edit, owner_id) VALUES (?, ?, ?, ?)`),
		builddir, enums.StatusEmptyProject, edit, nullInt64(ownerID))
	if err != nil {
		if rmErr := os.RemoveAll(builddir); rmErr != nil {
			log.Printf("[WARN] failed to remove %s after failed insert: %v", builddir, rmErr)
		}
		if isUniqueViolation(err) {
			return Project{}, fmt.Errorf("project %s: %w", builddir, ErrAlreadyExists)
		}
		if isForeignKeyViolation(err) && ownerID != nil {
			return Project{}, fmt.Errorf("owner %d of project %s: %w", *ownerID, builddir, ErrNotFound)
		}
		return Project{}, fmt.Errorf("failed to insert project %s: %w", builddir, err)
	}

	log.Printf("[INFO] project %s created", builddir)
	return Project{BuildDir: builddir, Status: enums.StatusEmptyProject, EditedAt: time.Unix(edit, 0), OwnerID: ownerID}, nil
}

// DelProject removes a non-busy project, its child rows and its directory tree
func (s *Store) DelProject(ctx context.Context, builddir string) error {
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		status, err := s.lockStatus(ctx, tx, builddir)
		if err != nil {
			return err
		}
		if status == enums.StatusBusy {
			return &InvalidStateError{BuildDir: builddir, Status: status, Op: "delete"}
		}
		for _, q := range []string{
			`DELETE FROM project_versions WHERE builddir = ?`,
			`DELETE FROM project_files WHERE builddir = ?`,
			`DELETE FROM projects WHERE builddir = ?`,
		} {
			if _, err := tx.ExecContext(ctx, tx.Rebind(q), builddir); err != nil {
				return fmt.Errorf("failed to delete project %s: %w", builddir, err)
			}
		}
		if err := os.RemoveAll(builddir); err != nil {
			return fmt.Errorf("%w: failed to remove %s: %w", ErrIO, builddir, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("[INFO] project %s deleted", builddir)
	return nil
}

// GetProject returns a project by its build directory
func (s *Store) GetProject(ctx context.Context, builddir string) (Project, error) {
	var row projectRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+projectColumns+` FROM projects WHERE builddir = ?`), builddir)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, fmt.Errorf("project %s: %w", builddir, ErrNotFound)
	}
	if err != nil {
		return Project{}, fmt.Errorf("failed to get project %s: %w", builddir, err)
	}
	return row.project(), nil
}

// ListProjects returns projects owned by ownerID, or all projects for nil owner
func (s *Store) ListProjects(ctx context.Context, ownerID *int64) ([]Project, error) {
	q, args := `SELECT `+projectColumns+` FROM projects ORDER BY builddir`, []any{}
	if ownerID != nil {
		q, args = `SELECT `+projectColumns+` FROM projects WHERE owner_id = ? ORDER BY builddir`, []any{*ownerID}
	}
	var rows []projectRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	res := make([]Project, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.project())
	}
	return res, nil
}

// GetStatus returns the current status of a project
func (s *Store) GetStatus(ctx context.Context, builddir string) (enums.Status, error) {
	var status enums.Status
	err := s.db.GetContext(ctx, &status, s.db.Rebind(`SELECT status FROM projects WHERE builddir = ?`), builddir)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("project %s: %w", builddir, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get status of %s: %w", builddir, err)
	}
	return status, nil
}

// GetOwnerID returns the owner of a project, nil for ownerless projects
func (s *Store) GetOwnerID(ctx context.Context, builddir string) (*int64, error) {
	var owner sql.NullInt64
	err := s.db.GetContext(ctx, &owner, s.db.Rebind(`SELECT owner_id FROM projects WHERE builddir = ?`), builddir)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", builddir, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get owner of %s: %w", builddir, err)
	}
	if !owner.Valid {
		return nil, nil
	}
	return &owner.Int64, nil
}

// SetXML validates and stores a new configuration document and moves the status per the edit rules:
// empty_project and build_failed become needs_build, build_done becomes has_changes.
func (s *Store) SetXML(ctx context.Context, builddir string, data []byte) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		status, err := s.lockStatus(ctx, tx, builddir)
		if err != nil {
			return err
		}
		if status == enums.StatusBusy {
			return &InvalidStateError{BuildDir: builddir, Status: status, Op: "change configuration"}
		}
		name, version, err := s.validate(data)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
		if err := writeFileAtomic(filepath.Join(builddir, SourceXML), data); err != nil {
			return err
		}

		next := status
		switch status {
		case enums.StatusEmptyProject, enums.StatusBuildFailed:
			next = enums.StatusNeedsBuild
		case enums.StatusBuildDone:
			next = enums.StatusHasChanges
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE projects SET name = ?, version = ?, xml = ?, status = ?, edit = ? WHERE builddir = ?`),
			name, version, string(data), next, s.now().Unix(), builddir)
		if err != nil {
			return fmt.Errorf("failed to update project %s: %w", builddir, err)
		}
		log.Printf("[DEBUG] project %s configuration set, %s -> %s", builddir, status, next)
		return nil
	})
}

// SetBusy atomically moves a project from one of allowed statuses to busy and returns the prior status
func (s *Store) SetBusy(ctx context.Context, builddir string, allowed ...enums.Status) (prior enums.Status, err error) {
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		status, err := s.lockStatus(ctx, tx, builddir)
		if err != nil {
			return err
		}
		if status == enums.StatusBusy || !status.In(allowed...) {
			return &InvalidStateError{BuildDir: builddir, Status: status, Op: "become busy"}
		}
		if err := s.updateStatus(ctx, tx, builddir, enums.StatusBusy); err != nil {
			return err
		}
		prior = status
		return nil
	})
	if err != nil {
		return "", err
	}
	return prior, nil
}

// ResetBusy moves a busy project to the given non-busy status
func (s *Store) ResetBusy(ctx context.Context, builddir string, status enums.Status) error {
	if status == enums.StatusBusy {
		return fmt.Errorf("%w: can't reset %s to busy", ErrInvalidState, builddir)
	}
	if _, err := enums.ParseStatus(string(status)); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.lockStatus(ctx, tx, builddir)
		if err != nil {
			return err
		}
		if current != enums.StatusBusy {
			return &InvalidStateError{BuildDir: builddir, Status: current, Op: "reset busy"}
		}
		return s.updateStatus(ctx, tx, builddir, status)
	})
}

// ResetStaleBusy resets every project left busy to the given status and returns their build directories
func (s *Store) ResetStaleBusy(ctx context.Context, status enums.Status) ([]string, error) {
	if status == enums.StatusBusy {
		return nil, fmt.Errorf("%w: can't reset stale projects to busy", ErrInvalidState)
	}
	var res []string
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &res, tx.Rebind(`SELECT builddir FROM projects WHERE status = ?`+s.dialect.lockClause),
			enums.StatusBusy); err != nil {
			return fmt.Errorf("failed to select busy projects: %w", err)
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE projects SET status = ? WHERE status = ?`), status, enums.StatusBusy)
		if err != nil {
			return fmt.Errorf("failed to reset busy projects: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, b := range res {
		log.Printf("[WARN] project %s was left busy, reset to %s", b, status)
	}
	return res, nil
}

// lockStatus reads the status of a project, holding the row lock for the rest of the transaction
func (s *Store) lockStatus(ctx context.Context, tx *sqlx.Tx, builddir string) (enums.Status, error) {
	var status enums.Status
	err := tx.GetContext(ctx, &status, tx.Rebind(`SELECT status FROM projects WHERE builddir = ?`+s.dialect.lockClause), builddir)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("project %s: %w", builddir, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to lock project %s: %w", builddir, err)
	}
	return status, nil
}

// lockProject is lockStatus returning the whole row
func (s *Store) lockProject(ctx context.Context, tx *sqlx.Tx, builddir string) (Project, error) {
	var row projectRow
	err := tx.GetContext(ctx, &row, tx.Rebind(`SELECT `+projectColumns+` FROM projects WHERE builddir = ?`+s.dialect.lockClause), builddir)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, fmt.Errorf("project %s: %w", builddir, ErrNotFound)
	}
	if err != nil {
		return Project{}, fmt.Errorf("failed to lock project %s: %w", builddir, err)
	}
	return row.project(), nil
}

func (s *Store) updateStatus(ctx context.Context, tx *sqlx.Tx, builddir string, status enums.Status) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE projects SET status = ? WHERE builddir = ?`), status, builddir); err != nil {
		return fmt.Errorf("failed to set status %s for %s: %w", status, builddir, err)
	}
	return nil
}
