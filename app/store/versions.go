package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"

	"github.com/umputun/rootfsd/app/enums"
)

// suffixes of per-version files in a project directory
const (
	VersionSuffix    = ".version.xml"
	PkgArchiveSuffix = ".pkgarchive"
	UpdateSuffix     = ".upd"
)

// VersionedFileName makes a file name from escaped project name and version, e.g. "demo_1.0.version.xml"
func VersionedFileName(name, version, suffix string) string {
	return url.PathEscape(name) + "_" + url.PathEscape(version) + suffix
}

// UpdatePackageName makes the file name of an update package between two versions
func UpdatePackageName(name, baseVersion, version string) string {
	return url.PathEscape(name) + "_" + url.PathEscape(baseVersion) + "_" + url.PathEscape(version) + UpdateSuffix
}

// SaveVersion records the version of the live configuration of a busy project. The snapshot file
// is written first and removed again if the row can't be recorded.
func (s *Store) SaveVersion(ctx context.Context, builddir, description string) (ProjectVersion, error) {
	var res ProjectVersion
	var snapshot string
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		p, err := s.lockProject(ctx, tx, builddir)
		if err != nil {
			return err
		}
		if p.Status != enums.StatusBusy {
			return &InvalidStateError{BuildDir: builddir, Status: p.Status, Op: "save version"}
		}
		data, err := os.ReadFile(filepath.Join(builddir, SourceXML)) //nolint:gosec // path under project dir
		if err != nil {
			return fmt.Errorf("%w: failed to read configuration of %s: %w", ErrIO, builddir, err)
		}
		name, version, err := s.validate(data)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}

		var count int
		if err := tx.GetContext(ctx, &count, tx.Rebind(`SELECT COUNT(*) FROM project_versions WHERE builddir = ? AND version = ?`),
			builddir, version); err != nil {
			return fmt.Errorf("failed to check version %s of %s: %w", version, builddir, err)
		}
		if count > 0 {
			return fmt.Errorf("version %s of %s: %w", version, builddir, ErrAlreadyExists)
		}

		fname := VersionedFileName(name, version, VersionSuffix)
		if err := writeFileAtomic(filepath.Join(builddir, fname), data); err != nil {
			return err
		}
		snapshot = filepath.Join(builddir, fname)

		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO project_versions (builddir, version, name, description) VALUES (?, ?, ?, ?)`),
			builddir, version, name, description); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("version %s of %s: %w", version, builddir, ErrAlreadyExists)
			}
			return fmt.Errorf("failed to insert version %s of %s: %w", version, builddir, err)
		}
		art := Artifact{Name: fname, MimeType: "application/xml", Description: "source.xml for version " + version}
		if err := s.upsertFile(ctx, tx, builddir, art); err != nil {
			return err
		}
		res = ProjectVersion{BuildDir: builddir, Version: version, Name: name, Description: description}
		return nil
	})
	if err != nil {
		if snapshot != "" {
			if rmErr := os.Remove(snapshot); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				log.Printf("[WARN] failed to remove snapshot %s: %v", snapshot, rmErr)
			}
		}
		return ProjectVersion{}, err
	}
	log.Printf("[INFO] version %s of %s saved", res.Version, builddir)
	return res, nil
}

// CheckoutVersion copies a version snapshot over the live configuration of a busy project
func (s *Store) CheckoutVersion(ctx context.Context, builddir, version string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		p, err := s.lockProject(ctx, tx, builddir)
		if err != nil {
			return err
		}
		if p.Status != enums.StatusBusy {
			return &InvalidStateError{BuildDir: builddir, Status: p.Status, Op: "checkout version"}
		}
		v, err := s.getVersion(ctx, tx, builddir, version)
		if err != nil {
			return err
		}
		snapshot := filepath.Join(builddir, VersionedFileName(v.Name, v.Version, VersionSuffix))
		data, err := os.ReadFile(snapshot) //nolint:gosec // path under project dir
		if err != nil {
			return fmt.Errorf("%w: failed to read snapshot %s: %w", ErrIO, snapshot, err)
		}
		name, docVersion, err := s.validate(data)
		if err != nil {
			return fmt.Errorf("%w: snapshot %s: %w", ErrValidation, snapshot, err)
		}
		if err := writeFileAtomic(filepath.Join(builddir, SourceXML), data); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE projects SET name = ?, version = ?, xml = ?, edit = ? WHERE builddir = ?`),
			name, docVersion, string(data), s.now().Unix(), builddir)
		if err != nil {
			return fmt.Errorf("failed to update project %s: %w", builddir, err)
		}
		log.Printf("[INFO] version %s of %s checked out", version, builddir)
		return nil
	})
}

// DelVersion removes a version row, its snapshot file and the file row. Busy projects are
// rejected unless force is set, which is how a failed save-version job cleans up.
func (s *Store) DelVersion(ctx context.Context, builddir, version string, force bool) error {
	var snapshot, parked string
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		status, err := s.lockStatus(ctx, tx, builddir)
		if err != nil {
			return err
		}
		if status == enums.StatusBusy && !force {
			return &InvalidStateError{BuildDir: builddir, Status: status, Op: "delete version"}
		}
		v, err := s.getVersion(ctx, tx, builddir, version)
		if err != nil {
			return err
		}
		fname := VersionedFileName(v.Name, v.Version, VersionSuffix)
		snapshot = filepath.Join(builddir, fname)
		if err := os.Rename(snapshot, snapshot+".deleted"); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: failed to remove snapshot %s: %w", ErrIO, snapshot, err)
		} else if err == nil {
			parked = snapshot + ".deleted"
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM project_versions WHERE builddir = ? AND version = ?`),
			builddir, version); err != nil {
			return fmt.Errorf("failed to delete version %s of %s: %w", version, builddir, err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM project_files WHERE builddir = ? AND name = ?`),
			builddir, fname); err != nil {
			return fmt.Errorf("failed to delete file %s of %s: %w", fname, builddir, err)
		}
		return nil
	})

	if parked == "" {
		return err
	}
	if err != nil {
		if rbErr := os.Rename(parked, snapshot); rbErr != nil {
			log.Printf("[WARN] failed to restore snapshot %s: %v", snapshot, rbErr)
		}
		return err
	}
	if rmErr := os.Remove(parked); rmErr != nil {
		log.Printf("[WARN] failed to remove %s: %v", parked, rmErr)
	}
	log.Printf("[INFO] version %s of %s deleted", version, builddir)
	return nil
}

// ListVersions returns recorded versions of a project
func (s *Store) ListVersions(ctx context.Context, builddir string) ([]ProjectVersion, error) {
	if _, err := s.GetStatus(ctx, builddir); err != nil {
		return nil, err
	}
	var res []ProjectVersion
	if err := s.db.SelectContext(ctx, &res, s.db.Rebind(`SELECT builddir, version, name, description
		FROM project_versions WHERE builddir = ? ORDER BY version`), builddir); err != nil {
		return nil, fmt.Errorf("failed to list versions of %s: %w", builddir, err)
	}
	return res, nil
}

// SetVersionDescription changes the description of a recorded version
func (s *Store) SetVersionDescription(ctx context.Context, builddir, version, description string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE project_versions SET description = ? WHERE builddir = ? AND version = ?`),
		description, builddir, version)
	if err != nil {
		return fmt.Errorf("failed to set description of version %s of %s: %w", version, builddir, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("version %s of %s: %w", version, builddir, ErrNotFound)
	}
	return nil
}

// VersionPath returns the snapshot file path of a recorded version
func (s *Store) VersionPath(ctx context.Context, builddir, version string) (string, error) {
	var v ProjectVersion
	err := s.db.GetContext(ctx, &v, s.db.Rebind(`SELECT builddir, version, name, description
		FROM project_versions WHERE builddir = ? AND version = ?`), builddir, version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("version %s of %s: %w", version, builddir, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get version %s of %s: %w", version, builddir, err)
	}
	return filepath.Join(builddir, VersionedFileName(v.Name, v.Version, VersionSuffix)), nil
}

func (s *Store) getVersion(ctx context.Context, tx *sqlx.Tx, builddir, version string) (ProjectVersion, error) {
	var v ProjectVersion
	err := tx.GetContext(ctx, &v, tx.Rebind(`SELECT builddir, version, name, description
		FROM project_versions WHERE builddir = ? AND version = ?`), builddir, version)
	if errors.Is(err, sql.ErrNoRows) {
		return ProjectVersion{}, fmt.Errorf("version %s of %s: %w", version, builddir, ErrNotFound)
	}
	if err != nil {
		return ProjectVersion{}, fmt.Errorf("failed to get version %s of %s: %w", version, builddir, err)
	}
	return v, nil
}
