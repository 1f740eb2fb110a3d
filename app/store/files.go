package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
)

const textPlain = "text/plain; charset=utf-8"

// wellKnownArtifacts are files a project directory may contain after a build
var wellKnownArtifacts = []Artifact{
	{Name: SourceXML, MimeType: "application/xml", Description: "Current source.xml of the project"},
	{Name: "licence-chroot.txt", MimeType: textPlain, Description: "License file for the chroot"},
	{Name: "licence-chroot.xml", MimeType: "application/xml", Description: "xml License file for the chroot"},
	{Name: "licence-target.txt", MimeType: textPlain, Description: "License file for the target"},
	{Name: "licence-target.xml", MimeType: "application/xml", Description: "xml License file for the target"},
	{Name: "licence-sysroot-target.txt", MimeType: textPlain, Description: "License file for the sysroot target"},
	{Name: "licence-sysroot-target.xml", MimeType: "application/xml", Description: "xml License file for the sysroot target"},
	{Name: "licence-sysroot-host.txt", MimeType: textPlain, Description: "License file for the sysroot host"},
	{Name: "licence-sysroot-host.xml", MimeType: "application/xml", Description: "xml License file for the sysroot host"},
	{Name: "validation.txt", MimeType: textPlain, Description: "Package list validation result"},
	{Name: "elbe-report.txt", MimeType: textPlain, Description: "Report"},
	{Name: LogFile, MimeType: textPlain, Description: "Log file"},
	{Name: "sysroot.tar.xz", MimeType: "application/x-xz-compressed-tar", Description: "sysroot for cross-toolchains"},
	{Name: "sdk.sh", MimeType: "application/x-shellscript", Description: "SDK Installer"},
	{Name: "chroot.tar.xz", MimeType: "application/x-xz-compressed-tar", Description: "chroot for 'native' development"},
}

// package builder result directories, every file inside is an artifact
var resultDirs = []string{"pbuilder/result", "pbuilder_cross/result"}

// UpdateProjectFiles reconciles file rows with the project directory. Rows of vanished files are
// dropped, existing well-known artifacts, package builder results and extra artifacts are upserted.
func (s *Store) UpdateProjectFiles(ctx context.Context, builddir string, extra ...Artifact) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.lockStatus(ctx, tx, builddir); err != nil {
			return err
		}

		var names []string
		if err := tx.SelectContext(ctx, &names, tx.Rebind(`SELECT name FROM project_files WHERE builddir = ?`), builddir); err != nil {
			return fmt.Errorf("failed to list files of %s: %w", builddir, err)
		}
		for _, name := range names {
			if isFile(filepath.Join(builddir, name)) {
				continue
			}
			if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM project_files WHERE builddir = ? AND name = ?`),
				builddir, name); err != nil {
				return fmt.Errorf("failed to delete file %s of %s: %w", name, builddir, err)
			}
			log.Printf("[DEBUG] file %s of %s vanished", name, builddir)
		}

		candidates := append(append([]Artifact{}, wellKnownArtifacts...), resultArtifacts(builddir)...)
		candidates = append(candidates, extra...)
		for _, a := range candidates {
			if !filepath.IsLocal(a.Name) || !isFile(filepath.Join(builddir, a.Name)) {
				continue
			}
			if err := s.upsertFile(ctx, tx, builddir, a); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddProjectFile registers an existing file of a project
func (s *Store) AddProjectFile(ctx context.Context, builddir string, a Artifact) error {
	if !filepath.IsLocal(a.Name) {
		return fmt.Errorf("%w: file name %q is outside of project", ErrValidation, a.Name)
	}
	if !isFile(filepath.Join(builddir, a.Name)) {
		return fmt.Errorf("file %s of %s: %w", a.Name, builddir, ErrNotFound)
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.lockStatus(ctx, tx, builddir); err != nil {
			return err
		}
		return s.upsertFile(ctx, tx, builddir, a)
	})
}

// ListProjectFiles returns registered files of a project
func (s *Store) ListProjectFiles(ctx context.Context, builddir string) ([]ProjectFile, error) {
	if _, err := s.GetStatus(ctx, builddir); err != nil {
		return nil, err
	}
	var res []ProjectFile
	if err := s.db.SelectContext(ctx, &res, s.db.Rebind(`SELECT builddir, name, mime_type, description
		FROM project_files WHERE builddir = ? ORDER BY name`), builddir); err != nil {
		return nil, fmt.Errorf("failed to list files of %s: %w", builddir, err)
	}
	return res, nil
}

// GetProjectFile returns a registered file and its path on disk
func (s *Store) GetProjectFile(ctx context.Context, builddir, name string) (ProjectFile, string, error) {
	var res ProjectFile
	err := s.db.GetContext(ctx, &res, s.db.Rebind(`SELECT builddir, name, mime_type, description
		FROM project_files WHERE builddir = ? AND name = ?`), builddir, name)
	if errors.Is(err, sql.ErrNoRows) {
		return ProjectFile{}, "", fmt.Errorf("file %s of %s: %w", name, builddir, ErrNotFound)
	}
	if err != nil {
		return ProjectFile{}, "", fmt.Errorf("failed to get file %s of %s: %w", name, builddir, err)
	}
	return res, filepath.Join(builddir, res.Name), nil
}

func (s *Store) upsertFile(ctx context.Context, tx *sqlx.Tx, builddir string, a Artifact) error {
	mime := a.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}
	_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO project_files (builddir, name, mime_type, description) VALUES (?, ?, ?, ?)
		ON CONFLICT (builddir, name) DO UPDATE SET mime_type = excluded.mime_type, description = excluded.description`),
		builddir, a.Name, mime, a.Description)
	if err != nil {
		return fmt.Errorf("failed to upsert file %s of %s: %w", a.Name, builddir, err)
	}
	return nil
}

// resultArtifacts lists files in package builder result directories
func resultArtifacts(builddir string) []Artifact {
	var res []Artifact
	for _, dir := range resultDirs {
		entries, err := os.ReadDir(filepath.Join(builddir, dir))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			res = append(res, Artifact{
				Name:        filepath.ToSlash(filepath.Join(dir, e.Name())),
				MimeType:    "application/octet-stream",
				Description: "pbuilder result",
			})
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}
