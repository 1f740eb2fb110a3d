package store

import (
	"database/sql"
	"time"

	"github.com/umputun/rootfsd/app/enums"
)

// User is a registered caller of the system
type User struct {
	ID       int64  `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	FullName string `db:"fullname" json:"fullname"`
	PwHash   string `db:"pwhash" json:"-"`
	Email    string `db:"email" json:"email"`
	Admin    bool   `db:"admin" json:"admin"`
}

// UserRequest holds fields for adding or modifying a user. Empty password keeps the current one on modify.
type UserRequest struct {
	Name     string `json:"name"`
	FullName string `json:"fullname"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Admin    bool   `json:"admin"`
}

// Project is a persistent build configuration bound to a build directory
type Project struct {
	BuildDir string       `json:"builddir"`
	Name     string       `json:"name"`
	Version  string       `json:"version"`
	XML      string       `json:"-"`
	Status   enums.Status `json:"status"`
	EditedAt time.Time    `json:"edit"`
	OwnerID  *int64       `json:"owner_id,omitempty"`
}

// ProjectVersion is a recorded snapshot of a project's configuration
type ProjectVersion struct {
	BuildDir    string `db:"builddir" json:"builddir"`
	Version     string `db:"version" json:"version"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
}

// ProjectFile is a downloadable artifact of a project
type ProjectFile struct {
	BuildDir    string `db:"builddir" json:"builddir"`
	Name        string `db:"name" json:"name"`
	MimeType    string `db:"mime_type" json:"mime_type"`
	Description string `db:"description" json:"description"`
}

// Artifact describes a file the engine produced in a project directory
type Artifact struct {
	Name        string `json:"name"` // relative to the project directory
	MimeType    string `json:"mime_type"`
	Description string `json:"description"`
}

type projectRow struct {
	BuildDir string        `db:"builddir"`
	Name     string        `db:"name"`
	Version  string        `db:"version"`
	XML      string        `db:"xml"`
	Status   enums.Status  `db:"status"`
	Edit     int64         `db:"edit"`
	OwnerID  sql.NullInt64 `db:"owner_id"`
}

const projectColumns = "builddir, name, version, xml, status, edit, owner_id"

func (r projectRow) project() Project {
	res := Project{
		BuildDir: r.BuildDir,
		Name:     r.Name,
		Version:  r.Version,
		XML:      r.XML,
		Status:   r.Status,
		EditedAt: time.Unix(r.Edit, 0),
	}
	if r.OwnerID.Valid {
		id := r.OwnerID.Int64
		res.OwnerID = &id
	}
	return res
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
