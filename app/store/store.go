package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/umputun/rootfsd/app/xmlcfg"
)

// file names inside a project directory
const (
	SourceXML = "source.xml"
	LogFile   = "log.txt"
)

// Validator checks a configuration document and extracts its project name and version
type Validator func(data []byte) (name, version string, err error)

// Params defines store parameters
type Params struct {
	DSN        string    // sqlite://path, bare path or postgres://...
	Validator  Validator // document validator, xmlcfg.Check if nil
	BcryptCost int       // password hashing cost, bcrypt.DefaultCost if zero
}

// Store keeps projects, versions, files and users in a relational database
type Store struct {
	db         *sqlx.DB
	dialect    dialect
	validate   Validator
	bcryptCost int
	now        func() time.Time
	busyRetry  *repeater.Repeater

	dummyOnce sync.Once
	dummy     []byte // compared against for unknown users
}

type dialect struct {
	name       string
	lockClause string // appended to row-locking selects
	schema     []string
}

// New makes a store for the given DSN and creates the schema if missing
func New(ctx context.Context, params Params) (*Store, error) {
	driver, dsn, dl, err := parseDSN(params.DSN)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(4)
	}

	res := &Store{
		db:         db,
		dialect:    dl,
		validate:   params.Validator,
		bcryptCost: params.BcryptCost,
		now:        time.Now,
		busyRetry:  repeater.New(&strategy.Backoff{Repeats: 8, Duration: 20 * time.Millisecond, Factor: 2, Jitter: true}),
	}
	if res.validate == nil {
		res.validate = xmlcfg.Check
	}
	if res.bcryptCost == 0 {
		res.bcryptCost = bcrypt.DefaultCost
	}

	if err := res.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	log.Printf("[DEBUG] store initialized, dialect %s", dl.name)
	return res, nil
}

// Close closes the database
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func (s *Store) initialize(ctx context.Context) error {
	for _, q := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to execute %q: %w", firstLine(q), err)
		}
	}
	return nil
}

// inTx runs fn in a transaction, commits on success and rolls back on error or panic.
// Begin is retried on SQLITE_BUSY, the body never is.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	var tx *sqlx.Tx
	var beginErr error
	err = s.busyRetry.Do(ctx, func() error {
		tx, beginErr = s.db.BeginTxx(ctx, nil)
		if beginErr != nil && isBusy(beginErr) {
			return beginErr
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if beginErr != nil {
		return fmt.Errorf("failed to begin transaction: %w", beginErr)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("[WARN] failed to rollback transaction: %v", rbErr)
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func parseDSN(dsn string) (driver, conn string, dl dialect, err error) {
	switch {
	case dsn == "":
		return "", "", dialect{}, errors.New("empty database connection string")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", dsn, dialect{name: "postgres", lockClause: " FOR UPDATE", schema: postgresSchema}, nil
	default:
		path := strings.TrimPrefix(dsn, "sqlite://")
		path = strings.TrimPrefix(path, "file:")
		if idx := strings.Index(path, "?"); idx >= 0 {
			path = path[:idx]
		}
		if path == "" {
			return "", "", dialect{}, fmt.Errorf("invalid sqlite connection string %q", dsn)
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return "", "", dialect{}, fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
		conn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)" +
			"&_pragma=foreign_keys(1)&_txlock=immediate"
		return "sqlite", conn, dialect{name: "sqlite", schema: sqliteSchema}, nil
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// writeFileAtomic writes data to a temp file in the same directory and renames it over path
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file for %s: %w", ErrIO, path, err)
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(data); err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmpName, 0o640)
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: failed to write %s: %w", ErrIO, path, err)
	}
	return nil
}

func isFile(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}
