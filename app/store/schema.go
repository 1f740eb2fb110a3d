package store

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		fullname TEXT NOT NULL DEFAULT '',
		pwhash TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		admin BOOLEAN NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		builddir TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		version TEXT NOT NULL DEFAULT '',
		xml TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		edit INTEGER NOT NULL DEFAULT 0,
		owner_id INTEGER REFERENCES users(id) ON DELETE SET NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_owner_id ON projects(owner_id)`,
	`CREATE TABLE IF NOT EXISTS project_versions (
		builddir TEXT NOT NULL REFERENCES projects(builddir),
		version TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (builddir, version)
	)`,
	`CREATE TABLE IF NOT EXISTS project_files (
		builddir TEXT NOT NULL REFERENCES projects(builddir),
		name TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (builddir, name)
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		fullname TEXT NOT NULL DEFAULT '',
		pwhash TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		admin BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		builddir TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		version TEXT NOT NULL DEFAULT '',
		xml TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		edit BIGINT NOT NULL DEFAULT 0,
		owner_id BIGINT REFERENCES users(id) ON DELETE SET NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_owner_id ON projects(owner_id)`,
	`CREATE TABLE IF NOT EXISTS project_versions (
		builddir TEXT NOT NULL REFERENCES projects(builddir),
		version TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (builddir, version)
	)`,
	`CREATE TABLE IF NOT EXISTS project_files (
		builddir TEXT NOT NULL REFERENCES projects(builddir),
		name TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (builddir, name)
	)`,
}
