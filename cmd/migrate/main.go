package main

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	database "github.com/voiceframe/voiceframe-backend/internal"
)

// Applies the pending SQL migrations from db/migrations in lexical order.
// Files use goose-style "-- +goose Up" / "-- +goose Down" markers; only the
// Up section runs. Each migration executes in its own transaction and is
// recorded in schema_migrations.
func main() {
	database.Connect()

	if _, err := database.DB.Exec(`
        CREATE TABLE IF NOT EXISTS schema_migrations (
            version TEXT PRIMARY KEY,
            applied_at timestamptz NOT NULL DEFAULT now()
        )
    `); err != nil {
		log.Fatalf("Unable to ensure schema_migrations table: %v", err)
	}

	files := collectSQLFiles(filepath.Join("db", "migrations"))
	if len(files) == 0 {
		log.Println("No migration files found, skipping.")
		return
	}

	applied := appliedVersions()

	for _, f := range files {
		name := filepath.Base(f)
		if applied[name] {
			continue
		}
		if err := applyMigration(f, name); err != nil {
			log.Fatalf("Migration %s failed: %v", name, err)
		}
	}
	log.Println("Migrations applied successfully.")
}

func appliedVersions() map[string]bool {
	var versions []string
	if err := database.DB.Select(&versions, "SELECT version FROM schema_migrations"); err != nil {
		log.Fatalf("Unable to query schema_migrations: %v", err)
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied
}

func applyMigration(path, name string) error {
	upSQL, err := upSection(path)
	if err != nil {
		return err
	}
	if strings.TrimSpace(upSQL) == "" {
		log.Printf("Skipping empty Up migration: %s", name)
	} else {
		log.Printf("Applying migration: %s", name)
	}

	tx, err := database.DB.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Naive split on ';', good enough for plain DDL.
	for _, raw := range strings.Split(upSQL, ";") {
		stmt := strings.TrimSpace(raw)
		if stmt == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("statement failed: %v", err)
		}
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations(version) VALUES ($1) ON CONFLICT (version) DO NOTHING", name); err != nil {
		return err
	}
	return tx.Commit()
}

func collectSQLFiles(dir string) []string {
	var files []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(strings.ToLower(d.Name()), ".sql") {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files
}

// upSection returns the SQL between "-- +goose Up" and "-- +goose Down".
// A file without markers is treated as all Up.
func upSection(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	content := string(b)
	lower := strings.ToLower(content)
	upIdx := strings.Index(lower, "-- +goose up")
	if upIdx == -1 {
		return content, nil
	}
	rest := content[upIdx:]
	if nl := strings.Index(rest, "\n"); nl != -1 {
		rest = rest[nl+1:]
	} else {
		rest = ""
	}
	if downIdx := strings.Index(strings.ToLower(rest), "-- +goose down"); downIdx != -1 {
		rest = rest[:downIdx]
	}
	return rest, nil
}
