// Package repo implements tasktree.Repository on PostgreSQL (pgx) and
// SQLite (sqlx over modernc.org/sqlite).
package repo

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"kyri56xcaesar/coachboard/internal/tasktree"
)

//go:embed db/*.sql
var schemas embed.FS

// newID names copied resources; the engine names everything else.
var newID = uuid.NewString

// Schema returns the init script of a dialect ("postgres" or "sqlite").
// A non-empty path overrides the embedded script.
func Schema(dialect, path string) (string, error) {
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read init sql %s: %w", path, err)
		}
		return string(b), nil
	}
	b, err := schemas.ReadFile("db/" + dialect + ".sql")
	if err != nil {
		return "", fmt.Errorf("no schema for dialect %q", dialect)
	}
	return string(b), nil
}

// statements splits an init script on statement terminators, dropping
// comment-only chunks.
func statements(script string) []string {
	var out []string
	for _, chunk := range strings.Split(script, ";") {
		var lines []string
		for _, l := range strings.Split(chunk, "\n") {
			if t := strings.TrimSpace(l); t != "" && !strings.HasPrefix(t, "--") {
				lines = append(lines, l)
			}
		}
		if len(lines) > 0 {
			out = append(out, strings.Join(lines, "\n"))
		}
	}
	return out
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, tasktree.ErrNotFound)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func orEmptyTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
