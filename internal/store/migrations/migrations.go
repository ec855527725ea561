// Package migrations embeds the goose schema for each durable-store
// database. The three databases are versioned independently so that a
// schema change in one never forces a migration of the others.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed authcache/*.sql assessments/*.sql media/*.sql
var files embed.FS

func sub(dir string) fs.FS {
	f, err := fs.Sub(files, dir)
	if err != nil {
		// Embedded directories are fixed at build time.
		panic(err)
	}
	return f
}

// AuthCache returns the schema for authcache.db (cached auth responses).
func AuthCache() fs.FS { return sub("authcache") }

// Assessments returns the schema for assessments.db (downloaded quizzes,
// cached assessment responses and the results table).
func Assessments() fs.FS { return sub("assessments") }

// Media returns the schema for media.db (downloaded videos and cached
// static/media responses).
func Media() fs.FS { return sub("media") }
