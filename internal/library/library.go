package library

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"media-status/internal/status"
)

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS media_files (
  path             TEXT PRIMARY KEY,
  title            TEXT NOT NULL,
  artist           TEXT NOT NULL DEFAULT '',
  album            TEXT NOT NULL DEFAULT '',
  duration_seconds INTEGER NOT NULL DEFAULT 0,
  size             INTEGER NOT NULL DEFAULT 0,
  format           TEXT NOT NULL DEFAULT '',
  added_at         INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_media_files_artist_album
ON media_files (artist, album, title);
`,
}

// mediaExtensions are the file suffixes picked up by Scan.
var mediaExtensions = map[string]bool{
	"mp3": true, "flac": true, "ogg": true, "oga": true, "m4a": true, "aac": true,
	"wav": true, "wma": true, "mp4": true, "m4v": true, "mkv": true, "avi": true,
	"webm": true, "mov": true,
}

// Store is the media catalogue kept in SQLite. It implements
// status.MediaFileService.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the catalogue at dbPath and runs schema migrations.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create library directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	s := &Store{db: db}
	if err := s.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Add inserts or replaces the record for mf.Path.
func (s *Store) Add(mf status.MediaFile) error {
	if mf.Path == "" {
		return errors.New("path is required")
	}
	if mf.Title == "" {
		mf.Title = titleFromPath(mf.Path)
	}

	_, err := s.db.Exec(
		`INSERT INTO media_files (
			path, title, artist, album, duration_seconds, size, format, added_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			album = excluded.album,
			duration_seconds = excluded.duration_seconds,
			size = excluded.size,
			format = excluded.format`,
		mf.Path,
		mf.Title,
		mf.Artist,
		mf.Album,
		mf.DurationSeconds,
		mf.Size,
		mf.Format,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert media file %q: %w", mf.Path, err)
	}
	return nil
}

// GetMediaFile implements status.MediaFileService. Unknown paths yield
// status.ErrMediaFileNotFound.
func (s *Store) GetMediaFile(path string) (*status.MediaFile, error) {
	var mf status.MediaFile
	err := s.db.QueryRow(
		`SELECT path, title, artist, album, duration_seconds, size, format
		FROM media_files
		WHERE path = ?`,
		path,
	).Scan(&mf.Path, &mf.Title, &mf.Artist, &mf.Album, &mf.DurationSeconds, &mf.Size, &mf.Format)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrMediaFileNotFound
		}
		return nil, fmt.Errorf("query media file %q: %w", path, err)
	}
	return &mf, nil
}

// Count returns the number of catalogued files.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM media_files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count media files: %w", err)
	}
	return n, nil
}

// Scan walks root and catalogues every file with a known media extension.
// Existing records keep their tags; size and format are refreshed.
// It returns the number of files catalogued.
func (s *Store) Scan(root string) (int, error) {
	n := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		if !mediaExtensions[ext] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		mf := status.MediaFile{Path: path, Title: titleFromPath(path), Size: info.Size(), Format: ext}
		if existing, err := s.GetMediaFile(path); err == nil {
			mf.Title, mf.Artist, mf.Album, mf.DurationSeconds = existing.Title, existing.Artist, existing.Album, existing.DurationSeconds
		}
		if err := s.Add(mf); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("scan %q: %w", root, err)
	}
	return n, nil
}

func (s *Store) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}
	return nil
}

func titleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
