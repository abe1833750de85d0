package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	_ "modernc.org/sqlite"

	"chromascope/logging"
	"chromascope/track"
)

// Fetcher downloads a remote media URL into a local file.
type Fetcher interface {
	Download(ctx context.Context, url, dest string) error
}

// MediaEntry describes one indexed media file.
type MediaEntry struct {
	Key      track.Key
	Filename string
	Size     int64
	AddedAt  time.Time
}

// MediaStore holds resolved audio files in a local directory with an
// embedded index addressed by track key. Files already present in the
// directory under a name the indexer cannot attribute are ignored;
// recognizable ones are indexed on startup and as they appear, so
// hand-dropped files become usable without resolving anything. An
// optional mirror replicates files to an object store.
type MediaStore struct {
	dir     string
	db      *sql.DB
	fetcher Fetcher
	mirror  *Mirror
	logger  logging.Logger
}

var audioExts = map[string]bool{
	".mp3":  true,
	".flac": true,
	".wav":  true,
	".m4a":  true,
	".ogg":  true,
}

// NewMediaStore opens (creating if needed) the media directory and its
// index, then indexes any recognizable files already present. The
// fetcher may be nil when only cached lookups are needed; the mirror may
// be nil when no object store is configured.
func NewMediaStore(dir string, fetcher Fetcher, mirror *Mirror, logger logging.Logger) (*MediaStore, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open media index: %w", err)
	}
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS media_index (
		key TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		size INTEGER NOT NULL,
		added_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create media index table: %w", err)
	}

	s := &MediaStore{
		dir:     dir,
		db:      db,
		fetcher: fetcher,
		mirror:  mirror,
		logger:  logger.WithFields(logging.Fields{"component": "media_store"}),
	}
	s.ingestScan(context.Background())
	return s, nil
}

// Check returns the local path of the media file for key, or ErrMiss.
// Resolution order: exact index hit, fuzzy pass over indexed keys, then
// the mirror. Index read failures are logged and treated as a miss.
func (s *MediaStore) Check(ctx context.Context, key track.Key) (string, error) {
	if path, ok := s.lookupExact(ctx, key.String()); ok {
		return path, nil
	}
	if path, ok := s.lookupFuzzy(ctx, key); ok {
		return path, nil
	}
	if path, ok := s.lookupMirror(ctx, key); ok {
		return path, nil
	}
	return "", ErrMiss
}

// FetchOrCreate returns the local path for key, downloading from
// externalURL when no cached copy exists. A successful download is
// indexed and, when a mirror is configured, replicated best effort.
func (s *MediaStore) FetchOrCreate(ctx context.Context, key track.Key, externalURL string) (string, error) {
	if path, err := s.Check(ctx, key); err == nil {
		return path, nil
	}
	if s.fetcher == nil {
		return "", errors.New("media store has no fetcher configured")
	}

	filename := key.Filename(extFromURL(externalURL))
	dest := filepath.Join(s.dir, filename)
	if err := s.fetcher.Download(ctx, externalURL, dest); err != nil {
		return "", fmt.Errorf("media download: %w", err)
	}
	if err := s.indexFile(ctx, key, filename); err != nil {
		s.logger.Warn("media index write failed", logging.Fields{
			"key":   key.String(),
			"error": err.Error(),
		})
	}
	if s.mirror != nil {
		if err := s.mirror.Upload(ctx, filename, dest); err != nil {
			s.logger.Warn("mirror upload failed", logging.Fields{
				"object": filename,
				"error":  err.Error(),
			})
		}
	}
	s.logger.Info("media fetched", logging.Fields{
		"key":  key.String(),
		"file": filename,
	})
	return dest, nil
}

// Entries returns all indexed media files, newest first.
func (s *MediaStore) Entries(ctx context.Context) ([]MediaEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, filename, size, added_at FROM media_index ORDER BY added_at DESC")
	if err != nil {
		return nil, fmt.Errorf("media index listing failed: %w", err)
	}
	defer rows.Close()

	var entries []MediaEntry
	for rows.Next() {
		var keyStr string
		var e MediaEntry
		var addedAt int64
		if err := rows.Scan(&keyStr, &e.Filename, &e.Size, &addedAt); err != nil {
			continue
		}
		e.Key = track.ParseKey(keyStr)
		e.AddedAt = time.Unix(addedAt, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns the number of indexed files and their total size.
func (s *MediaStore) Stats(ctx context.Context) (int, int64, error) {
	var count int
	var bytes int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(size), 0) FROM media_index").Scan(&count, &bytes)
	if err != nil {
		return 0, 0, fmt.Errorf("media index stats failed: %w", err)
	}
	return count, bytes, nil
}

// Evict removes the entry for key and deletes its file. Returns ErrMiss
// when nothing is indexed under key.
func (s *MediaStore) Evict(ctx context.Context, key track.Key) error {
	var filename string
	err := s.db.QueryRowContext(ctx,
		"SELECT filename FROM media_index WHERE key = ?", key.String()).Scan(&filename)
	if err == sql.ErrNoRows {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("media index read failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM media_index WHERE key = ?", key.String()); err != nil {
		return fmt.Errorf("media index delete failed: %w", err)
	}
	if err := os.Remove(filepath.Join(s.dir, filename)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("media file delete failed: %w", err)
	}
	return nil
}

// Watch begins watching the media directory and indexes audio files as
// they appear, so hand-dropped files become available without a restart.
// The watcher stops when ctx is cancelled.
func (s *MediaStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create media watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch media directory: %w", err)
	}
	go s.watchLoop(ctx, watcher)
	return nil
}

// Close closes the index database.
func (s *MediaStore) Close() error {
	return s.db.Close()
}

// watchLoop holds newly seen files in a pending set until they have been
// quiet for a settle interval, then indexes them. Files still being
// written keep refreshing their pending timestamp.
func (s *MediaStore) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	pending := make(map[string]time.Time)
	settle := time.NewTicker(250 * time.Millisecond)
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 && isAudioFile(event.Name) {
				pending[event.Name] = time.Now()
			}

		case <-settle.C:
			now := time.Now()
			for filePath, last := range pending {
				if now.Sub(last) < 500*time.Millisecond {
					continue
				}
				delete(pending, filePath)
				added, err := s.ingestFile(ctx, filepath.Base(filePath))
				if err != nil {
					s.logger.Warn("failed to index dropped file", logging.Fields{
						"file":  filepath.Base(filePath),
						"error": err.Error(),
					})
					continue
				}
				if added {
					s.logger.Info("indexed dropped media file", logging.Fields{
						"file": filepath.Base(filePath),
					})
				}
			}
		}
	}
}

func (s *MediaStore) lookupExact(ctx context.Context, keyStr string) (string, bool) {
	var filename string
	err := s.db.QueryRowContext(ctx,
		"SELECT filename FROM media_index WHERE key = ?", keyStr).Scan(&filename)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		s.logger.Warn("media index read failed, treating as miss", logging.Fields{
			"key":   keyStr,
			"error": err.Error(),
		})
		return "", false
	}

	localPath := filepath.Join(s.dir, filename)
	if _, err := os.Stat(localPath); err != nil {
		// The file is gone; drop the stale row.
		s.db.ExecContext(ctx, "DELETE FROM media_index WHERE key = ?", keyStr)
		return "", false
	}
	return localPath, true
}

func (s *MediaStore) lookupFuzzy(ctx context.Context, key track.Key) (string, bool) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM media_index ORDER BY key")
	if err != nil {
		s.logger.Warn("media index listing failed, treating as miss", logging.Fields{
			"error": err.Error(),
		})
		return "", false
	}
	defer rows.Close()

	var stored []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			continue
		}
		stored = append(stored, k)
	}

	cands := make([]track.Key, len(stored))
	for i, k := range stored {
		cands[i] = track.ParseKey(k)
	}
	match, ok := track.FuzzyMatch(key, cands)
	if !ok {
		return "", false
	}
	for i := range cands {
		if cands[i] == match {
			s.logger.Debug("fuzzy media match", logging.Fields{
				"requested": key.String(),
				"matched":   stored[i],
			})
			return s.lookupExact(ctx, stored[i])
		}
	}
	return "", false
}

func (s *MediaStore) lookupMirror(ctx context.Context, key track.Key) (string, bool) {
	if s.mirror == nil {
		return "", false
	}
	name, ok := s.mirror.Find(ctx, key.Filename("."))
	if !ok {
		return "", false
	}

	localPath := filepath.Join(s.dir, name)
	if err := s.mirror.Fetch(ctx, name, localPath); err != nil {
		s.logger.Warn("mirror fetch failed, treating as miss", logging.Fields{
			"object": name,
			"error":  err.Error(),
		})
		return "", false
	}
	if err := s.indexFile(ctx, key, name); err != nil {
		s.logger.Warn("media index write failed", logging.Fields{
			"key":   key.String(),
			"error": err.Error(),
		})
	}
	s.logger.Info("restored media from mirror", logging.Fields{
		"key":  key.String(),
		"file": name,
	})
	return localPath, true
}

// indexFile records filename under key, replacing any previous entry.
func (s *MediaStore) indexFile(ctx context.Context, key track.Key, filename string) error {
	info, err := os.Stat(filepath.Join(s.dir, filename))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO media_index (key, filename, size, added_at) VALUES (?, ?, ?, ?)",
		key.String(), filename, info.Size(), time.Now().Unix())
	return err
}

// ingestFile indexes a file already present in the directory without
// displacing an existing entry for the same key. Reports whether a new
// row was added.
func (s *MediaStore) ingestFile(ctx context.Context, filename string) (bool, error) {
	key := track.ParseFilename(filename)
	if key.IsZero() {
		return false, nil
	}
	info, err := os.Stat(filepath.Join(s.dir, filename))
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO media_index (key, filename, size, added_at) VALUES (?, ?, ?, ?)",
		key.String(), filename, info.Size(), info.ModTime().Unix())
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ingestScan indexes recognizable audio files already in the directory.
func (s *MediaStore) ingestScan(ctx context.Context) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("media directory scan failed", logging.Fields{"error": err.Error()})
		return
	}
	ingested := 0
	for _, e := range entries {
		if e.IsDir() || !isAudioFile(e.Name()) {
			continue
		}
		added, err := s.ingestFile(ctx, e.Name())
		if err != nil {
			s.logger.Warn("failed to index media file", logging.Fields{
				"file":  e.Name(),
				"error": err.Error(),
			})
			continue
		}
		if added {
			ingested++
		}
	}
	if ingested > 0 {
		s.logger.Info("indexed pre-existing media files", logging.Fields{"count": ingested})
	}
}

func isAudioFile(name string) bool {
	return audioExts[strings.ToLower(filepath.Ext(name))]
}

// extFromURL picks the media extension for a download from the URL path,
// defaulting to .mp3 when the path gives no usable hint.
func extFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".mp3"
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if audioExts[ext] {
		return ext
	}
	return ".mp3"
}
