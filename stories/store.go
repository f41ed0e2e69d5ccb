package stories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported storage types.
const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
)

// Custom errors for store operations
var (
	ErrScanNotFound       = errors.New("scan not found")
	ErrUnsupportedStorage = errors.New("storage type must be sqlite or postgres")
)

// Story is one observation of a story in a block at scan time.
type Story struct {
	ScannedAt   time.Time `json:"scanned_at"`
	ScanID      uuid.UUID `json:"scan_id"`
	Site        string    `json:"site"`
	Block       string    `json:"block"`
	Position    int       `json:"position"`
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	ImageURL    *string   `json:"image_url,omitempty"`
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
}

// Tag is a topic label, unique by URL.
type Tag struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// StoryTag links a story URL to a tag URL for one scan.
type StoryTag struct {
	ScannedAt time.Time `json:"scanned_at"`
	Story     string    `json:"story"`
	Tag       string    `json:"tag"`
}

// Scan summarises one site scan.
type Scan struct {
	ID            uuid.UUID `json:"scan_id"`
	Site          string    `json:"site"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Stories       int       `json:"stories"`
	Tags          int       `json:"tags"`
	BlocksSkipped int       `json:"blocks_skipped"`
	BlocksFailed  int       `json:"blocks_failed"`
}

// Store persists the story log. Rows are append-only.
type Store struct {
	db *sqlx.DB
}

// Open connects to storage of the given type and initialises the schema.
func Open(storageType, dsn string) (*Store, error) {
	driver, err := driverName(storageType)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func driverName(storageType string) (string, error) {
	switch storageType {
	case "", TypeSQLite:
		return "sqlite3", nil
	case TypePostgres:
		return "postgres", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedStorage, storageType)
	}
}

// initSchema creates the tables if they don't exist. Timestamps are stored
// as Unix nanoseconds so window comparisons are numeric on every driver.
func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS stories (
			scanned_at BIGINT NOT NULL,
			scan_id TEXT NOT NULL,
			site TEXT NOT NULL,
			block TEXT NOT NULL,
			position INTEGER NOT NULL,
			story_key TEXT NOT NULL,
			url TEXT NOT NULL,
			image_url TEXT,
			title TEXT,
			description TEXT,
			PRIMARY KEY (scanned_at, site, block, story_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stories_window ON stories (site, block, scanned_at)`,
		`CREATE TABLE IF NOT EXISTS tags (
			url TEXT PRIMARY KEY,
			title TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS story_tags (
			scanned_at BIGINT NOT NULL,
			story TEXT NOT NULL,
			tag TEXT NOT NULL,
			PRIMARY KEY (scanned_at, story, tag)
		)`,
		`CREATE TABLE IF NOT EXISTS scans (
			scan_id TEXT PRIMARY KEY,
			site TEXT NOT NULL,
			started_at BIGINT NOT NULL,
			finished_at BIGINT NOT NULL,
			stories INTEGER NOT NULL DEFAULT 0,
			tags INTEGER NOT NULL DEFAULT 0,
			blocks_skipped INTEGER NOT NULL DEFAULT 0,
			blocks_failed INTEGER NOT NULL DEFAULT 0
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Exec runs a statement written with ? placeholders.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.db.Rebind(query), args...)
}

// Scalar runs a query returning one value and scans it into dest.
func (s *Store) Scalar(ctx context.Context, dest any, query string, args ...any) error {
	return s.db.QueryRowxContext(ctx, s.db.Rebind(query), args...).Scan(dest)
}

// Query runs a query and returns a forward-only reader over its rows. The
// caller must close the rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sqlx.Rows, error) {
	return s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
}

const insertStory = `
	INSERT INTO stories (
		scanned_at, scan_id, site, block, position, story_key,
		url, image_url, title, description
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const insertTag = `INSERT INTO tags (url, title) VALUES (?, ?) ON CONFLICT DO NOTHING`

const insertStoryTag = `
	INSERT INTO story_tags (scanned_at, story, tag) VALUES (?, ?, ?)
	ON CONFLICT DO NOTHING
`

// SaveBlock writes one block's rows in a single transaction, so a block is
// either fully persisted or not at all.
func (s *Store) SaveBlock(ctx context.Context, stories []Story, tags []Tag, links []StoryTag) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, story := range stories {
		_, err := tx.ExecContext(ctx, tx.Rebind(insertStory),
			story.ScannedAt.UnixNano(),
			story.ScanID.String(),
			story.Site,
			story.Block,
			story.Position,
			story.Key,
			story.URL,
			story.ImageURL,
			story.Title,
			story.Description,
		)
		if err != nil {
			return fmt.Errorf("failed to insert story %s: %w", story.Key, err)
		}
	}

	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, tx.Rebind(insertTag), tag.URL, tag.Title); err != nil {
			return fmt.Errorf("failed to insert tag %s: %w", tag.URL, err)
		}
	}

	for _, link := range links {
		if _, err := tx.ExecContext(ctx, tx.Rebind(insertStoryTag), link.ScannedAt.UnixNano(), link.Story, link.Tag); err != nil {
			return fmt.Errorf("failed to link story tag: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit block: %w", err)
	}
	return nil
}

// InsertTag records a tag; an existing URL is left untouched.
func (s *Store) InsertTag(ctx context.Context, tag Tag) error {
	if _, err := s.Exec(ctx, insertTag, tag.URL, tag.Title); err != nil {
		return fmt.Errorf("failed to insert tag: %w", err)
	}
	return nil
}

// LinkStoryTag records a story/tag link; duplicates are ignored.
func (s *Store) LinkStoryTag(ctx context.Context, link StoryTag) error {
	if _, err := s.Exec(ctx, insertStoryTag, link.ScannedAt.UnixNano(), link.Story, link.Tag); err != nil {
		return fmt.Errorf("failed to link story tag: %w", err)
	}
	return nil
}

type storyRow struct {
	ScannedAt   int64          `db:"scanned_at"`
	ScanID      string         `db:"scan_id"`
	Site        string         `db:"site"`
	Block       string         `db:"block"`
	Position    int            `db:"position"`
	Key         string         `db:"story_key"`
	URL         string         `db:"url"`
	ImageURL    sql.NullString `db:"image_url"`
	Title       sql.NullString `db:"title"`
	Description sql.NullString `db:"description"`
}

func (r storyRow) story() (Story, error) {
	scanID, err := uuid.Parse(r.ScanID)
	if err != nil {
		return Story{}, fmt.Errorf("failed to parse scan ID: %w", err)
	}

	return Story{
		ScannedAt:   time.Unix(0, r.ScannedAt).UTC(),
		ScanID:      scanID,
		Site:        r.Site,
		Block:       r.Block,
		Position:    r.Position,
		Key:         r.Key,
		URL:         r.URL,
		ImageURL:    nullable(r.ImageURL),
		Title:       nullable(r.Title),
		Description: nullable(r.Description),
	}, nil
}

// StoriesInWindow streams the rows of one block with start < scanned_at <
// end to fn, ordered by scan time then position. Iteration stops at the
// first error fn returns.
func (s *Store) StoriesInWindow(ctx context.Context, site, block string, start, end time.Time, fn func(Story) error) error {
	rows, err := s.Query(ctx, `
		SELECT scanned_at, scan_id, site, block, position, story_key,
		       url, image_url, title, description
		FROM stories
		WHERE site = ? AND block = ? AND scanned_at > ? AND scanned_at < ?
		ORDER BY scanned_at, position
	`, site, block, start.UnixNano(), end.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to query stories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row storyRow
		if err := rows.StructScan(&row); err != nil {
			return fmt.Errorf("failed to scan story: %w", err)
		}
		story, err := row.story()
		if err != nil {
			return err
		}
		if err := fn(story); err != nil {
			return err
		}
	}

	return rows.Err()
}

// TagTitlesForStory returns the distinct titles of tags ever linked to the
// story URL, sorted.
func (s *Store) TagTitlesForStory(ctx context.Context, storyURL string) ([]string, error) {
	var titles []string
	err := s.db.SelectContext(ctx, &titles, s.db.Rebind(`
		SELECT DISTINCT t.title
		FROM story_tags st
		JOIN tags t ON t.url = st.tag
		WHERE st.story = ?
		ORDER BY t.title
	`), storyURL)
	if err != nil {
		return nil, fmt.Errorf("failed to query tag titles: %w", err)
	}
	return titles, nil
}

// CountStories returns the number of story rows for site, or for all sites
// when site is empty.
func (s *Store) CountStories(ctx context.Context, site string) (int, error) {
	var count int
	var err error
	if site == "" {
		err = s.Scalar(ctx, &count, `SELECT COUNT(*) FROM stories`)
	} else {
		err = s.Scalar(ctx, &count, `SELECT COUNT(*) FROM stories WHERE site = ?`, site)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count stories: %w", err)
	}
	return count, nil
}

// RecordScan stores the summary of a finished site scan.
func (s *Store) RecordScan(ctx context.Context, scan Scan) error {
	_, err := s.Exec(ctx, `
		INSERT INTO scans (
			scan_id, site, started_at, finished_at,
			stories, tags, blocks_skipped, blocks_failed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		scan.ID.String(),
		scan.Site,
		scan.StartedAt.UnixNano(),
		scan.FinishedAt.UnixNano(),
		scan.Stories,
		scan.Tags,
		scan.BlocksSkipped,
		scan.BlocksFailed,
	)
	if err != nil {
		return fmt.Errorf("failed to record scan: %w", err)
	}
	return nil
}

type scanRow struct {
	ID            string `db:"scan_id"`
	Site          string `db:"site"`
	StartedAt     int64  `db:"started_at"`
	FinishedAt    int64  `db:"finished_at"`
	Stories       int    `db:"stories"`
	Tags          int    `db:"tags"`
	BlocksSkipped int    `db:"blocks_skipped"`
	BlocksFailed  int    `db:"blocks_failed"`
}

// LastScan returns the most recent scan of site.
func (s *Store) LastScan(ctx context.Context, site string) (*Scan, error) {
	var row scanRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT scan_id, site, started_at, finished_at,
		       stories, tags, blocks_skipped, blocks_failed
		FROM scans
		WHERE site = ?
		ORDER BY started_at DESC
		LIMIT 1
	`), site)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query scan: %w", err)
	}

	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse scan ID: %w", err)
	}

	return &Scan{
		ID:            id,
		Site:          row.Site,
		StartedAt:     time.Unix(0, row.StartedAt).UTC(),
		FinishedAt:    time.Unix(0, row.FinishedAt).UTC(),
		Stories:       row.Stories,
		Tags:          row.Tags,
		BlocksSkipped: row.BlocksSkipped,
		BlocksFailed:  row.BlocksFailed,
	}, nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}
