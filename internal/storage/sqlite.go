package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kalambet/whatnext/internal/prefs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for users, catalog entities,
// preferences, and interactions.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "whatnext.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Users ---

// CreateUser registers a new user. Names are unique; a duplicate name is an error.
func (s *Store) CreateUser(name string) (User, error) {
	u := User{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		CreatedAt: time.Now().UTC(),
	}
	if u.Name == "" {
		return User{}, fmt.Errorf("user name must not be empty")
	}
	_, err := s.db.Exec(`INSERT INTO users (id, name, created_at) VALUES (?, ?, ?)`,
		u.ID, u.Name, u.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return User{}, fmt.Errorf("creating user %q: %w", u.Name, err)
	}
	return u, nil
}

func (s *Store) GetUserByName(name string) (User, error) {
	var u User
	var createdAt string
	err := s.db.QueryRow(`SELECT id, name, created_at FROM users WHERE name = ?`, name).
		Scan(&u.ID, &u.Name, &createdAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return User{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return u, nil
}

func (s *Store) ListUsers() ([]User, error) {
	rows, err := s.db.Query(`SELECT id, name, created_at FROM users ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Name, &createdAt); err != nil {
			return nil, err
		}
		if u.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- Catalog entities ---

const entityColumns = `local_id, domain, external_id, name, categories, tags,
	language, year, runtime, rating, popularity, address, updated_at`

// UpsertEntity inserts the entity or, when (domain, external_id) already
// exists, refreshes its attributes in place. The provider is source of truth
// for attribute drift; the local ID is stable across updates.
func (s *Store) UpsertEntity(e Entity) (Entity, error) {
	if e.Domain == "" || e.ExternalID == "" {
		return Entity{}, fmt.Errorf("entity requires domain and external id")
	}
	e.UpdatedAt = time.Now().UTC()

	_, err := s.db.Exec(`
		INSERT INTO entities (domain, external_id, name, categories, tags, language, year, runtime, rating, popularity, address, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain, external_id) DO UPDATE SET
			name = excluded.name,
			categories = excluded.categories,
			tags = excluded.tags,
			language = excluded.language,
			year = excluded.year,
			runtime = excluded.runtime,
			rating = excluded.rating,
			popularity = excluded.popularity,
			address = excluded.address,
			updated_at = excluded.updated_at`,
		e.Domain, e.ExternalID, e.Name, marshalList(e.Categories), marshalList(e.Tags),
		e.Language, e.Year, e.Runtime, e.Rating, e.Popularity, e.Address,
		e.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return Entity{}, fmt.Errorf("upserting entity %s/%s: %w", e.Domain, e.ExternalID, err)
	}

	return s.GetEntityByExternalID(e.Domain, e.ExternalID)
}

func (s *Store) GetEntity(localID int64) (Entity, error) {
	row := s.db.QueryRow(`SELECT `+entityColumns+` FROM entities WHERE local_id = ?`, localID)
	return scanEntity(row)
}

func (s *Store) GetEntityByExternalID(domain, externalID string) (Entity, error) {
	row := s.db.QueryRow(`SELECT `+entityColumns+` FROM entities WHERE domain = ? AND external_id = ?`,
		domain, externalID)
	return scanEntity(row)
}

// ListEntities returns the full local catalog for a domain, most popular first.
func (s *Store) ListEntities(domain string) ([]Entity, error) {
	rows, err := s.db.Query(`SELECT `+entityColumns+` FROM entities
		WHERE domain = ? ORDER BY popularity DESC, local_id ASC`, domain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// CountEntities returns the catalog size for a domain.
func (s *Store) CountEntities(domain string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM entities WHERE domain = ?`, domain).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (Entity, error) {
	var e Entity
	var categories, tags, updatedAt string
	err := row.Scan(&e.LocalID, &e.Domain, &e.ExternalID, &e.Name, &categories, &tags,
		&e.Language, &e.Year, &e.Runtime, &e.Rating, &e.Popularity, &e.Address, &updatedAt)
	if err == sql.ErrNoRows {
		return Entity{}, ErrNotFound
	}
	if err != nil {
		return Entity{}, err
	}
	e.Categories = unmarshalList(categories)
	e.Tags = unmarshalList(tags)
	if e.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Entity{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return e, nil
}

// --- Preferences ---

// GetPreferences loads the preference record for (userID, domain).
// The boolean is false when the user has never saved preferences for the domain.
func (s *Store) GetPreferences(userID, domain string) (prefs.Preferences, bool, error) {
	var categories, requirements, languages, providers sql.NullString
	var minRating sql.NullFloat64
	var yearMin, yearMax, runtimeMin, runtimeMax sql.NullInt64

	err := s.db.QueryRow(`
		SELECT categories, requirements, languages, providers, min_rating,
			year_min, year_max, runtime_min, runtime_max
		FROM preferences WHERE user_id = ? AND domain = ?`, userID, domain,
	).Scan(&categories, &requirements, &languages, &providers, &minRating,
		&yearMin, &yearMax, &runtimeMin, &runtimeMax)
	if err == sql.ErrNoRows {
		return prefs.Preferences{}, false, nil
	}
	if err != nil {
		return prefs.Preferences{}, false, err
	}

	p := prefs.Preferences{
		Categories:   constraintFromColumn(categories),
		Requirements: constraintFromColumn(requirements),
		Languages:    constraintFromColumn(languages),
		Providers:    constraintFromColumn(providers),
		Years:        prefs.Between(int(yearMin.Int64), int(yearMax.Int64)),
		Runtime:      prefs.Between(int(runtimeMin.Int64), int(runtimeMax.Int64)),
	}
	if minRating.Valid {
		p.MinRating = minRating.Float64
	}
	return p, true, nil
}

// SetPreferences replaces the preference record for (userID, domain).
// One row per pair; unconstrained fields are stored as NULL.
func (s *Store) SetPreferences(userID, domain string, p prefs.Preferences) error {
	_, err := s.db.Exec(`
		INSERT INTO preferences (user_id, domain, categories, requirements, languages, providers,
			min_rating, year_min, year_max, runtime_min, runtime_max, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, domain) DO UPDATE SET
			categories = excluded.categories,
			requirements = excluded.requirements,
			languages = excluded.languages,
			providers = excluded.providers,
			min_rating = excluded.min_rating,
			year_min = excluded.year_min,
			year_max = excluded.year_max,
			runtime_min = excluded.runtime_min,
			runtime_max = excluded.runtime_max,
			updated_at = excluded.updated_at`,
		userID, domain,
		constraintToColumn(p.Categories), constraintToColumn(p.Requirements),
		constraintToColumn(p.Languages), constraintToColumn(p.Providers),
		floatToColumn(p.MinRating),
		intToColumn(p.Years.Min()), intToColumn(p.Years.Max()),
		intToColumn(p.Runtime.Min()), intToColumn(p.Runtime.Max()),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func constraintFromColumn(col sql.NullString) prefs.Constraint {
	if !col.Valid || col.String == "" {
		return prefs.Any()
	}
	return prefs.Only(unmarshalList(col.String)...)
}

func constraintToColumn(c prefs.Constraint) any {
	if !c.Constrained() {
		return nil
	}
	return marshalList(c.Values())
}

func floatToColumn(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}

func intToColumn(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

// --- Interactions ---

// RecordInteraction upserts a dismissal (value -1) or rating (1-5) for an
// entity. Last write wins on value and timestamp.
func (s *Store) RecordInteraction(userID, domain string, entityID int64, value int) error {
	_, err := s.db.Exec(`
		INSERT INTO interactions (user_id, domain, entity_id, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, domain, entity_id) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		userID, domain, entityID, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// ListInteractionEntityIDs returns the local IDs of every entity the user has
// interacted with in a domain. These are the "seen" items a recommendation
// pass must exclude, regardless of the interaction's value.
func (s *Store) ListInteractionEntityIDs(userID, domain string) ([]int64, error) {
	rows, err := s.db.Query(`SELECT entity_id FROM interactions
		WHERE user_id = ? AND domain = ?`, userID, domain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListRatings returns the user's ratings in a domain joined with entity
// external IDs, best ratings first (recency breaks ties).
func (s *Store) ListRatings(userID, domain string) ([]Rating, error) {
	rows, err := s.db.Query(`
		SELECT i.entity_id, e.external_id, i.value
		FROM interactions i
		JOIN entities e ON e.local_id = i.entity_id
		WHERE i.user_id = ? AND i.domain = ? AND i.value > 0
		ORDER BY i.value DESC, i.updated_at DESC`, userID, domain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ratings []Rating
	for rows.Next() {
		var r Rating
		if err := rows.Scan(&r.EntityID, &r.ExternalID, &r.Value); err != nil {
			return nil, err
		}
		ratings = append(ratings, r)
	}
	return ratings, rows.Err()
}

// ListInteractions returns every interaction record (used by data export).
func (s *Store) ListInteractions() ([]Interaction, error) {
	rows, err := s.db.Query(`SELECT user_id, domain, entity_id, value, updated_at
		FROM interactions ORDER BY user_id, domain, entity_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var interactions []Interaction
	for rows.Next() {
		var i Interaction
		var updatedAt string
		if err := rows.Scan(&i.UserID, &i.Domain, &i.EntityID, &i.Value, &updatedAt); err != nil {
			return nil, err
		}
		if i.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		interactions = append(interactions, i)
	}
	return interactions, rows.Err()
}

// PurgeAll deletes every user, entity, preference, and interaction record.
func (s *Store) PurgeAll() error {
	for _, table := range []string{"interactions", "preferences", "entities", "users"} {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("purging %s: %w", table, err)
		}
	}
	return nil
}

// --- helpers ---

func marshalList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalList(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(s), &values); err != nil {
		return nil
	}
	return values
}
