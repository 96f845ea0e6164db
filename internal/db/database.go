package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrEmailTaken = errors.New("email already registered")
)

type Database struct {
	db *sql.DB
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"-"`
	PasswordSalt []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type Canvas struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Name       string    `json:"name"`
	Elements   string    `json:"-"`
	SharedWith []string  `json:"shared_with"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL UNIQUE,
		password_hash BLOB NOT NULL,
		password_salt BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS canvases (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		elements TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (owner_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_canvases_owner_id ON canvases(owner_id);

	CREATE TABLE IF NOT EXISTS canvas_shares (
		canvas_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		PRIMARY KEY (canvas_id, user_id),
		FOREIGN KEY (canvas_id) REFERENCES canvases(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_canvas_shares_user_id ON canvas_shares(user_id);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

func newID() string {
	return strings.ToLower(ulid.Make().String())
}

// User operations

func (d *Database) CreateUser(name, email string, hash, salt []byte) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := d.GetUserByEmail(email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	id := newID()
	_, err := d.db.Exec(
		"INSERT INTO users (id, name, email, password_hash, password_salt) VALUES (?, ?, ?, ?, ?)",
		id, name, email, hash, salt,
	)
	if err != nil {
		return nil, err
	}
	return d.GetUser(id)
}

func (d *Database) GetUser(id string) (*User, error) {
	return d.scanUser(d.db.QueryRow(
		"SELECT id, name, email, password_hash, password_salt, created_at FROM users WHERE id = ?",
		id,
	))
}

func (d *Database) GetUserByEmail(email string) (*User, error) {
	return d.scanUser(d.db.QueryRow(
		"SELECT id, name, email, password_hash, password_salt, created_at FROM users WHERE email = ?",
		strings.ToLower(strings.TrimSpace(email)),
	))
}

func (d *Database) scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.PasswordSalt, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Canvas operations

func (d *Database) CreateCanvas(ownerID, name string) (*Canvas, error) {
	id := newID()
	_, err := d.db.Exec(
		"INSERT INTO canvases (id, owner_id, name) VALUES (?, ?, ?)",
		id, ownerID, name,
	)
	if err != nil {
		return nil, err
	}
	return d.getCanvas(id)
}

func (d *Database) getCanvas(id string) (*Canvas, error) {
	row := d.db.QueryRow(
		"SELECT id, owner_id, name, elements, created_at, updated_at FROM canvases WHERE id = ?",
		id,
	)

	var c Canvas
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Elements, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.SharedWith, err = d.shares(id)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (d *Database) shares(canvasID string) ([]string, error) {
	rows, err := d.db.Query(
		"SELECT user_id FROM canvas_shares WHERE canvas_id = ? ORDER BY user_id",
		canvasID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shared := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		shared = append(shared, id)
	}
	return shared, rows.Err()
}

func (c *Canvas) accessibleBy(userID string) bool {
	if c.OwnerID == userID {
		return true
	}
	for _, id := range c.SharedWith {
		if id == userID {
			return true
		}
	}
	return false
}

// GetCanvas loads a canvas the user owns or has been shared.
func (d *Database) GetCanvas(id, userID string) (*Canvas, error) {
	c, err := d.getCanvas(id)
	if err != nil {
		return nil, err
	}
	if !c.accessibleBy(userID) {
		return nil, ErrForbidden
	}
	return c, nil
}

// ListCanvases returns every canvas the user owns or has been shared, most
// recently updated first.
func (d *Database) ListCanvases(userID string) ([]Canvas, error) {
	rows, err := d.db.Query(`
		SELECT id FROM canvases
		WHERE owner_id = ? OR id IN (SELECT canvas_id FROM canvas_shares WHERE user_id = ?)
		ORDER BY updated_at DESC, id DESC
	`, userID, userID)
	if err != nil {
		return nil, err
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	canvases := make([]Canvas, 0, len(ids))
	for _, id := range ids {
		c, err := d.getCanvas(id)
		if err != nil {
			return nil, err
		}
		canvases = append(canvases, *c)
	}
	return canvases, nil
}

// SaveElements replaces the stored document of a canvas.
func (d *Database) SaveElements(id, userID, elements string) (*Canvas, error) {
	if _, err := d.GetCanvas(id, userID); err != nil {
		return nil, err
	}
	_, err := d.db.Exec(
		"UPDATE canvases SET elements = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		elements, id,
	)
	if err != nil {
		return nil, err
	}
	return d.getCanvas(id)
}

// DeleteCanvas is restricted to the owner.
func (d *Database) DeleteCanvas(id, userID string) error {
	c, err := d.getCanvas(id)
	if err != nil {
		return err
	}
	if c.OwnerID != userID {
		return ErrForbidden
	}
	_, err = d.db.Exec("DELETE FROM canvases WHERE id = ?", id)
	return err
}

// ShareCanvas grants the user registered under email access to a canvas.
// Only the owner may share.
func (d *Database) ShareCanvas(id, ownerID, email string) (*Canvas, error) {
	c, err := d.getCanvas(id)
	if err != nil {
		return nil, err
	}
	if c.OwnerID != ownerID {
		return nil, ErrForbidden
	}

	target, err := d.GetUserByEmail(email)
	if err != nil {
		return nil, fmt.Errorf("share target: %w", err)
	}
	if target.ID == ownerID {
		return c, nil
	}

	_, err = d.db.Exec(
		"INSERT OR IGNORE INTO canvas_shares (canvas_id, user_id) VALUES (?, ?)",
		id, target.ID,
	)
	if err != nil {
		return nil, err
	}
	return d.getCanvas(id)
}

// Stats

func (d *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var userCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&userCount); err != nil {
		return nil, err
	}
	stats["user_count"] = userCount

	var canvasCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM canvases").Scan(&canvasCount); err != nil {
		return nil, err
	}
	stats["canvas_count"] = canvasCount

	return stats, nil
}
