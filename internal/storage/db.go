package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hiromu1018ks/kakeibo-app/internal/models"

	// Import sqlite driver
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: record not found")

// DB wraps a sql.DB connection.
type DB struct {
	conn *sql.DB
}

// NewDB opens a database connection, runs migrations and seeds the default
// category set if the categories table is empty.
func NewDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// SQLite allows a single writer; one connection also keeps :memory:
	// databases stable across the pool.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, err
	}

	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.seedDefaultCategories(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

const dateLayout = "2006-01-02"

// defaultCategories is the stock category set inserted on first run.
var defaultCategories = []struct {
	Name string
	Type models.TransactionType
}{
	{"給与", models.TypeIncome},
	{"賞与", models.TypeIncome},
	{"副収入", models.TypeIncome},
	{"その他収入", models.TypeIncome},
	{"食費", models.TypeExpense},
	{"日用品", models.TypeExpense},
	{"交通費", models.TypeExpense},
	{"趣味・娯楽", models.TypeExpense},
	{"交際費", models.TypeExpense},
	{"衣服・美容", models.TypeExpense},
	{"健康・医療", models.TypeExpense},
	{"住宅", models.TypeExpense},
	{"水道・光熱費", models.TypeExpense},
	{"通信費", models.TypeExpense},
	{"税金・社会保険", models.TypeExpense},
	{"その他支出", models.TypeExpense},
}

func (db *DB) seedDefaultCategories() error {
	var count int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM categories").Scan(&count); err != nil {
		return fmt.Errorf("count categories: %w", err)
	}
	if count > 0 {
		return nil
	}

	now := time.Now()
	for _, c := range defaultCategories {
		if _, err := db.conn.Exec(
			"INSERT INTO categories (name, type, created_at, updated_at) VALUES (?, ?, ?, ?)",
			c.Name, string(c.Type), now, now,
		); err != nil {
			return fmt.Errorf("seed category %s: %w", c.Name, err)
		}
	}
	return nil
}

// ListCategories returns all categories ordered by type then name, so form
// selects render income first and names in a stable order.
func (db *DB) ListCategories() ([]models.Category, error) {
	rows, err := db.conn.Query(
		"SELECT id, name, type, parent_id, user_id, created_at, updated_at FROM categories ORDER BY type ASC, name ASC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []models.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// GetCategory retrieves a single category by ID.
func (db *DB) GetCategory(id int64) (*models.Category, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, type, parent_id, user_id, created_at, updated_at FROM categories WHERE id = ?",
		id,
	)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCategory inserts a category and returns it. The shipped category set
// comes from seeding; this exists for administration and tests.
func (db *DB) CreateCategory(name string, typ models.TransactionType) (*models.Category, error) {
	now := time.Now()
	result, err := db.conn.Exec(
		"INSERT INTO categories (name, type, created_at, updated_at) VALUES (?, ?, ?, ?)",
		name, string(typ), now, now,
	)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return db.GetCategory(id)
}

// DeleteCategory removes a category. The RESTRICT foreign key makes this
// fail while any transaction still references it.
func (db *DB) DeleteCategory(id int64) error {
	result, err := db.conn.Exec("DELETE FROM categories WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCategory(row rowScanner) (models.Category, error) {
	var (
		c        models.Category
		typ      string
		parentID sql.NullInt64
		userID   sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.Name, &typ, &parentID, &userID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return models.Category{}, err
	}
	c.Type = models.TransactionType(typ)
	if parentID.Valid {
		c.ParentID = &parentID.Int64
	}
	if userID.Valid {
		c.UserID = &userID.Int64
	}
	return c, nil
}

// CreateTransaction inserts a new transaction and fills in its generated ID
// and timestamps.
func (db *DB) CreateTransaction(t *models.Transaction) error {
	now := time.Now()
	result, err := db.conn.Exec(
		`INSERT INTO transactions (user_id, category_id, type, amount, transaction_date, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, t.CategoryID, string(t.Type), t.Amount, t.Date.Format(dateLayout), nullableString(t.Description), now, now,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = id
	t.CreatedAt = now
	t.UpdatedAt = now
	return nil
}

// GetTransaction retrieves a single transaction by ID, joined with its
// category name.
func (db *DB) GetTransaction(id int64) (*models.Transaction, error) {
	row := db.conn.QueryRow(
		`SELECT t.id, t.user_id, t.category_id, c.name, t.type, t.amount, t.transaction_date, t.description, t.created_at, t.updated_at
		 FROM transactions t
		 JOIN categories c ON t.category_id = c.id
		 WHERE t.id = ?`,
		id,
	)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTransaction overwrites the mutable fields of an existing transaction.
// user_id is immutable after creation and deliberately not part of the SET.
func (db *DB) UpdateTransaction(t *models.Transaction) error {
	now := time.Now()
	result, err := db.conn.Exec(
		`UPDATE transactions
		 SET category_id = ?, type = ?, amount = ?, transaction_date = ?, description = ?, updated_at = ?
		 WHERE id = ?`,
		t.CategoryID, string(t.Type), t.Amount, t.Date.Format(dateLayout), nullableString(t.Description), now, t.ID,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	t.UpdatedAt = now
	return nil
}

// DeleteTransaction permanently removes a transaction.
func (db *DB) DeleteTransaction(id int64) error {
	result, err := db.conn.Exec("DELETE FROM transactions WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTransactionsPage returns one page of a user's transactions dated within
// [start, end), newest first. Ties on the same day order by creation time,
// then ID, so the listing is deterministic.
func (db *DB) ListTransactionsPage(userID int64, start, end time.Time, limit, offset int) ([]models.Transaction, error) {
	rows, err := db.conn.Query(
		`SELECT t.id, t.user_id, t.category_id, c.name, t.type, t.amount, t.transaction_date, t.description, t.created_at, t.updated_at
		 FROM transactions t
		 JOIN categories c ON t.category_id = c.id
		 WHERE t.user_id = ? AND t.transaction_date >= ? AND t.transaction_date < ?
		 ORDER BY t.transaction_date DESC, t.created_at DESC, t.id DESC
		 LIMIT ? OFFSET ?`,
		userID, start.Format(dateLayout), end.Format(dateLayout), limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

// CountTransactions returns how many of the user's transactions fall within
// [start, end).
func (db *DB) CountTransactions(userID int64, start, end time.Time) (int, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM transactions WHERE user_id = ? AND transaction_date >= ? AND transaction_date < ?",
		userID, start.Format(dateLayout), end.Format(dateLayout),
	).Scan(&count)
	return count, err
}

// SumAmountByType totals the user's transactions of one type within [start, end).
func (db *DB) SumAmountByType(userID int64, start, end time.Time, typ models.TransactionType) (int64, error) {
	var total int64
	err := db.conn.QueryRow(
		"SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE user_id = ? AND type = ? AND transaction_date >= ? AND transaction_date < ?",
		userID, string(typ), start.Format(dateLayout), end.Format(dateLayout),
	).Scan(&total)
	return total, err
}

// CategoryTotal is one row of the per-category expense breakdown.
type CategoryTotal struct {
	CategoryID int64
	Name       string
	Total      int64
}

// ExpenseTotalsByCategory groups the user's expenses within [start, end) by
// category, largest total first. Ties order by category ID for determinism.
func (db *DB) ExpenseTotalsByCategory(userID int64, start, end time.Time) ([]CategoryTotal, error) {
	rows, err := db.conn.Query(
		`SELECT c.id, c.name, SUM(t.amount) AS total
		 FROM transactions t
		 JOIN categories c ON t.category_id = c.id
		 WHERE t.user_id = ? AND t.type = 'expense' AND t.transaction_date >= ? AND t.transaction_date < ?
		 GROUP BY c.id, c.name
		 ORDER BY total DESC, c.id ASC`,
		userID, start.Format(dateLayout), end.Format(dateLayout),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []CategoryTotal
	for rows.Next() {
		var ct CategoryTotal
		if err := rows.Scan(&ct.CategoryID, &ct.Name, &ct.Total); err != nil {
			return nil, err
		}
		totals = append(totals, ct)
	}
	return totals, rows.Err()
}

func scanTransaction(row rowScanner) (models.Transaction, error) {
	var (
		t       models.Transaction
		typ     string
		dateStr string
		desc    sql.NullString
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.CategoryID, &t.CategoryName, &typ, &t.Amount, &dateStr, &desc, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return models.Transaction{}, err
	}
	t.Type = models.TransactionType(typ)
	t.Description = desc.String
	date, err := time.Parse(dateLayout, dateStr)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("parse transaction date %q: %w", dateStr, err)
	}
	t.Date = date
	return t, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateUser creates a new user account.
func (db *DB) CreateUser(name, email, passwordHash string) (*models.User, error) {
	result, err := db.conn.Exec(
		"INSERT INTO users (name, email, password_hash) VALUES (?, ?, ?)",
		name, email, passwordHash,
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return db.GetUserByID(id)
}

// GetUserByID retrieves a user by ID.
func (db *DB) GetUserByID(id int64) (*models.User, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, email, password_hash, created_at FROM users WHERE id = ?",
		id,
	)
	return scanUser(row)
}

// GetUserByEmail retrieves a user by email address.
func (db *DB) GetUserByEmail(email string) (*models.User, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, email, password_hash, created_at FROM users WHERE email = ?",
		email,
	)
	return scanUser(row)
}

// DeleteUser removes a user account. Owned transactions and sessions cascade.
func (db *DB) DeleteUser(id int64) error {
	result, err := db.conn.Exec("DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UserCount returns the number of users in the database.
func (db *DB) UserCount() (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateSession creates a new session for a user.
func (db *DB) CreateSession(token string, userID int64, expiresAt time.Time) error {
	_, err := db.conn.Exec(
		"INSERT INTO sessions (token, user_id, expires_at, last_activity) VALUES (?, ?, ?, ?)",
		token, userID, expiresAt, time.Now(),
	)
	return err
}

// SessionInfo holds session validation data.
type SessionInfo struct {
	User         *models.User
	LastActivity time.Time
	ExpiresAt    time.Time
}

// ValidateSession checks if a session token is valid and returns the
// associated user.
func (db *DB) ValidateSession(token string) (*models.User, error) {
	info, err := db.ValidateSessionWithInfo(token)
	if err != nil {
		return nil, err
	}
	return info.User, nil
}

// ValidateSessionWithInfo checks if a session token is valid and returns
// session details.
func (db *DB) ValidateSessionWithInfo(token string) (*SessionInfo, error) {
	row := db.conn.QueryRow(`
		SELECT u.id, u.name, u.email, u.password_hash, u.created_at, s.last_activity, s.expires_at
		FROM sessions s
		JOIN users u ON s.user_id = u.id
		WHERE s.token = ? AND s.expires_at > ?
	`, token, time.Now())

	var (
		u                     models.User
		lastActivity, expires time.Time
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt, &lastActivity, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &SessionInfo{
		User:         &u,
		LastActivity: lastActivity,
		ExpiresAt:    expires,
	}, nil
}

// RenewSession updates the last_activity and expires_at for a session.
func (db *DB) RenewSession(token string, newExpiresAt time.Time) error {
	_, err := db.conn.Exec(
		"UPDATE sessions SET last_activity = ?, expires_at = ? WHERE token = ?",
		time.Now(), newExpiresAt, token,
	)
	return err
}

// DeleteSession removes a session by token.
func (db *DB) DeleteSession(token string) error {
	_, err := db.conn.Exec("DELETE FROM sessions WHERE token = ?", token)
	return err
}

// CleanExpiredSessions removes all expired sessions.
func (db *DB) CleanExpiredSessions() error {
	_, err := db.conn.Exec("DELETE FROM sessions WHERE expires_at <= ?", time.Now())
	return err
}
