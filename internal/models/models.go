package models

import "time"

// TransactionType distinguishes income from expense records. A category is
// fixed to one type at creation and every transaction referencing it must
// carry the same type.
type TransactionType string

const (
	TypeIncome  TransactionType = "income"
	TypeExpense TransactionType = "expense"
)

// Valid reports whether t is one of the two known types.
func (t TransactionType) Valid() bool {
	return t == TypeIncome || t == TypeExpense
}

// User represents a user account.
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Category is a named classification for transactions. ParentID allows an
// optional hierarchy (e.g. 食費 → 外食); UserID allows per-user categories.
// Both are unused by the current UI but kept in the schema.
type Category struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Type      TransactionType `json:"type"`
	ParentID  *int64          `json:"parent_id,omitempty"`
	UserID    *int64          `json:"user_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Transaction is a single dated monetary record belonging to a user.
// Amount is integral yen and always positive.
type Transaction struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"user_id"`
	CategoryID   int64           `json:"category_id"`
	CategoryName string          `json:"category_name,omitempty"`
	Type         TransactionType `json:"type"`
	Amount       int64           `json:"amount"`
	Date         time.Time       `json:"transaction_date"`
	Description  string          `json:"description,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Session represents a user session.
type Session struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
