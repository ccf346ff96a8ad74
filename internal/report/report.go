// Package report computes the monthly aggregation snapshot shown on the
// dashboard: one page of transactions, income/expense/balance totals, the
// per-category expense breakdown and prev/next month navigation.
package report

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hiromu1018ks/kakeibo-app/internal/models"
	"github.com/hiromu1018ks/kakeibo-app/internal/storage"
)

// PageSize is the fixed number of transactions per dashboard page.
const PageSize = 10

// Engine produces monthly snapshots from the storage layer.
type Engine struct {
	db *storage.DB
}

// NewEngine creates an aggregation engine backed by db.
func NewEngine(db *storage.DB) *Engine {
	return &Engine{db: db}
}

// MonthRef identifies a calendar month for navigation links.
type MonthRef struct {
	Year  int
	Month int
}

// Snapshot bundles everything the dashboard needs for one month. It is
// computed in one pass; if any query fails the whole snapshot fails.
type Snapshot struct {
	Year  int
	Month int

	Transactions []models.Transaction
	Page         int
	TotalPages   int
	TotalCount   int

	TotalIncome  int64
	TotalExpense int64
	Balance      int64

	ExpensesByCategory []storage.CategoryTotal

	Prev           MonthRef
	Next           MonthRef
	IsCurrentMonth bool
}

// ResolveMonth interprets the year/month query selectors. Missing, malformed
// or out-of-range values silently fall back to the current month; bad
// selectors are a navigation no-op, never an error shown to the user.
func ResolveMonth(yearStr, monthStr string, now time.Time) (int, int) {
	year := now.Year()
	month := int(now.Month())

	if yearStr == "" && monthStr == "" {
		return year, month
	}

	y, yearErr := strconv.Atoi(yearStr)
	m, monthErr := strconv.Atoi(monthStr)
	if yearErr != nil || monthErr != nil || m < 1 || m > 12 || y < 1 || y > 9999 {
		slog.Debug("invalid month selector, falling back to current month",
			"year", yearStr, "month", monthStr)
		return year, month
	}
	return y, m
}

// ResolvePage parses the page selector, defaulting to the first page.
func ResolvePage(pageStr string) int {
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// MonthRange returns the first day of the month and the first day of the
// following month, the half-open window [start, end) used by every query.
func MonthRange(year, month int) (time.Time, time.Time) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// Build computes the snapshot for one user, month and page.
func (e *Engine) Build(user *models.User, year, month, page int) (*Snapshot, error) {
	start, end := MonthRange(year, month)

	count, err := e.db.CountTransactions(user.ID, start, end)
	if err != nil {
		return nil, fmt.Errorf("count transactions: %w", err)
	}

	totalPages := (count + PageSize - 1) / PageSize
	if totalPages < 1 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}

	transactions, err := e.db.ListTransactionsPage(user.ID, start, end, PageSize, (page-1)*PageSize)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	income, err := e.db.SumAmountByType(user.ID, start, end, models.TypeIncome)
	if err != nil {
		return nil, fmt.Errorf("sum income: %w", err)
	}
	expense, err := e.db.SumAmountByType(user.ID, start, end, models.TypeExpense)
	if err != nil {
		return nil, fmt.Errorf("sum expense: %w", err)
	}

	byCategory, err := e.db.ExpenseTotalsByCategory(user.ID, start, end)
	if err != nil {
		return nil, fmt.Errorf("expense totals by category: %w", err)
	}

	// Month arithmetic stays on the first of the month, so AddDate never
	// overflows into a neighboring month and December/January roll the year.
	prev := start.AddDate(0, -1, 0)
	next := start.AddDate(0, 1, 0)
	now := time.Now()

	return &Snapshot{
		Year:               year,
		Month:              month,
		Transactions:       transactions,
		Page:               page,
		TotalPages:         totalPages,
		TotalCount:         count,
		TotalIncome:        income,
		TotalExpense:       expense,
		Balance:            income - expense,
		ExpensesByCategory: byCategory,
		Prev:               MonthRef{Year: prev.Year(), Month: int(prev.Month())},
		Next:               MonthRef{Year: next.Year(), Month: int(next.Month())},
		IsCurrentMonth:     year == now.Year() && month == int(now.Month()),
	}, nil
}

// Label renders the month heading, e.g. 2025年5月.
func (s *Snapshot) Label() string {
	return fmt.Sprintf("%d年%d月", s.Year, s.Month)
}

// HasPrevPage and HasNextPage drive the pager controls.
func (s *Snapshot) HasPrevPage() bool { return s.Page > 1 }
func (s *Snapshot) HasNextPage() bool { return s.Page < s.TotalPages }

// PageURL builds a dashboard link to the given page, preserving the month
// selectors so paging stays within the viewed month.
func (s *Snapshot) PageURL(page int) string {
	return fmt.Sprintf("/dashboard?year=%d&month=%d&page=%d", s.Year, s.Month, page)
}

// PrevPageURL and NextPageURL are template conveniences around PageURL.
func (s *Snapshot) PrevPageURL() string { return s.PageURL(s.Page - 1) }
func (s *Snapshot) NextPageURL() string { return s.PageURL(s.Page + 1) }

// PrevMonthURL and NextMonthURL link to the adjacent months' dashboards.
func (s *Snapshot) PrevMonthURL() string {
	return fmt.Sprintf("/dashboard?year=%d&month=%d", s.Prev.Year, s.Prev.Month)
}

func (s *Snapshot) NextMonthURL() string {
	return fmt.Sprintf("/dashboard?year=%d&month=%d", s.Next.Year, s.Next.Month)
}
