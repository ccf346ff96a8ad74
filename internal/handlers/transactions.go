package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/hiromu1018ks/kakeibo-app/internal/models"
	"github.com/hiromu1018ks/kakeibo-app/internal/report"
	"github.com/hiromu1018ks/kakeibo-app/internal/storage"
)

const descriptionMaxRunes = 1000

// Validation messages shown next to form fields.
const (
	msgDateRequired     = "取引日を入力してください。"
	msgDateInvalid      = "取引日はYYYY-MM-DD形式で入力してください。"
	msgTypeInvalid      = "種類は収入または支出を選択してください。"
	msgCategoryRequired = "カテゴリを選択してください。"
	msgCategoryMissing  = "選択されたカテゴリが存在しません。"
	msgCategoryMismatch = "選択された種類とカテゴリの組み合わせが正しくありません。"
	msgAmountInvalid    = "金額は1以上の整数で入力してください。"
	msgDescriptionLong  = "メモは1000文字以内で入力してください。"
)

// TransactionInput carries the raw form values. It is kept as submitted so a
// failed validation can redisplay the form with the user's input intact.
type TransactionInput struct {
	Date        string
	Type        string
	CategoryID  string
	Amount      string
	Description string
}

// FieldErrors maps a form field name to its validation message.
type FieldErrors map[string]string

func transactionInputFromForm(r *http.Request) TransactionInput {
	return TransactionInput{
		Date:        r.FormValue("transaction_date"),
		Type:        r.FormValue("type"),
		CategoryID:  r.FormValue("category_id"),
		Amount:      r.FormValue("amount"),
		Description: r.FormValue("description"),
	}
}

// inputFromTransaction pre-fills the edit form from a stored record.
func inputFromTransaction(t *models.Transaction) TransactionInput {
	return TransactionInput{
		Date:        t.Date.Format("2006-01-02"),
		Type:        string(t.Type),
		CategoryID:  strconv.FormatInt(t.CategoryID, 10),
		Amount:      strconv.FormatInt(t.Amount, 10),
		Description: t.Description,
	}
}

// validateTransaction checks the allow-listed fields and the cross-field
// type/category rule. It returns the validated record and field errors; the
// error return is reserved for storage failures while resolving the category.
func (h *Handlers) validateTransaction(in TransactionInput) (*models.Transaction, FieldErrors, error) {
	errs := FieldErrors{}

	var date time.Time
	if in.Date == "" {
		errs["transaction_date"] = msgDateRequired
	} else {
		parsed, err := time.Parse("2006-01-02", in.Date)
		if err != nil {
			errs["transaction_date"] = msgDateInvalid
		} else {
			date = parsed
		}
	}

	typ := models.TransactionType(in.Type)
	if !typ.Valid() {
		errs["type"] = msgTypeInvalid
	}

	var category *models.Category
	if in.CategoryID == "" {
		errs["category_id"] = msgCategoryRequired
	} else if categoryID, err := strconv.ParseInt(in.CategoryID, 10, 64); err != nil {
		errs["category_id"] = msgCategoryMissing
	} else {
		category, err = h.db.GetCategory(categoryID)
		if errors.Is(err, storage.ErrNotFound) {
			errs["category_id"] = msgCategoryMissing
		} else if err != nil {
			return nil, nil, err
		}
	}

	amount, err := strconv.ParseInt(in.Amount, 10, 64)
	if in.Amount == "" || err != nil || amount < 1 {
		errs["amount"] = msgAmountInvalid
	}

	if utf8.RuneCountInString(in.Description) > descriptionMaxRunes {
		errs["description"] = msgDescriptionLong
	}

	// Cross-field rule, checked only once both sides validated on their own.
	if typ.Valid() && category != nil && category.Type != typ {
		errs["category_id"] = msgCategoryMismatch
	}

	if len(errs) > 0 {
		return nil, errs, nil
	}

	return &models.Transaction{
		CategoryID:  category.ID,
		Type:        typ,
		Amount:      amount,
		Date:        date,
		Description: in.Description,
	}, nil, nil
}

// authorizeOwner is the explicit guard run before every mutating operation
// on a transaction. Ownership never comes from framework magic.
func authorizeOwner(t *models.Transaction, user *models.User) bool {
	return t.UserID == user.ID
}

// DashboardViewModel is the data passed to the dashboard template.
type DashboardViewModel struct {
	User     *models.User
	Snapshot *report.Snapshot
}

// TransactionFormViewModel is the data passed to the create/edit form.
type TransactionFormViewModel struct {
	User       *models.User
	Categories []models.Category
	Input      TransactionInput
	Errors     FieldErrors
	IsEdit     bool
	Action     string
}

// Dashboard renders the monthly listing with totals, breakdown and paging.
// Month and page selectors come from the query string; invalid month
// selectors silently fall back to the current month.
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)

	q := r.URL.Query()
	year, month := report.ResolveMonth(q.Get("year"), q.Get("month"), time.Now())
	page := report.ResolvePage(q.Get("page"))

	snapshot, err := h.engine.Build(user, year, month, page)
	if err != nil {
		slog.Error("dashboard snapshot error", "error", err, "user_id", user.ID, "year", year, "month", month)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.render(w, "dashboard.html", DashboardViewModel{User: user, Snapshot: snapshot})
}

// NewTransactionForm renders the creation form.
func (h *Handlers) NewTransactionForm(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	categories, err := h.db.ListCategories()
	if err != nil {
		slog.Error("list categories error", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.render(w, "transaction_form.html", TransactionFormViewModel{
		User:       user,
		Categories: categories,
		Input:      TransactionInput{Date: time.Now().Format("2006-01-02"), Type: string(models.TypeExpense)},
		Action:     "/transactions",
	})
}

// CreateTransaction handles the creation form submission.
func (h *Handlers) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	in := transactionInputFromForm(r)
	tx, fieldErrs, err := h.validateTransaction(in)
	if err != nil {
		slog.Error("validate transaction error", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if fieldErrs != nil {
		h.renderTransactionForm(w, user, in, fieldErrs, false, "/transactions")
		return
	}

	// The acting user is stamped server-side; user_id is never form input.
	tx.UserID = user.ID
	if err := h.db.CreateTransaction(tx); err != nil {
		slog.Error("create transaction error", "error", err, "user_id", user.ID)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// EditTransactionForm renders the edit form for an owned transaction.
func (h *Handlers) EditTransactionForm(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	tx, ok := h.loadOwnedTransaction(w, r, user)
	if !ok {
		return
	}

	h.renderTransactionForm(w, user, inputFromTransaction(tx), nil, true, editAction(tx.ID))
}

// UpdateTransaction handles the edit form submission.
func (h *Handlers) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	existing, ok := h.loadOwnedTransaction(w, r, user)
	if !ok {
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	in := transactionInputFromForm(r)
	tx, fieldErrs, err := h.validateTransaction(in)
	if err != nil {
		slog.Error("validate transaction error", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if fieldErrs != nil {
		h.renderTransactionForm(w, user, in, fieldErrs, true, editAction(existing.ID))
		return
	}

	tx.ID = existing.ID
	tx.UserID = existing.UserID
	if err := h.db.UpdateTransaction(tx); err != nil {
		slog.Error("update transaction error", "error", err, "transaction_id", existing.ID)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// DeleteTransaction permanently removes an owned transaction.
func (h *Handlers) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	tx, ok := h.loadOwnedTransaction(w, r, user)
	if !ok {
		return
	}

	if err := h.db.DeleteTransaction(tx.ID); err != nil {
		slog.Error("delete transaction error", "error", err, "transaction_id", tx.ID)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// loadOwnedTransaction resolves {id}, loads the record and runs the ownership
// guard. On failure it writes the response (404, 403 or 500) and reports
// handled=false.
func (h *Handlers) loadOwnedTransaction(w http.ResponseWriter, r *http.Request, user *models.User) (*models.Transaction, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return nil, false
	}

	tx, err := h.db.GetTransaction(id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		slog.Error("get transaction error", "error", err, "transaction_id", id)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}

	if !authorizeOwner(tx, user) {
		slog.Warn("transaction access denied", "transaction_id", id, "owner_id", tx.UserID, "user_id", user.ID)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return nil, false
	}

	return tx, true
}

func (h *Handlers) renderTransactionForm(w http.ResponseWriter, user *models.User, in TransactionInput, fieldErrs FieldErrors, isEdit bool, action string) {
	categories, err := h.db.ListCategories()
	if err != nil {
		slog.Error("list categories error", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if fieldErrs != nil {
		status = http.StatusUnprocessableEntity
	}
	h.renderStatus(w, status, "transaction_form.html", TransactionFormViewModel{
		User:       user,
		Categories: categories,
		Input:      in,
		Errors:     fieldErrs,
		IsEdit:     isEdit,
		Action:     action,
	})
}

func editAction(id int64) string {
	return "/transactions/" + strconv.FormatInt(id, 10)
}
