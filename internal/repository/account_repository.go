package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/admission-portal-api/internal/models"
)

const accountColumns = `id, email, password_hash, full_name, profile_id, role, permissions, profile, profile_locked,
       profile_completion, declaration_accepted, application_seq, version, courses_version, active, created_at, updated_at`

const courseColumns = `id, account_id, application_id, course_type, course_category, course_year, amount, status,
       payment_status, payment_reference, payment_order_id, appointment_date, appointment_slot, documents, position,
       revision, applied_at, updated_at`

// AccountRepository stores account aggregates in Postgres. The account row carries the
// profile and two version counters; each applied course is a child row with its own
// revision and a JSONB documents array, so a document edit rewrites only that array.
type AccountRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewAccountRepository constructs the repository.
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts a new account.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := r.now()
	account.CreatedAt, account.UpdatedAt = now, now
	if account.Version == 0 {
		account.Version = 1
	}
	if account.CoursesVersion == 0 {
		account.CoursesVersion = 1
	}
	const query = `INSERT INTO accounts (id, email, password_hash, full_name, profile_id, role, permissions, profile,
	profile_locked, profile_completion, declaration_accepted, application_seq, version, courses_version, active, created_at, updated_at)
	VALUES (:id, :email, :password_hash, :full_name, :profile_id, :role, :permissions, :profile, :profile_locked,
	:profile_completion, :declaration_accepted, :application_seq, :version, :courses_version, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, account); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// FindByEmail returns the account row (without courses) for email.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1 LIMIT 1`
	var account models.Account
	if err := r.db.GetContext(ctx, &account, query, strings.ToLower(email)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find account by email: %w", err)
	}
	return &account, nil
}

// ReadAggregate loads the account and every applied course in application order.
func (r *AccountRepository) ReadAggregate(ctx context.Context, accountID string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	var account models.Account
	if err := r.db.GetContext(ctx, &account, query, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("read account: %w", err)
	}

	coursesQuery := `SELECT ` + courseColumns + ` FROM applied_courses WHERE account_id = $1 ORDER BY position ASC`
	courses := make([]models.AppliedCourse, 0)
	if err := r.db.SelectContext(ctx, &courses, coursesQuery, accountID); err != nil {
		return nil, fmt.Errorf("read applied courses: %w", err)
	}
	account.AppliedCourses = courses
	return &account, nil
}

// AppendCourse adds course to the end of the account's list if the list is still at
// expectedCoursesVersion, bumping the application sequence in the same transaction.
func (r *AccountRepository) AppendCourse(ctx context.Context, accountID string, expectedCoursesVersion int64, course *models.AppliedCourse) error {
	now := r.now()
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	course.AccountID = accountID
	course.Revision = 1
	course.AppliedAt, course.UpdatedAt = now, now

	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		const bump = `UPDATE accounts SET courses_version = courses_version + 1, application_seq = application_seq + 1, updated_at = $3
		WHERE id = $1 AND courses_version = $2 RETURNING application_seq`
		var seq int
		if err := tx.GetContext(ctx, &seq, bump, accountID, expectedCoursesVersion, now); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrVersionConflict
			}
			return fmt.Errorf("bump courses version: %w", err)
		}
		course.Position = seq

		const insert = `INSERT INTO applied_courses (id, account_id, application_id, course_type, course_category, course_year,
		amount, status, payment_status, payment_reference, payment_order_id, appointment_date, appointment_slot, documents,
		position, revision, applied_at, updated_at)
		VALUES (:id, :account_id, :application_id, :course_type, :course_category, :course_year, :amount, :status,
		:payment_status, :payment_reference, :payment_order_id, :appointment_date, :appointment_slot, :documents,
		:position, :revision, :applied_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, insert, course); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("insert applied course: %w", err)
		}
		return nil
	})
}

// RemoveCourse deletes one applied course if the list is still at expectedCoursesVersion.
func (r *AccountRepository) RemoveCourse(ctx context.Context, accountID string, expectedCoursesVersion int64, courseID string) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		const bump = `UPDATE accounts SET courses_version = courses_version + 1, updated_at = $3 WHERE id = $1 AND courses_version = $2`
		res, err := tx.ExecContext(ctx, bump, accountID, expectedCoursesVersion, r.now())
		if err != nil {
			return fmt.Errorf("bump courses version: %w", err)
		}
		if err := expectOneRow(res, ErrVersionConflict); err != nil {
			return err
		}

		const del = `DELETE FROM applied_courses WHERE id = $1 AND account_id = $2`
		res, err = tx.ExecContext(ctx, del, courseID, accountID)
		if err != nil {
			return fmt.Errorf("delete applied course: %w", err)
		}
		return expectOneRow(res, sql.ErrNoRows)
	})
}

// WriteCourse persists every mutable field of course if its revision is still expectedRevision.
func (r *AccountRepository) WriteCourse(ctx context.Context, course *models.AppliedCourse, expectedRevision int64) error {
	now := r.now()
	const query = `UPDATE applied_courses SET status = :status, payment_status = :payment_status,
	payment_reference = :payment_reference, payment_order_id = :payment_order_id, appointment_date = :appointment_date,
	appointment_slot = :appointment_slot, documents = :documents, revision = revision + 1, updated_at = :updated_at
	WHERE id = :id AND account_id = :account_id AND revision = :expected_revision`
	res, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":                course.ID,
		"account_id":        course.AccountID,
		"status":            course.Status,
		"payment_status":    course.PaymentStatus,
		"payment_reference": course.PaymentReference,
		"payment_order_id":  course.PaymentOrderID,
		"appointment_date":  course.AppointmentDate,
		"appointment_slot":  course.AppointmentSlot,
		"documents":         course.Documents,
		"updated_at":        now,
		"expected_revision": expectedRevision,
	})
	if err != nil {
		return fmt.Errorf("write applied course: %w", err)
	}
	if err := expectOneRow(res, ErrVersionConflict); err != nil {
		return err
	}
	course.Revision = expectedRevision + 1
	course.UpdatedAt = now
	return nil
}

// WriteDocuments rewrites only the documents array of one course.
func (r *AccountRepository) WriteDocuments(ctx context.Context, accountID, courseID string, expectedRevision int64, docs models.DocumentList) error {
	const query = `UPDATE applied_courses SET documents = $1, revision = revision + 1, updated_at = $2
	WHERE id = $3 AND account_id = $4 AND revision = $5`
	res, err := r.db.ExecContext(ctx, query, docs, r.now(), courseID, accountID, expectedRevision)
	if err != nil {
		return fmt.Errorf("write documents: %w", err)
	}
	return expectOneRow(res, ErrVersionConflict)
}

// WriteProfile persists profile fields if the account is still at expectedVersion.
func (r *AccountRepository) WriteProfile(ctx context.Context, account *models.Account, expectedVersion int64) error {
	now := r.now()
	const query = `UPDATE accounts SET full_name = :full_name, profile = :profile, profile_locked = :profile_locked,
	profile_completion = :profile_completion, declaration_accepted = :declaration_accepted, version = version + 1,
	updated_at = :updated_at WHERE id = :id AND version = :expected_version`
	res, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":                   account.ID,
		"full_name":            account.FullName,
		"profile":              account.Profile,
		"profile_locked":       account.ProfileLocked,
		"profile_completion":   account.ProfileCompletion,
		"declaration_accepted": account.DeclarationAccepted,
		"updated_at":           now,
		"expected_version":     expectedVersion,
	})
	if err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	if err := expectOneRow(res, ErrVersionConflict); err != nil {
		return err
	}
	account.Version = expectedVersion + 1
	account.UpdatedAt = now
	return nil
}

// UpdatePermissions replaces a staff account's capability map.
func (r *AccountRepository) UpdatePermissions(ctx context.Context, accountID string, expectedVersion int64, perms models.PermissionSet) error {
	const query = `UPDATE accounts SET permissions = $1, version = version + 1, updated_at = $2
	WHERE id = $3 AND version = $4 AND role = 'staff'`
	res, err := r.db.ExecContext(ctx, query, perms, r.now(), accountID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update permissions: %w", err)
	}
	return expectOneRow(res, ErrVersionConflict)
}

// ListRequests flattens applied courses into review rows, newest activity first.
func (r *AccountRepository) ListRequests(ctx context.Context, filter models.RequestFilter) ([]models.RequestRow, int, error) {
	base := ` FROM applied_courses c JOIN accounts a ON a.id = c.account_id`
	var conditions []string
	var args []interface{}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("c.status = $%d", len(args)))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%")
		idx := len(args)
		conditions = append(conditions, fmt.Sprintf("(LOWER(a.full_name) LIKE $%d OR LOWER(a.profile_id) LIKE $%d OR LOWER(c.application_id) LIKE $%d)", idx, idx, idx))
	}
	if len(conditions) > 0 {
		base += " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*)"+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	page, size := normalizePage(filter.Page, filter.PageSize)
	query := `SELECT c.account_id, a.profile_id, a.full_name, a.email, c.id, c.application_id, c.course_type,
	c.course_category, c.status, c.payment_status, c.appointment_date, c.appointment_slot,
	jsonb_array_length(c.documents) AS document_count, c.updated_at` + base +
		fmt.Sprintf(" ORDER BY c.updated_at DESC LIMIT %d OFFSET %d", size, (page-1)*size)

	rows := make([]models.RequestRow, 0)
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}
	return rows, total, nil
}

// Summary counts active accounts by role and applied courses by status.
func (r *AccountRepository) Summary(ctx context.Context) (*models.DashboardSummary, error) {
	summary := models.NewDashboardSummary()
	const accountsQuery = `SELECT COUNT(*) FILTER (WHERE role = 'candidate') AS candidates,
	COUNT(*) FILTER (WHERE role = 'staff') AS staff
	FROM accounts WHERE active = TRUE`
	if err := r.db.GetContext(ctx, summary, accountsQuery); err != nil {
		return nil, fmt.Errorf("count accounts: %w", err)
	}

	var counts []struct {
		Status models.CourseStatus `db:"status"`
		Total  int                 `db:"total"`
	}
	const coursesQuery = `SELECT status, COUNT(*) AS total FROM applied_courses GROUP BY status`
	if err := r.db.SelectContext(ctx, &counts, coursesQuery); err != nil {
		return nil, fmt.Errorf("count courses: %w", err)
	}
	for _, c := range counts {
		summary.Courses[c.Status] = c.Total
	}
	return summary, nil
}

func (r *AccountRepository) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func expectOneRow(res sql.Result, otherwise error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check affected rows: %w", err)
	}
	if rows == 0 {
		return otherwise
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func normalizePage(page, size int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 200 {
		size = 50
	}
	return page, size
}
