package repository

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/admission-portal-api/internal/models"
)

// MemoryAccountStore is an in-process aggregate store with the same conditional-write
// contract as AccountRepository. Every read and write copies, so callers never share state.
type MemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
	byEmail  map[string]string
	now      func() time.Time
}

// NewMemoryAccountStore builds an empty store.
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		accounts: make(map[string]*models.Account),
		byEmail:  make(map[string]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new account.
func (s *MemoryAccountStore) Create(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(account.Email)
	if _, exists := s.byEmail[email]; exists {
		return ErrDuplicate
	}
	for _, existing := range s.accounts {
		if account.ProfileID != "" && existing.ProfileID == account.ProfileID {
			return ErrDuplicate
		}
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := s.now()
	account.CreatedAt, account.UpdatedAt = now, now
	if account.Version == 0 {
		account.Version = 1
	}
	if account.CoursesVersion == 0 {
		account.CoursesVersion = 1
	}
	stored := account.Clone()
	stored.AppliedCourses = nil
	s.accounts[account.ID] = stored
	s.byEmail[email] = account.ID
	return nil
}

// FindByEmail returns the account for email.
func (s *MemoryAccountStore) FindByEmail(_ context.Context, email string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return s.accounts[id].Clone(), nil
}

// ReadAggregate returns a deep copy of the account and its courses.
func (s *MemoryAccountStore) ReadAggregate(_ context.Context, accountID string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := account.Clone()
	if out.AppliedCourses == nil {
		out.AppliedCourses = []models.AppliedCourse{}
	}
	return out, nil
}

// AppendCourse implements the conditional append.
func (s *MemoryAccountStore) AppendCourse(_ context.Context, accountID string, expectedCoursesVersion int64, course *models.AppliedCourse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return sql.ErrNoRows
	}
	if account.CoursesVersion != expectedCoursesVersion {
		return ErrVersionConflict
	}
	for _, acc := range s.accounts {
		for _, existing := range acc.AppliedCourses {
			if existing.ApplicationID == course.ApplicationID {
				return ErrDuplicate
			}
		}
	}

	now := s.now()
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	account.ApplicationSeq++
	account.CoursesVersion++
	account.UpdatedAt = now
	course.AccountID = accountID
	course.Position = account.ApplicationSeq
	course.Revision = 1
	course.AppliedAt, course.UpdatedAt = now, now
	account.AppliedCourses = append(account.AppliedCourses, *course.Clone())
	return nil
}

// RemoveCourse implements the conditional delete.
func (s *MemoryAccountStore) RemoveCourse(_ context.Context, accountID string, expectedCoursesVersion int64, courseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return sql.ErrNoRows
	}
	if account.CoursesVersion != expectedCoursesVersion {
		return ErrVersionConflict
	}
	for i := range account.AppliedCourses {
		if account.AppliedCourses[i].ID == courseID {
			account.AppliedCourses = append(account.AppliedCourses[:i], account.AppliedCourses[i+1:]...)
			account.CoursesVersion++
			account.UpdatedAt = s.now()
			return nil
		}
	}
	return sql.ErrNoRows
}

// WriteCourse implements the conditional course write.
func (s *MemoryAccountStore) WriteCourse(_ context.Context, course *models.AppliedCourse, expectedRevision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.course(course.AccountID, course.ID)
	if err != nil {
		return err
	}
	if stored.Revision != expectedRevision {
		return ErrVersionConflict
	}
	now := s.now()
	course.Revision = expectedRevision + 1
	course.UpdatedAt = now

	next := course.Clone()
	next.Position = stored.Position
	next.AppliedAt = stored.AppliedAt
	next.ApplicationID = stored.ApplicationID
	*stored = *next
	return nil
}

// WriteDocuments replaces one course's documents array.
func (s *MemoryAccountStore) WriteDocuments(_ context.Context, accountID, courseID string, expectedRevision int64, docs models.DocumentList) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.course(accountID, courseID)
	if err != nil {
		return err
	}
	if stored.Revision != expectedRevision {
		return ErrVersionConflict
	}
	stored.Documents = docs.Clone()
	stored.Revision++
	stored.UpdatedAt = s.now()
	return nil
}

// WriteProfile replaces profile fields.
func (s *MemoryAccountStore) WriteProfile(_ context.Context, account *models.Account, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.accounts[account.ID]
	if !ok {
		return sql.ErrNoRows
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	now := s.now()
	stored.FullName = account.FullName
	stored.Profile = account.Profile.Clone()
	stored.ProfileLocked = account.ProfileLocked
	stored.ProfileCompletion = account.ProfileCompletion
	stored.DeclarationAccepted = account.DeclarationAccepted
	stored.Version = expectedVersion + 1
	stored.UpdatedAt = now
	account.Version = stored.Version
	account.UpdatedAt = now
	return nil
}

// UpdatePermissions replaces a staff account's capability map.
func (s *MemoryAccountStore) UpdatePermissions(_ context.Context, accountID string, expectedVersion int64, perms models.PermissionSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.accounts[accountID]
	if !ok || stored.Role != models.RoleStaff {
		return ErrVersionConflict
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	stored.Permissions = perms.Clone()
	stored.Version++
	stored.UpdatedAt = s.now()
	return nil
}

// ListRequests flattens applied courses into review rows, newest activity first.
func (s *MemoryAccountStore) ListRequests(_ context.Context, filter models.RequestFilter) ([]models.RequestRow, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	rows := make([]models.RequestRow, 0)
	for _, account := range s.accounts {
		for _, course := range account.AppliedCourses {
			if filter.Status != nil && course.Status != *filter.Status {
				continue
			}
			if search != "" && !strings.Contains(strings.ToLower(account.FullName), search) &&
				!strings.Contains(strings.ToLower(account.ProfileID), search) &&
				!strings.Contains(strings.ToLower(course.ApplicationID), search) {
				continue
			}
			rows = append(rows, models.RequestRow{
				AccountID:       account.ID,
				ProfileID:       account.ProfileID,
				CandidateName:   account.FullName,
				Email:           account.Email,
				CourseID:        course.ID,
				ApplicationID:   course.ApplicationID,
				CourseType:      course.CourseType,
				CourseCategory:  course.CourseCategory,
				Status:          course.Status,
				PaymentStatus:   course.PaymentStatus,
				AppointmentDate: course.AppointmentDate,
				AppointmentSlot: course.AppointmentSlot,
				DocumentCount:   len(course.Documents),
				UpdatedAt:       course.UpdatedAt,
			})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].UpdatedAt.Equal(rows[j].UpdatedAt) {
			return rows[i].ApplicationID < rows[j].ApplicationID
		}
		return rows[i].UpdatedAt.After(rows[j].UpdatedAt)
	})

	total := len(rows)
	page, size := normalizePage(filter.Page, filter.PageSize)
	start := (page - 1) * size
	if start >= total {
		return []models.RequestRow{}, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return rows[start:end], total, nil
}

// Summary counts active accounts by role and applied courses by status.
func (s *MemoryAccountStore) Summary(_ context.Context) (*models.DashboardSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary := models.NewDashboardSummary()
	for _, account := range s.accounts {
		if !account.Active {
			continue
		}
		switch account.Role {
		case models.RoleCandidate:
			summary.Candidates++
		case models.RoleStaff:
			summary.Staff++
		}
	}
	for _, account := range s.accounts {
		for _, course := range account.AppliedCourses {
			summary.Courses[course.Status]++
		}
	}
	return summary, nil
}

func (s *MemoryAccountStore) course(accountID, courseID string) (*models.AppliedCourse, error) {
	account, ok := s.accounts[accountID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	course := account.Course(courseID)
	if course == nil {
		return nil, ErrVersionConflict
	}
	return course, nil
}
