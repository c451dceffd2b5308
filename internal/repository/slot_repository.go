package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/admission-portal-api/internal/models"
)

// SlotRepository persists the appointment slot catalogue.
type SlotRepository struct {
	db *sqlx.DB
}

// NewSlotRepository constructs the repository.
func NewSlotRepository(db *sqlx.DB) *SlotRepository {
	return &SlotRepository{db: db}
}

// Upsert publishes or unpublishes a slot, creating it when absent.
func (r *SlotRepository) Upsert(ctx context.Context, slot *models.AppointmentSlot) error {
	if slot.UpdatedAt.IsZero() {
		slot.UpdatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO appointment_slots (slot_date, label, published, updated_by, updated_at)
	VALUES (:slot_date, :label, :published, :updated_by, :updated_at)
	ON CONFLICT (slot_date, label) DO UPDATE SET published = EXCLUDED.published,
	updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, slot); err != nil {
		return fmt.Errorf("upsert slot: %w", err)
	}
	return nil
}

// IsPublished reports whether date/label is an open slot.
func (r *SlotRepository) IsPublished(ctx context.Context, date, label string) (bool, error) {
	const query = `SELECT published FROM appointment_slots WHERE slot_date = $1 AND label = $2`
	var published bool
	if err := r.db.GetContext(ctx, &published, query, date, label); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lookup slot: %w", err)
	}
	return published, nil
}

// List returns slots from the given date onward, optionally only published ones. An
// empty from lists the whole catalogue.
func (r *SlotRepository) List(ctx context.Context, from string, publishedOnly bool) ([]models.AppointmentSlot, error) {
	query := `SELECT to_char(slot_date, 'YYYY-MM-DD') AS slot_date, label, published, updated_by, updated_at
	FROM appointment_slots`
	var (
		conditions []string
		args       []interface{}
	)
	if from != "" {
		args = append(args, from)
		conditions = append(conditions, fmt.Sprintf("slot_date >= $%d", len(args)))
	}
	if publishedOnly {
		conditions = append(conditions, "published = TRUE")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY slot_date ASC, label ASC`
	slots := make([]models.AppointmentSlot, 0)
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return slots, nil
}

// MemorySlotStore keeps the slot catalogue in process.
type MemorySlotStore struct {
	mu    sync.RWMutex
	slots map[string]models.AppointmentSlot
}

// NewMemorySlotStore builds an empty catalogue.
func NewMemorySlotStore() *MemorySlotStore {
	return &MemorySlotStore{slots: make(map[string]models.AppointmentSlot)}
}

// Upsert stores slot.
func (s *MemorySlotStore) Upsert(_ context.Context, slot *models.AppointmentSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot.UpdatedAt.IsZero() {
		slot.UpdatedAt = time.Now().UTC()
	}
	s.slots[slot.Key()] = *slot
	return nil
}

// IsPublished reports whether date/label is an open slot.
func (s *MemorySlotStore) IsPublished(_ context.Context, date, label string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.slots[models.SlotKey(date, label)]
	return ok && slot.Published, nil
}

// List returns slots from the given date onward.
func (s *MemorySlotStore) List(_ context.Context, from string, publishedOnly bool) ([]models.AppointmentSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AppointmentSlot, 0, len(s.slots))
	for _, slot := range s.slots {
		if slot.Date < from || (publishedOnly && !slot.Published) {
			continue
		}
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}
