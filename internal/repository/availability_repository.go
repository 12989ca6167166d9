package repository

import (
	"context"

	"github.com/iliyamo/experience-booking/internal/model"
)

// AvailabilityRepo owns the availability_slots counters.  Reserve and
// release are single atomic UPDATE statements; the counter is never read
// into memory, modified and written back.
type AvailabilityRepo struct {
	db DBTX
}

// NewAvailabilityRepo returns an AvailabilityRepo bound to db.
func NewAvailabilityRepo(db DBTX) *AvailabilityRepo { return &AvailabilityRepo{db: db} }

// GetSlot loads one availability slot.
func (r *AvailabilityRepo) GetSlot(ctx context.Context, id uint64) (model.AvailabilitySlot, error) {
	var s model.AvailabilitySlot
	err := r.db.QueryRowContext(ctx,
		`SELECT id, experience_id, starts_at, total_slots, available_slots, created_at, updated_at
         FROM availability_slots WHERE id = ?`, id,
	).Scan(&s.ID, &s.ExperienceID, &s.StartsAt, &s.TotalSlots, &s.AvailableSlots, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return model.AvailabilitySlot{}, notFound(err, "availability slot", id)
	}
	return s, nil
}

// ReserveSlots decrements available_slots by qty when at least qty are
// left.  It reports false when the slot is missing or too full.
func (r *AvailabilityRepo) ReserveSlots(ctx context.Context, id uint64, qty int) (bool, error) {
	return affected(r.db.ExecContext(ctx,
		`UPDATE availability_slots SET available_slots = available_slots - ?
         WHERE id = ? AND available_slots >= ?`,
		qty, id, qty,
	))
}

// ReleaseSlots increments available_slots by qty unless that would push
// it above total_slots.  It reports false when the slot is missing or the
// release would overflow capacity.
func (r *AvailabilityRepo) ReleaseSlots(ctx context.Context, id uint64, qty int) (bool, error) {
	return affected(r.db.ExecContext(ctx,
		`UPDATE availability_slots SET available_slots = available_slots + ?
         WHERE id = ? AND available_slots + ? <= total_slots`,
		qty, id, qty,
	))
}
