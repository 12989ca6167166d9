package repository

import (
	"context"

	"github.com/iliyamo/experience-booking/internal/model"
)

// ExperienceRepo reads experiences.  The booking core never writes them.
type ExperienceRepo struct {
	db DBTX
}

// NewExperienceRepo returns an ExperienceRepo bound to db.
func NewExperienceRepo(db DBTX) *ExperienceRepo { return &ExperienceRepo{db: db} }

// GetExperience loads an experience with its price and policies.
func (r *ExperienceRepo) GetExperience(ctx context.Context, id uint64) (model.Experience, error) {
	var e model.Experience
	err := r.db.QueryRowContext(ctx,
		`SELECT id, vendor_id, title, price_cents, currency, confirmation_mode, timeout_behavior
         FROM experiences WHERE id = ?`, id,
	).Scan(&e.ID, &e.VendorID, &e.Title, &e.PriceCents, &e.Currency, &e.ConfirmationMode, &e.TimeoutBehavior)
	if err != nil {
		return model.Experience{}, notFound(err, "experience", id)
	}
	return e, nil
}
