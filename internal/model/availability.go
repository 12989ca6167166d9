package model

import "time"

// AvailabilitySlot is a dated bucket of capacity for one experience.
// AvailableSlots never drops below zero and never exceeds TotalSlots.
type AvailabilitySlot struct {
	ID             uint64    // availability_slots.id
	ExperienceID   uint64    // availability_slots.experience_id
	StartsAt       time.Time // availability_slots.starts_at
	TotalSlots     int       // availability_slots.total_slots
	AvailableSlots int       // availability_slots.available_slots
	CreatedAt      time.Time // availability_slots.created_at
	UpdatedAt      time.Time // availability_slots.updated_at
}
