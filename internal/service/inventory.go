package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/experience-booking/internal/model"
	"github.com/iliyamo/experience-booking/internal/obs"
)

// Inventory is the slot ledger.  Counters only move through atomic
// guarded updates in the store; nothing here reads a counter, changes
// it in memory and writes it back.
type Inventory struct {
	log logrus.FieldLogger
}

// NewInventory returns an Inventory that logs drift to log.
func NewInventory(log logrus.FieldLogger) *Inventory { return &Inventory{log: log} }

// Reserve takes qty units from a slot in its own transaction.
func (i *Inventory) Reserve(ctx context.Context, store Store, slotID uint64, qty int) error {
	return store.InTx(ctx, func(q Queries) error { return i.ReserveTx(ctx, q, slotID, qty) })
}

// Release returns qty units to a slot in its own transaction.
func (i *Inventory) Release(ctx context.Context, store Store, slotID uint64, qty int) error {
	return store.InTx(ctx, func(q Queries) error { return i.ReleaseTx(ctx, q, slotID, qty) })
}

// ReserveTx takes qty units inside the caller's transaction.  It fails
// with ErrInsufficientInventory when fewer than qty are left.
func (i *Inventory) ReserveTx(ctx context.Context, q Queries, slotID uint64, qty int) error {
	const op = "Inventory.Reserve"
	if qty <= 0 {
		return newError(op, ErrValidation, "quantity must be positive")
	}
	ok, err := q.ReserveSlots(ctx, slotID, qty)
	if err != nil {
		return wrapError(op, nil, "reserve slots", err)
	}
	if ok {
		return nil
	}
	if _, err := q.GetSlot(ctx, slotID); err != nil {
		return lookupErr(op, "availability slot", err)
	}
	return newError(op, ErrInsufficientInventory, "not enough places left in this slot")
}

// ReleaseTx gives qty units back inside the caller's transaction.  A
// release that would push the slot above capacity is clamped to
// capacity and reported as ledger drift instead of failing the caller.
func (i *Inventory) ReleaseTx(ctx context.Context, q Queries, slotID uint64, qty int) error {
	const op = "Inventory.Release"
	if qty <= 0 {
		return newError(op, ErrValidation, "quantity must be positive")
	}
	ok, err := q.ReleaseSlots(ctx, slotID, qty)
	if err != nil {
		return wrapError(op, nil, "release slots", err)
	}
	if ok {
		return nil
	}
	slot, err := q.GetSlot(ctx, slotID)
	if err != nil {
		return lookupErr(op, "availability slot", err)
	}
	missing := slot.TotalSlots - slot.AvailableSlots
	obs.LedgerAnomalies.WithLabelValues("release_over_capacity").Inc()
	i.log.WithFields(logrus.Fields{
		"slot_id":   slotID,
		"requested": qty,
		"available": slot.AvailableSlots,
		"total":     slot.TotalSlots,
	}).Warn("release exceeds capacity; clamping")
	if missing <= 0 {
		return nil
	}
	if _, err := q.ReleaseSlots(ctx, slotID, missing); err != nil {
		return wrapError(op, nil, "release slots", err)
	}
	return nil
}

// Hold reserves a booking's units and marks the booking as holding
// them.  It is the only place inventory is consumed, and it is a no-op
// for a booking that already holds its units.
func (i *Inventory) Hold(ctx context.Context, q Queries, b *model.Booking) error {
	if b.InventoryHeld {
		return nil
	}
	if err := i.ReserveTx(ctx, q, b.AvailabilityID, b.Quantity); err != nil {
		return err
	}
	flipped, err := q.SetInventoryHeld(ctx, b.ID, true)
	if err != nil {
		return wrapError("Inventory.Hold", nil, "mark inventory held", err)
	}
	if !flipped {
		return newError("Inventory.Hold", ErrStateConflict, "booking already holds inventory")
	}
	b.InventoryHeld = true
	return nil
}

// Unhold releases a booking's units if, and only if, it holds them.
func (i *Inventory) Unhold(ctx context.Context, q Queries, b *model.Booking) error {
	if !b.InventoryHeld {
		return nil
	}
	flipped, err := q.SetInventoryHeld(ctx, b.ID, false)
	if err != nil {
		return wrapError("Inventory.Unhold", nil, "clear inventory held", err)
	}
	if !flipped {
		return nil
	}
	if err := i.ReleaseTx(ctx, q, b.AvailabilityID, b.Quantity); err != nil {
		return err
	}
	b.InventoryHeld = false
	return nil
}

func isSoldOut(err error) bool { return errors.Is(err, ErrInsufficientInventory) }
