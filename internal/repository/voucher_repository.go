package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/experience-booking/internal/model"
)

// VoucherRepo provides access to the vouchers table.
type VoucherRepo struct {
	db DBTX
}

// NewVoucherRepo returns a VoucherRepo bound to db.
func NewVoucherRepo(db DBTX) *VoucherRepo { return &VoucherRepo{db: db} }

const voucherColumns = `id, code, type, current_balance_cents, currency, is_enabled, expiry_date,
       experience_id, source_intent_id, sender_name, sender_email, recipient_name,
       recipient_email, message, created_at, updated_at`

func scanVoucher(row rowScanner) (model.Voucher, error) {
	var (
		v       model.Voucher
		expiry  sql.NullTime
		expID   sql.NullInt64
		intent  sql.NullString
		message sql.NullString
	)
	err := row.Scan(&v.ID, &v.Code, &v.Type, &v.CurrentBalanceCents, &v.Currency, &v.IsEnabled, &expiry,
		&expID, &intent, &v.SenderName, &v.SenderEmail, &v.RecipientName,
		&v.RecipientEmail, &message, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return model.Voucher{}, err
	}
	if expiry.Valid {
		t := expiry.Time
		v.ExpiryDate = &t
	}
	if expID.Valid {
		id := uint64(expID.Int64)
		v.ExperienceID = &id
	}
	v.SourceIntentID = intent.String
	v.Message = message.String
	return v, nil
}

// LockVoucherByCode loads a voucher by its code with SELECT ... FOR
// UPDATE so two redemptions of the same code serialise.  Codes are
// compared upper case.
func (r *VoucherRepo) LockVoucherByCode(ctx context.Context, code string) (model.Voucher, error) {
	code = normalizeCode(code)
	v, err := scanVoucher(r.db.QueryRowContext(ctx,
		`SELECT `+voucherColumns+` FROM vouchers WHERE code = ? FOR UPDATE`, code))
	if err != nil {
		return model.Voucher{}, notFound(err, "voucher", code)
	}
	return v, nil
}

// UpdateVoucher writes the new balance and enabled flag together.
func (r *VoucherRepo) UpdateVoucher(ctx context.Context, id uint64, balanceCents int64, enabled bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE vouchers SET current_balance_cents = ?, is_enabled = ? WHERE id = ?`,
		balanceCents, enabled, id)
	return err
}

// CreateVoucher inserts v and fills in its ID and timestamps.  A second
// voucher for the same code or source intent returns ErrConflict.
func (r *VoucherRepo) CreateVoucher(ctx context.Context, v *model.Voucher) error {
	var (
		expiry  sql.NullTime
		expID   sql.NullInt64
		intent  sql.NullString
		message sql.NullString
	)
	if v.ExpiryDate != nil {
		expiry = sql.NullTime{Time: v.ExpiryDate.UTC(), Valid: true}
	}
	if v.ExperienceID != nil {
		expID = sql.NullInt64{Int64: int64(*v.ExperienceID), Valid: true}
	}
	if v.SourceIntentID != "" {
		intent = sql.NullString{String: v.SourceIntentID, Valid: true}
	}
	if v.Message != "" {
		message = sql.NullString{String: v.Message, Valid: true}
	}
	code := normalizeCode(v.Code)
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO vouchers (code, type, current_balance_cents, currency, is_enabled, expiry_date,
                               experience_id, source_intent_id, sender_name, sender_email,
                               recipient_name, recipient_email, message)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		code, v.Type, v.CurrentBalanceCents, v.Currency, v.IsEnabled, expiry,
		expID, intent, v.SenderName, v.SenderEmail,
		v.RecipientName, v.RecipientEmail, message,
	)
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	created, err := scanVoucher(r.db.QueryRowContext(ctx,
		`SELECT `+voucherColumns+` FROM vouchers WHERE id = ?`, id))
	if err != nil {
		return err
	}
	*v = created
	return nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
