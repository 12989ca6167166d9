package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/experience-booking/internal/config"
	"github.com/iliyamo/experience-booking/internal/model"
	"github.com/iliyamo/experience-booking/internal/notify"
	"github.com/iliyamo/experience-booking/internal/repository"
	"github.com/iliyamo/experience-booking/internal/service"
)

func newVoucherCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voucher",
		Short: "Manage vouchers",
	}

	var (
		v            model.Voucher
		kind         string
		experienceID uint64
		validFor     time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a voucher without a payment",
		RunE: func(cmd *cobra.Command, args []string) error {
			v.Type = model.VoucherType(strings.ToLower(kind))
			switch v.Type {
			case model.VoucherFixedAmount:
				if v.CurrentBalanceCents <= 0 {
					return fmt.Errorf("a fixed_amount voucher needs a positive --cents")
				}
				if len(v.Currency) != 3 {
					return fmt.Errorf("--currency must be an ISO 4217 code")
				}
				v.Currency = strings.ToUpper(v.Currency)
			case model.VoucherExperience:
				if experienceID == 0 {
					return fmt.Errorf("an experience voucher needs --experience")
				}
				v.ExperienceID = &experienceID
				v.CurrentBalanceCents = 0
			default:
				return fmt.Errorf("unknown voucher type %q", kind)
			}
			if v.Code == "" {
				v.Code = service.NewVoucherCode()
			}
			if validFor > 0 {
				exp := time.Now().Add(validFor).UTC()
				v.ExpiryDate = &exp
			}
			v.IsEnabled = true

			cfg, err := config.Read()
			if err != nil {
				return err
			}
			db, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repository.NewVoucherRepo(db).CreateVoucher(cmd.Context(), &v); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "code: %s\n", v.Code)
			if v.Type == model.VoucherFixedAmount {
				fmt.Fprintf(out, "balance: %s\n", notify.FormatAmount(v.CurrentBalanceCents, v.Currency))
			}
			if v.ExpiryDate != nil {
				fmt.Fprintf(out, "expires: %s\n", v.ExpiryDate.Format(time.RFC3339))
			}
			return nil
		},
	}
	issue.Flags().StringVar(&kind, "type", string(model.VoucherFixedAmount), "fixed_amount or experience")
	issue.Flags().StringVar(&v.Code, "code", "", "voucher code (generated when empty)")
	issue.Flags().Int64Var(&v.CurrentBalanceCents, "cents", 0, "balance in minor units")
	issue.Flags().StringVar(&v.Currency, "currency", "EUR", "balance currency")
	issue.Flags().Uint64Var(&experienceID, "experience", 0, "experience the voucher redeems")
	issue.Flags().DurationVar(&validFor, "valid-for", 8760*time.Hour, "validity from now, 0 for no expiry")
	issue.Flags().StringVar(&v.RecipientName, "recipient-name", "", "recipient name")
	issue.Flags().StringVar(&v.RecipientEmail, "recipient-email", "", "recipient email")
	issue.Flags().StringVar(&v.Message, "message", "", "message shown with the voucher")

	cmd.AddCommand(issue)
	return cmd
}
