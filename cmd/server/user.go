package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iliyamo/experience-booking/internal/config"
	"github.com/iliyamo/experience-booking/internal/model"
	"github.com/iliyamo/experience-booking/internal/repository"
	"github.com/iliyamo/experience-booking/internal/utils"
)

// newUserCmd provisions vendor and admin accounts.  There is no public
// registration endpoint.
func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage vendor and admin accounts",
	}

	var u model.User
	var password, channel string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a vendor or admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			u.Role = strings.ToUpper(u.Role)
			if u.Role != model.RoleVendor && u.Role != model.RoleAdmin {
				return fmt.Errorf("role must be %s or %s", model.RoleVendor, model.RoleAdmin)
			}
			u.NotifyChannel = model.NotifyChannel(strings.ToLower(channel))
			switch u.NotifyChannel {
			case model.ChannelEmail, model.ChannelSMS, model.ChannelBoth:
			default:
				return fmt.Errorf("unknown notify channel %q", channel)
			}
			if u.NotifyChannel.WantsSMS() && u.Phone == "" {
				return fmt.Errorf("notify channel %s needs --phone", u.NotifyChannel)
			}

			cfg, err := config.Read()
			if err != nil {
				return err
			}
			u.PasswordHash, err = utils.HashPassword(password, cfg.BcryptCost)
			if err != nil {
				return err
			}
			db, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			id, err := repository.NewUserRepo(db).CreateUser(cmd.Context(), u)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s user %d\n", u.Role, id)
			return nil
		},
	}
	add.Flags().StringVar(&u.Email, "email", "", "login email")
	add.Flags().StringVar(&password, "password", "", "initial password")
	add.Flags().StringVar(&u.Role, "role", model.RoleVendor, "VENDOR or ADMIN")
	add.Flags().StringVar(&u.Name, "name", "", "display name")
	add.Flags().StringVar(&u.Phone, "phone", "", "E.164 phone number for SMS")
	add.Flags().StringVar(&channel, "notify", string(model.ChannelEmail), "email, sms or both")
	_ = add.MarkFlagRequired("email")
	_ = add.MarkFlagRequired("password")
	_ = add.MarkFlagRequired("name")

	cmd.AddCommand(add)
	return cmd
}
