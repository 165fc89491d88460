package users

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/spf13/cobra"

	"github.com/yunogate/yunogate/internal/config"
	"github.com/yunogate/yunogate/internal/db/bunx"
	"github.com/yunogate/yunogate/internal/db/models"
	"github.com/yunogate/yunogate/internal/provision"
	"github.com/yunogate/yunogate/internal/repository"
)

var (
	usernameFlag  string
	emailFlag     string
	staffOnlyFlag bool
)

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Grant staff or superuser access to a user",
	Long: `Grants operator access to a user. The user is created when it does not
exist yet, so the admin account can be prepared before its first SSO login.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if usernameFlag == "" {
			return fmt.Errorf("--username flag is required")
		}
		if emailFlag != "" {
			if _, err := mail.ParseAddress(emailFlag); err != nil {
				return fmt.Errorf("invalid email format: %w", err)
			}
		}
		username := provision.NormalizeUsername(usernameFlag)
		if username == "" {
			return fmt.Errorf("username is empty after normalization")
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		db, err := bunx.NewDB(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)

		ctx := context.Background()
		userRepo := repository.NewBunUserRepository(db)

		user, err := userRepo.GetByUsername(ctx, username)
		switch {
		case err == nil:
			user.IsStaff = true
			user.IsSuperuser = !staffOnlyFlag || user.IsSuperuser
			if err := userRepo.UpdateFields(ctx, user, "is_staff", "is_superuser"); err != nil {
				return fmt.Errorf("failed to promote user: %w", err)
			}
			fmt.Printf("Promoted existing user %q\n", username)

		case repository.IsNotFound(err):
			user = &models.User{
				Username:    username,
				Email:       emailFlag,
				IsStaff:     true,
				IsSuperuser: !staffOnlyFlag,
				IsActive:    true,
			}
			if err := userRepo.Create(ctx, user); err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}
			fmt.Printf("Created user %q ahead of first login\n", username)

		default:
			return fmt.Errorf("failed to look up user: %w", err)
		}

		fmt.Println("----------------------------------------")
		fmt.Printf("User ID: %s\n", user.ID)
		fmt.Printf("Username: %s\n", user.Username)
		fmt.Printf("Staff: %t\n", user.IsStaff)
		fmt.Printf("Superuser: %t\n", user.IsSuperuser)
		fmt.Println("----------------------------------------")
		return nil
	},
}
