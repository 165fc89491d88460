package users

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yunogate/yunogate/internal/config"
	"github.com/yunogate/yunogate/internal/db/bunx"
	"github.com/yunogate/yunogate/internal/repository"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List provisioned users",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		db, err := bunx.NewDB(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer bunx.Close(db)

		userRepo := repository.NewBunUserRepository(db)
		all, err := userRepo.List(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "USERNAME\tEMAIL\tSTAFF\tSUPERUSER\tACTIVE\tLAST LOGIN")
		for i := range all {
			u := &all[i]
			lastLogin := "never"
			if u.LastLoginAt != nil {
				lastLogin = u.LastLoginAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%t\t%s\n",
				u.Username, u.Email, u.IsStaff, u.IsSuperuser, u.IsActive, lastLogin)
		}
		return w.Flush()
	},
}
