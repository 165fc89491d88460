package users

import "github.com/spf13/cobra"

// UsersCmd is the parent command for user management operations
var UsersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage provisioned users",
	Long:  `Commands for inspecting and managing SSO-provisioned users directly from the server.`,
}

func init() {
	promoteCmd.Flags().StringVar(&usernameFlag, "username", "", "Username to promote (required)")
	promoteCmd.Flags().StringVar(&emailFlag, "email", "", "Email address, used only when the user is created")
	promoteCmd.Flags().BoolVar(&staffOnlyFlag, "staff-only", false, "Grant staff access without superuser")

	UsersCmd.AddCommand(promoteCmd)
	UsersCmd.AddCommand(listCmd)
}
