package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"evalgo.org/nimbus/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage authentication tokens",
	Long:  `Generate JWT tokens and API keys for consoles and scripts`,
}

var generateTokenCmd = &cobra.Command{
	Use:   "generate [subject]",
	Short: "Generate a JWT token",
	Long: `Generate a JWT token signed with security.jwt_secret.

Roles decide what the token may do: viewer and user may read, user may
also write, admin may do everything.

Examples:
  # Read only token for a console
  nimbus token generate ops-console --role viewer

  # Token for a provisioning script, valid for 30 days
  nimbus token generate provisioner --role user --expiration 720h

  # Use custom secret (overrides config)
  nimbus token generate admin --role admin --secret "my-custom-secret"`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerateToken,
}

var generateAPIKeyCmd = &cobra.Command{
	Use:   "api-key",
	Short: "Generate a static API key and its hash",
	Long: `Generate a random API key. The key goes to the client, the hash goes
to security.api_keys in the server configuration.`,
	Args: cobra.NoArgs,
	RunE: runGenerateAPIKey,
}

var (
	tokenExpiration time.Duration
	tokenSecret     string
	tokenRoles      []string
)

func init() {
	generateTokenCmd.Flags().DurationVar(&tokenExpiration, "expiration", 0, "token lifetime (default: security.jwt_expiration)")
	generateTokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "JWT secret (default: from config file)")
	generateTokenCmd.Flags().StringSliceVar(&tokenRoles, "role", []string{string(auth.RoleViewer)}, "role to grant (admin, user, viewer), repeatable")

	tokenCmd.AddCommand(generateTokenCmd)
	tokenCmd.AddCommand(generateAPIKeyCmd)
}

func runGenerateToken(cmd *cobra.Command, args []string) error {
	subject := args[0]

	roles := make([]auth.Role, 0, len(tokenRoles))
	for _, r := range tokenRoles {
		role, err := auth.ParseRole(r)
		if err != nil {
			return err
		}
		roles = append(roles, role)
	}

	security := cfg.Security
	if tokenSecret != "" {
		security.JWTSecret = tokenSecret
	}
	if security.JWTSecret == "" {
		return fmt.Errorf(`jwt_secret not found in config file and --secret not provided

Please either:
  1. Add to your config.yaml:
     security:
       jwt_secret: your-secret-here

  2. Or use the --secret flag:
     nimbus token generate %s --secret "your-secret-here"`, subject)
	}

	token, err := auth.NewJWTService(security).GenerateToken(subject, roles, tokenExpiration)
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	expiration := tokenExpiration
	if expiration <= 0 {
		expiration = security.JWTExpiration
	}

	fmt.Printf("Token Generated Successfully\n")
	fmt.Printf("============================\n\n")
	fmt.Printf("Subject:    %s\n", subject)
	fmt.Printf("Roles:      %v\n", roles)
	fmt.Printf("Expiration: %s\n", expiration)
	fmt.Printf("\nToken:\n%s\n\n", token)
	fmt.Printf("Add this to your console configuration:\n")
	fmt.Printf("  console:\n")
	fmt.Printf("    token: %s\n\n", token)
	fmt.Printf("⚠️  Keep this token secure!\n")

	return nil
}

func runGenerateAPIKey(cmd *cobra.Command, args []string) error {
	key, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}
	hash, err := auth.HashAPIKey(key)
	if err != nil {
		return err
	}

	fmt.Printf("API Key:\n%s\n\n", key)
	fmt.Printf("Add the hash to the server configuration:\n")
	fmt.Printf("  security:\n")
	fmt.Printf("    api_keys:\n")
	fmt.Printf("      - %q\n\n", hash)
	fmt.Printf("and the key to the console configuration:\n")
	fmt.Printf("  console:\n")
	fmt.Printf("    api_key: %s\n", key)

	return nil
}
