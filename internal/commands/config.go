package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var showConfigCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runShowConfig,
}

var initConfigCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	RunE:  runInitConfig,
}

func init() {
	configCmd.AddCommand(showConfigCmd)
	configCmd.AddCommand(initConfigCmd)

	initConfigCmd.Flags().StringP("output", "o", "config.yaml", "file to write")
	initConfigCmd.Flags().Bool("force", false, "overwrite an existing file")
}

func runShowConfig(cmd *cobra.Command, args []string) error {
	shown := *cfg
	if shown.CouchDB.Password != "" {
		shown.CouchDB.Password = "********"
	}
	if shown.Security.JWTSecret != "" {
		shown.Security.JWTSecret = "********"
	}
	if shown.Console.Token != "" {
		shown.Console.Token = "********"
	}
	if shown.Console.APIKey != "" {
		shown.Console.APIKey = "********"
	}

	data, err := yaml.Marshal(shown)
	if err != nil {
		return err
	}

	fmt.Println(string(data))
	return nil
}

const defaultConfig = `# Nimbus Configuration

server:
  host: 0.0.0.0
  port: 8080
  read_timeout: 30s
  write_timeout: 30s
  shutdown_timeout: 10s
  debug: false
  watch_changes: false

couchdb:
  url: http://localhost:5984
  database: nimbus
  username: admin
  password: password

logging:
  level: info
  format: json

security:
  rate_limit: 100
  allowed_origins:
    - "*"
  auth_enabled: false
  jwt_secret: change-me-in-production
  jwt_expiration: 24h
  api_keys: []

events:
  nats_url: ""
  subject_prefix: nimbus

console:
  api_url: http://localhost:8080
  token: ""
  api_key: ""
  resync_interval: 30s
  page_size: 50
  cache_path: ""

integrity:
  scan_interval: 0s
  auto_repair: false
  strategy: latest_wins
  audit_dir: ""
`

func runInitConfig(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	force, _ := cmd.Flags().GetBool("force")

	if _, err := os.Stat(output); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", output)
	}

	if err := os.WriteFile(output, []byte(defaultConfig), 0644); err != nil {
		return err
	}

	fmt.Printf("✓ Created %s\n", output)
	return nil
}
