package commands

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"evalgo.org/nimbus/internal/config"
	"evalgo.org/nimbus/internal/logging"
	"evalgo.org/nimbus/internal/version"
	"evalgo.org/nimbus/pkg/nimbus/client"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "nimbus",
	Short: "Instance inventory server and console",
	Long: `Nimbus keeps an inventory of virtual machine instances in CouchDB and
streams every change to connected consoles.

Run "nimbus server" to serve the API, and "nimbus watch" or
"nimbus instances" to look at the inventory from a terminal.`,
	Version: version.Version,
}

func Execute() error {
	// main sets the build information after package init
	rootCmd.Version = version.Version
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (json, text)")
	rootCmd.PersistentFlags().String("api-url", "", "API server URL for console commands")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(instancesCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(integrityCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "%s" .Version}}
`)
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	flags := rootCmd.PersistentFlags()
	if level, _ := flags.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if format, _ := flags.GetString("log-format"); format != "" {
		cfg.Logging.Format = format
	}
	if apiURL, _ := flags.GetString("api-url"); apiURL != "" {
		cfg.Console.APIURL = apiURL
	}

	logger, err = logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logging: %v\n", err)
		os.Exit(1)
	}
}

// newClient builds an API client from the console section of the config.
func newClient() *client.Client {
	opts := []client.Option{
		client.WithLogger(logger),
		client.WithRetries(2),
	}
	if cfg.Console.Token != "" {
		opts = append(opts, client.WithToken(cfg.Console.Token))
	}
	if cfg.Console.APIKey != "" {
		opts = append(opts, client.WithAPIKey(cfg.Console.APIKey))
	}
	return client.New(cfg.Console.APIURL, opts...)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		fmt.Println(info.String())

		if cmd.Flag("verbose").Changed {
			fmt.Printf("\nDetails:\n")
			fmt.Printf("  Version:    %s\n", info.Version)
			fmt.Printf("  Git Commit: %s\n", info.GitCommit)
			fmt.Printf("  Built:      %s\n", info.BuildTime)
			fmt.Printf("  Go Version: %s\n", info.GoVersion)
			fmt.Printf("  Platform:   %s\n", info.Platform)
		}
	},
}

func init() {
	versionCmd.Flags().BoolP("verbose", "v", false, "verbose version output")
}
