// Command nimbus runs the instance inventory API server and the console
// commands that read from it.
//
// @title Nimbus API
// @version 1.0
// @description Instance inventory API with a live dispatch stream for consoles.
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @securityDefinitions.apikey APIKeyAuth
// @in header
// @name X-API-Key
package main

import (
	"fmt"
	"os"

	"evalgo.org/nimbus/internal/commands"
	"evalgo.org/nimbus/internal/version"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	version.Version = Version
	version.BuildTime = BuildTime
	version.GitCommit = GitCommit

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
