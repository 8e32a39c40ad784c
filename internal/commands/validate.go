package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"evalgo.org/nimbus/internal/validation"
)

var validatePartial bool

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate an instance document",
	Long: `Validate an instance document the way the API server does before
storing it. Documents may be plain JSON or carry JSON-LD markers.

Examples:
  nimbus validate web-01.json
  nimbus validate patch.json --partial`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validatePartial, "partial", false, "validate as an update (id not required)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	v := validation.New()

	var result *validation.ValidationResult
	if validatePartial {
		result, err = v.ValidateUpdate(data)
	} else {
		result, err = v.ValidateInstance(data)
	}
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if result.Valid {
		fmt.Println("✓ Document is valid")
		return nil
	}

	fmt.Println("✗ Validation failed:")
	for _, e := range result.Errors {
		if e.Value != nil {
			fmt.Printf("  - %s: %s (value: %v)\n", e.Field, e.Message, e.Value)
		} else {
			fmt.Printf("  - %s: %s\n", e.Field, e.Message)
		}
	}

	return fmt.Errorf("validation failed")
}
