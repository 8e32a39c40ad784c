package commands

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"evalgo.org/nimbus/internal/integrity"
	"evalgo.org/nimbus/internal/storage"
)

var (
	integrityStrategy string
	integrityDryRun   bool
	integrityAuditDir string
)

var integrityCmd = &cobra.Command{
	Use:   "integrity",
	Short: "Check and repair stored instance documents",
	Long: `Scan the CouchDB database for instance documents the API would never
write itself: duplicates, documents under the wrong ID, stale index fields,
values below the stored defaults and info naming another instance.`,
}

var integrityScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for integrity issues",
	Args:  cobra.NoArgs,
	RunE:  runIntegrityScan,
}

var integrityRepairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Repair the issues found by a fresh scan",
	Long: `Scan, plan and execute repairs. Runs as a dry run unless --dry-run=false
is given.

Examples:
  nimbus integrity repair
  nimbus integrity repair --strategy oldest_wins --dry-run=false`,
	Args: cobra.NoArgs,
	RunE: runIntegrityRepair,
}

func init() {
	integrityCmd.PersistentFlags().StringVar(&integrityAuditDir, "audit-dir", "", "append audit entries to files in this directory (default: integrity.audit_dir)")
	integrityCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format (table, json)")

	integrityRepairCmd.Flags().StringVar(&integrityStrategy, "strategy", string(integrity.StrategyLatestWins), "duplicate resolution (latest_wins, oldest_wins)")
	integrityRepairCmd.Flags().BoolVar(&integrityDryRun, "dry-run", true, "only show what would change")

	integrityCmd.AddCommand(integrityScanCmd)
	integrityCmd.AddCommand(integrityRepairCmd)
}

func newIntegrityService() (*integrity.Service, func(), error) {
	store, err := storage.New(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	auditDir := integrityAuditDir
	if auditDir == "" {
		auditDir = cfg.Integrity.AuditDir
	}

	svc := integrity.NewService(store,
		integrity.WithLogger(logger),
		integrity.WithAudit(integrity.NewAuditLogger(auditDir)),
	)
	return svc, func() { _ = store.Close() }, nil
}

func runIntegrityScan(cmd *cobra.Command, args []string) error {
	svc, closeStore, err := newIntegrityService()
	if err != nil {
		return err
	}
	defer closeStore()

	report, err := svc.Scan(cmd.Context())
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if outputFormat == "json" {
		return printJSON(os.Stdout, report)
	}
	return printScanReport(os.Stdout, report)
}

func runIntegrityRepair(cmd *cobra.Command, args []string) error {
	strategy, ok := integrity.ParseStrategy(integrityStrategy)
	if !ok {
		return fmt.Errorf("unknown strategy %q (use latest_wins or oldest_wins)", integrityStrategy)
	}

	svc, closeStore, err := newIntegrityService()
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := cmd.Context()
	report, err := svc.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	plan, err := svc.CreateRepairPlan(report, strategy)
	if err != nil {
		return err
	}
	result, err := svc.ExecutePlan(ctx, plan, integrityDryRun)
	if err != nil {
		return fmt.Errorf("repair failed: %w", err)
	}

	if outputFormat == "json" {
		return printJSON(os.Stdout, map[string]interface{}{
			"plan":   plan,
			"result": result,
		})
	}
	if err := printRepairResult(os.Stdout, plan, result); err != nil {
		return err
	}
	if result.Failed > 0 {
		return fmt.Errorf("%d repair operations failed", result.Failed)
	}
	return nil
}

func printScanReport(w io.Writer, report *integrity.ScanReport) error {
	fmt.Fprintf(w, "Documents scanned: %d\n", report.DocumentsScanned)
	fmt.Fprintf(w, "Issues found:      %d\n", report.Summary.TotalIssues)
	fmt.Fprintf(w, "Health score:      %d/100\n", report.Summary.HealthScore)
	if len(report.Issues) == 0 {
		return nil
	}
	fmt.Fprintln(w)

	issues := make([]integrity.Issue, len(report.Issues))
	copy(issues, report.Issues)
	sort.SliceStable(issues, func(i, j int) bool { return issues[i].InstanceID < issues[j].InstanceID })

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTANCE\tTYPE\tSEVERITY\tREPAIRABLE\tDESCRIPTION")
	for _, issue := range issues {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n",
			orDash(issue.InstanceID), issue.Type, issue.Severity, issue.Repairable, issue.Description)
	}
	return tw.Flush()
}

func printRepairResult(w io.Writer, plan *integrity.RepairPlan, result *integrity.RepairResult) error {
	if result.DryRun {
		fmt.Fprintln(w, "Dry run, nothing was changed.")
	}
	fmt.Fprintf(w, "Operations: %d succeeded, %d failed, %d issues need manual review\n",
		result.Succeeded, result.Failed, len(plan.Skipped))
	if len(result.Results) == 0 {
		return nil
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OPERATION\tDOCUMENT\tREASON\tRESULT")
	for _, res := range result.Results {
		status := "ok"
		if !res.Success {
			status = res.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", res.Operation.Type, res.Operation.DocumentID, res.Operation.Reason, status)
	}
	return tw.Flush()
}
