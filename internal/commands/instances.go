package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"evalgo.org/nimbus/models"
	"evalgo.org/nimbus/pkg/nimbus/client"
)

var (
	listPage      int
	listPageCount int
	listName      string
	outputFormat  string
)

var instancesCmd = &cobra.Command{
	Use:     "instances",
	Aliases: []string{"instance", "i"},
	Short:   "Query and change instances through the API server",
}

var listInstancesCmd = &cobra.Command{
	Use:   "list",
	Short: "List a page of instances",
	Long: `List a page of instances, optionally filtered by name.

Examples:
  nimbus instances list
  nimbus instances list --page 2 --page-count 20
  nimbus instances list --name web --format json`,
	Args: cobra.NoArgs,
	RunE: runListInstances,
}

var getInstanceCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show one instance and its info",
	Args:  cobra.ExactArgs(1),
	RunE:  runGetInstance,
}

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List instances grouped by node",
	Args:  cobra.NoArgs,
	RunE:  runNodes,
}

var applyInstanceCmd = &cobra.Command{
	Use:   "apply [file]",
	Short: "Create or update an instance from a JSON file",
	Long: `Create an instance from a JSON document, or update it when the id
already exists. Fields absent from the document keep their stored value.

Examples:
  nimbus instances apply web-01.json`,
	Args: cobra.ExactArgs(1),
	RunE: runApplyInstance,
}

var deleteInstanceCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete an instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteInstance,
}

func init() {
	instancesCmd.AddCommand(listInstancesCmd)
	instancesCmd.AddCommand(getInstanceCmd)
	instancesCmd.AddCommand(nodesCmd)
	instancesCmd.AddCommand(applyInstanceCmd)
	instancesCmd.AddCommand(deleteInstanceCmd)

	instancesCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format (table, json)")

	listInstancesCmd.Flags().IntVar(&listPage, "page", 0, "page number (0 based)")
	listInstancesCmd.Flags().IntVar(&listPageCount, "page-count", 0, "instances per page (default: console.page_size)")
	listInstancesCmd.Flags().StringVar(&listName, "name", "", "only instances whose name contains this (case-insensitive)")
}

func runListInstances(cmd *cobra.Command, args []string) error {
	pageCount := listPageCount
	if pageCount == 0 {
		pageCount = cfg.Console.PageSize
	}

	data, err := newClient().ListInstances(cmd.Context(), client.Query{
		Page:      listPage,
		PageCount: pageCount,
		Name:      listName,
	})
	if err != nil {
		return fmt.Errorf("failed to list instances: %w", err)
	}

	if outputFormat == "json" {
		return printJSON(os.Stdout, data)
	}

	if err := printInstances(os.Stdout, data.Instances); err != nil {
		return err
	}
	page := 0
	if data.Page != nil {
		page = *data.Page
	}
	size := pageCount
	if data.PageCount != nil {
		size = *data.PageCount
	}
	count := len(data.Instances)
	if data.Count != nil {
		count = *data.Count
	}
	fmt.Printf("(%s)\n", pageSummary(page, size, count))
	return nil
}

func runGetInstance(cmd *cobra.Command, args []string) error {
	c := newClient()
	ctx := cmd.Context()

	inst, err := c.GetInstance(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get instance: %w", err)
	}
	info, err := c.GetInfo(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get instance info: %w", err)
	}

	if outputFormat == "json" {
		return printJSON(os.Stdout, map[string]interface{}{
			"instance": inst,
			"info":     info,
		})
	}

	if err := printInstances(os.Stdout, models.Instances{*inst}); err != nil {
		return err
	}
	fmt.Printf("\nState:     %s (vm: %s)\n", orDash(inst.GetState()), orDash(inst.GetVMState()))
	fmt.Printf("Zone:      %s\n", orDash(inst.GetZone()))
	fmt.Printf("Image:     %s\n", orDash(inst.GetImage()))
	fmt.Printf("IPv6:      %s\n", orDash(inst.GetPublicIP6()))
	fmt.Printf("Disks:     %v\n", info.Disks)
	fmt.Printf("Firewall:  %v\n", info.FirewallRules)
	return nil
}

func runNodes(cmd *cobra.Command, args []string) error {
	nodes, err := newClient().ListNodes(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list nodes: %w", err)
	}

	if outputFormat == "json" {
		return printJSON(os.Stdout, nodes)
	}

	for _, node := range nodes.Nodes() {
		fmt.Printf("node %s (%d instances)\n", orDash(node), len(nodes[node]))
		if err := printInstances(os.Stdout, nodes[node]); err != nil {
			return err
		}
		fmt.Println()
	}
	return nil
}

func runApplyInstance(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var inst models.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return fmt.Errorf("failed to parse %s: %w", args[0], err)
	}

	c := newClient()
	ctx := cmd.Context()

	var saved *models.Instance
	if inst.ID != "" {
		saved, err = c.UpdateInstance(ctx, inst.ID, inst)
	}
	if inst.ID == "" || isNotFound(err) {
		saved, err = c.CreateInstance(ctx, inst)
	}
	if err != nil {
		return fmt.Errorf("failed to save instance: %w", err)
	}

	if outputFormat == "json" {
		return printJSON(os.Stdout, saved)
	}
	fmt.Printf("✓ Saved instance %s\n", saved.ID)
	return nil
}

func runDeleteInstance(cmd *cobra.Command, args []string) error {
	if err := newClient().DeleteInstance(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	fmt.Printf("✓ Deleted instance %s\n", args[0])
	return nil
}

func isNotFound(err error) bool {
	return err != nil && errors.Is(err, client.ErrNotFound)
}
