package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"evalgo.org/nimbus/internal/console"
	"evalgo.org/nimbus/models"
)

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func intOrDash(n *int) string {
	if n == nil {
		return "-"
	}
	return strconv.Itoa(*n)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printInstances writes instances as a table.
func printInstances(w io.Writer, instances models.Instances) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tNODE\tSTATUS\tMEMORY\tCPUS\tPUBLIC IP\tROLES")
	for _, inst := range instances {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			inst.ID,
			orDash(inst.GetName()),
			orDash(inst.GetNode()),
			orDash(inst.GetStatus()),
			intOrDash(inst.Memory),
			intOrDash(inst.Processors),
			orDash(inst.GetPublicIP()),
			orDash(strings.Join(inst.NetworkRoles, ",")),
		)
	}
	return tw.Flush()
}

// pageSummary describes the position of a page in the listing.
func pageSummary(page, pageCount, count int) string {
	pages := models.Pages(count, pageCount)
	if pages == 0 {
		return "no instances"
	}
	return fmt.Sprintf("page %d/%d, %d instances", page+1, pages, count)
}

// printSnapshot writes the page, the per node lists and the filter of a
// console snapshot.
func printSnapshot(w io.Writer, snap console.Snapshot) error {
	if snap.Filter != nil && snap.Filter.Name != nil {
		fmt.Fprintf(w, "filter: name contains %q\n", *snap.Filter.Name)
	}

	if err := printInstances(w, snap.Instances.Instances()); err != nil {
		return err
	}
	fmt.Fprintf(w, "(%s)\n", pageSummary(snap.Page, snap.PageCount, snap.Count))

	for node, list := range snap.Nodes.All() {
		fmt.Fprintf(w, "\nnode %s (%d instances)\n", orDash(node), list.Len())
		if err := printInstances(w, list.Instances()); err != nil {
			return err
		}
	}
	return nil
}
