package analysis

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/docker/go-units"
)

// WriteReport prints the resource table and task list of p.
func (p *Plan) WriteReport(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RESOURCE\tCLASS\tCEILING\tLATE\tSIZE\tACCESSORS")
	for _, r := range p.Resources {
		size := "-"
		if r.Size > 0 {
			size = units.BytesSize(float64(r.Size))
		}
		late := ""
		if r.Late {
			late = "late"
		}
		accs := make([]string, 0, len(r.Accessors))
		for _, a := range r.Accessors {
			accs = append(accs, fmt.Sprintf("%s@%d(%s)", p.Tasks[a.Task].Name, a.Priority, a.Mode))
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", r.Name, r.Class, r.Ceiling, late, size, strings.Join(accs, " "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tPRIORITY\tSOURCE\tBOOT")
	for _, t := range p.Tasks {
		boot := ""
		if t.Boot {
			boot = "boot"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", t.Name, t.Priority, sourceName(t), boot)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	var order []string
	for _, r := range p.Resources {
		if r.Class == ExclusiveLocked {
			order = append(order, r.Name)
		}
	}
	if len(order) > 0 {
		fmt.Fprintf(w, "\nlock order: %s\n", strings.Join(order, " < "))
	}

	budget := "unlimited"
	if p.Memory > 0 {
		budget = units.BytesSize(float64(p.Memory))
	}
	_, err := fmt.Fprintf(w, "\nstatic storage: %s of %s, %d priority levels\n", units.BytesSize(float64(p.Used)), budget, p.Levels)
	return err
}
