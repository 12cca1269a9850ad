package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dmitrymomot/gigkeys/pkg/subscription"
)

// printNotices writes manager toasts to w.
func printNotices(w io.Writer) subscription.Notifier {
	return subscription.NotifierFunc(func(_ context.Context, n subscription.Notice) {
		fmt.Fprintf(w, "[%s] %s\n", n.Level, n.Message)
	})
}

func renderView(w io.Writer, v subscription.View) {
	fmt.Fprintf(w, "State: %s\n", v.State)
	if v.Copy.Badge != "" {
		fmt.Fprintf(w, "[%s]\n", v.Copy.Badge)
	}
	fmt.Fprintln(w, v.Copy.Headline)
	if v.Copy.Status != "" {
		fmt.Fprintln(w, v.Copy.Status)
	}
	if v.Copy.Notice != "" {
		fmt.Fprintf(w, "Note: %s\n", v.Copy.Notice)
	}
	fmt.Fprintln(w)
	renderOptions(w, v.Options)
}

func renderOptions(w io.Writer, opts []subscription.PlanOption) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLAN\tID\tPRICE\tKEYS\tBUTTON")
	for _, o := range opts {
		button := o.Label
		if o.Disabled {
			button += " (disabled)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", o.Plan.Name, o.Plan.ID, o.PriceLabel, o.Plan.KeyAllowance, button)
	}
	_ = tw.Flush()
}

func renderPlans(w io.Writer, plans []subscription.Plan) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRICE\tKEYS\tPRICE ID")
	for _, p := range plans {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", p.ID, p.Name, p.PriceLabel(), p.KeyAllowance, p.PriceID)
	}
	_ = tw.Flush()
}

func renderMethods(w io.Writer, pm *subscription.PaymentMethods) {
	if pm == nil || len(pm.Methods) == 0 {
		fmt.Fprintln(w, "No payment methods on file.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tCARD\tEXPIRES\tID")
	for _, m := range pm.Methods {
		mark := " "
		if m.ID == pm.DefaultID {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", mark, m.Label(), m.Expiry(), m.ID)
	}
	_ = tw.Flush()
	if others := pm.Others(); len(others) > 0 {
		ids := make([]string, len(others))
		for i, m := range others {
			ids[i] = m.ID
		}
		fmt.Fprintf(w, "Offered for plan changes: default, %s, new\n", strings.Join(ids, ", "))
	}
}
