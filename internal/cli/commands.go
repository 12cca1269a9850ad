package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/gigkeys/pkg/requestid"
	"github.com/dmitrymomot/gigkeys/pkg/subscription"
)

// session builds a manager for the command and loads the subscription.
func (o *options) session(cmd *cobra.Command) (context.Context, *subscription.Manager, error) {
	ctx, _ := requestid.Ensure(cmd.Context())
	m, err := o.manager(ctx, printNotices(cmd.OutOrStdout()))
	if err != nil {
		return nil, nil, err
	}
	if err := m.Refresh(ctx); err != nil {
		return nil, nil, err
	}
	return ctx, m, nil
}

func (o *options) plan(arg string) (subscription.Plan, error) {
	p, ok := o.catalog.Plan(subscription.PlanID(arg))
	if !ok {
		return subscription.Plan{}, fmt.Errorf("%w: %s", subscription.ErrPlanNotFound, arg)
	}
	return p, nil
}

func newStatusCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the subscription screen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, m, err := o.session(cmd)
			if err != nil {
				return err
			}
			renderView(cmd.OutOrStdout(), m.View())
			return nil
		},
	}
}

func newPlansCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List the plan catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			renderPlans(cmd.OutOrStdout(), o.catalog.Plans())
			return nil
		},
	}
}

func newMethodsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "methods",
		Short: "List stored payment methods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, m, err := o.session(cmd)
			if err != nil {
				return err
			}
			pm, err := m.PaymentMethods(ctx)
			if err != nil {
				return err
			}
			renderMethods(cmd.OutOrStdout(), pm)
			return nil
		},
	}
}

func newSubscribeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe <plan-id>",
		Short: "Subscribe to a plan with a new card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := o.plan(args[0])
			if err != nil {
				return err
			}
			ctx, m, err := o.session(cmd)
			if err != nil {
				return err
			}
			if err := m.StartSubscription(ctx, plan.PriceID); err != nil {
				return err
			}
			renderView(cmd.OutOrStdout(), m.View())
			return nil
		},
	}
}

func newChangeCmd(o *options) *cobra.Command {
	var method string

	cmd := &cobra.Command{
		Use:   "change <plan-id>",
		Short: "Upgrade, downgrade or reactivate the subscription",
		Long: "Change the plan of an active subscription. Upgrades apply immediately, " +
			"downgrades at the end of the billing period. Picking the current plan of a " +
			"canceling subscription reactivates it.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := o.plan(args[0])
			if err != nil {
				return err
			}
			ctx, m, err := o.session(cmd)
			if err != nil {
				return err
			}

			outcome, err := m.ChangePlan(ctx, plan.ID)
			if err != nil {
				return err
			}
			if outcome == subscription.ChangeAwaitingPayment {
				if err := m.ConfirmPlanChange(ctx, subscription.ParsePaymentChoice(method)); err != nil {
					return err
				}
			}
			renderView(cmd.OutOrStdout(), m.View())
			return nil
		},
	}
	cmd.Flags().StringVar(&method, "payment-method", "default", `payment method: "default", "new" or a stored method id`)
	return cmd
}

func newCancelCmd(o *options) *cobra.Command {
	return cancellationCmd(o, "cancel", "Cancel the subscription at the end of the billing period", true)
}

func newReactivateCmd(o *options) *cobra.Command {
	return cancellationCmd(o, "reactivate", "Undo a pending cancellation", false)
}

func cancellationCmd(o *options, use, short string, cancel bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, m, err := o.session(cmd)
			if err != nil {
				return err
			}
			if err := m.SetCancellation(ctx, cancel); err != nil {
				return err
			}
			renderView(cmd.OutOrStdout(), m.View())
			return nil
		},
	}
}
