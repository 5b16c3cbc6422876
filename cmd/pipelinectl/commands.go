package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/delivery-pipeline/internal/bootstrap"
	"github.com/example/delivery-pipeline/internal/delivery"
	"github.com/example/delivery-pipeline/internal/ingest"
	"github.com/example/delivery-pipeline/internal/message"
)

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the message table or collection indexes for the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, st, _, closer, err := a.setup(cmd.Context())
			if err != nil {
				return err
			}
			defer closer()
			if err := bootstrap.Migrate(cmd.Context(), st); err != nil {
				return fmt.Errorf("migrate %s store: %w", cfg.Store.Driver, err)
			}
			fmt.Fprintf(a.out, "migration complete (%s)\n", cfg.Store.Driver)
			return nil
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <message-id>",
		Short: "Show the delivery status of one message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, q, closer, err := a.setup(cmd.Context())
			if err != nil {
				return err
			}
			defer closer()
			view, err := ingest.NewService(st, q, a.logger).Status(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("status %s: %w", args[0], err)
			}
			return a.print(view)
		},
	}
}

func (a *app) leadCmd() *cobra.Command {
	return a.correlationCmd("lead <lead-id>", "List messages sent for a lead", func(id string) message.CorrelationRef {
		return message.CorrelationRef{LeadID: id}
	})
}

func (a *app) campaignCmd() *cobra.Command {
	return a.correlationCmd("campaign <campaign-id>", "List messages sent for a campaign", func(id string) message.CorrelationRef {
		return message.CorrelationRef{CampaignID: id}
	})
}

func (a *app) correlationCmd(use, short string, ref func(string) message.CorrelationRef) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, q, closer, err := a.setup(cmd.Context())
			if err != nil {
				return err
			}
			defer closer()
			views, err := ingest.NewService(st, q, a.logger).ByCorrelation(cmd.Context(), ref(args[0]))
			if err != nil {
				return err
			}
			return a.print(views)
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List messages in a given status, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, st, _, closer, err := a.setup(cmd.Context())
			if err != nil {
				return err
			}
			defer closer()
			msgs, err := st.FindByStatus(cmd.Context(), message.Status(status), limit)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				fmt.Fprintf(a.out, "%s\t%s\t%s\tretries=%d\t%s\n",
					m.ID, m.Channel, m.Status(), m.RetryCount(), m.ErrorMessage())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", string(message.StatusFailed), "status to list")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of messages")
	return cmd
}

func (a *app) reconcileCmd() *cobra.Command {
	var staleAfter time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Re-enqueue pending messages that have not moved for a while",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, st, q, closer, err := a.setup(cmd.Context())
			if err != nil {
				return err
			}
			defer closer()
			if staleAfter <= 0 {
				staleAfter = cfg.Worker.StaleAfter
			}
			if floor := cfg.MinStaleAfter(); staleAfter < floor {
				return fmt.Errorf("--stale-after %s is below %s and would race scheduled retries", staleAfter, floor)
			}
			r := &delivery.Reconciler{Store: st, Queue: q, StaleAfter: staleAfter, Logger: a.logger, Now: a.now}
			n, err := r.Tick(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "re-enqueued %d message(s)\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&staleAfter, "stale-after", 0, "minimum age since last update (defaults to WORKER_STALE_AFTER)")
	return cmd
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
