package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
	"github.com/kirillkom/marketplace-categorizer/internal/infrastructure/queue/nats"
)

func newMarketplacesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "marketplaces",
		Short: "List loaded marketplaces and their leaf counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := opts.loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			tw := tabwriter.NewWriter(opts.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MARKETPLACE\tLEAVES")
			for _, m := range app.Taxonomies.Marketplaces() {
				fmt.Fprintf(tw, "%s\t%d\n", m.Name, m.Leaves)
			}
			return tw.Flush()
		},
	}
}

func newLeavesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "leaves <marketplace>",
		Short: "Print the flattened leaf categories of a marketplace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			tax, err := app.Taxonomies.Taxonomy(args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(opts.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDEPTH\tPATH")
			for _, leaf := range tax.Leaves {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", leaf.ID, leaf.Depth, leaf.PathString())
			}
			return tw.Flush()
		},
	}
}

func newShortlistCmd(opts *rootOptions) *cobra.Command {
	var (
		file string
		k    int
	)
	cmd := &cobra.Command{
		Use:   "shortlist <marketplace>",
		Short: "Score candidate leaves for a product without calling a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			product, err := opts.readProduct(file)
			if err != nil {
				return err
			}
			app, err := opts.loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			candidates, err := app.ClassifyUC.Shortlist(args[0], product, k)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(opts.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SCORE\tID\tPATH")
			for _, c := range candidates {
				fmt.Fprintf(tw, "%.3f\t%s\t%s\n", c.Score, c.Leaf.ID, c.Leaf.PathString())
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "product JSON file, - for stdin")
	cmd.Flags().IntVarP(&k, "k", "k", 0, "shortlist size (default $SHORTLIST_K)")
	return cmd
}

func newClassifyCmd(opts *rootOptions) *cobra.Command {
	var (
		file       string
		provider   string
		confidence bool
	)
	cmd := &cobra.Command{
		Use:   "classify [marketplace]",
		Short: "Classify a product for one marketplace, or for all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			product, err := opts.readProduct(file)
			if err != nil {
				return err
			}
			app, err := opts.loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			req := domain.ClassifyRequest{Product: product, Provider: provider, IncludeConfidence: confidence}
			if len(args) == 1 {
				req.Marketplace = args[0]
				result, err := app.ClassifyUC.Classify(cmd.Context(), req)
				if err != nil {
					return err
				}
				return opts.printJSON(result)
			}
			results, err := app.ClassifyUC.ClassifyAll(cmd.Context(), req)
			if err != nil {
				return err
			}
			return opts.printJSON(results)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "product JSON file, - for stdin")
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "model provider (default $MODEL_PROVIDER)")
	cmd.Flags().BoolVar(&confidence, "confidence", false, "ask the model for a confidence score")
	return cmd
}

func newSubmitCmd(opts *rootOptions) *cobra.Command {
	var (
		file     string
		provider string
		wait     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit [marketplace]",
		Short: "Queue a classification job for the worker over NATS",
		Long:  "Queue a classification job. With --wait the command blocks for the worker reply; otherwise it prints the job id and the worker publishes the result on $NATS_RESULT_SUBJECT.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			product, err := opts.readProduct(file)
			if err != nil {
				return err
			}
			cfg := opts.config()
			queue, err := nats.New(cfg.NATSURL, cfg.NATSClassifySubject, nats.Options{ResultSubject: cfg.NATSResultSubject})
			if err != nil {
				return err
			}
			defer queue.Close()

			job := nats.ClassifyJob{Product: product, Provider: provider}
			if len(args) == 1 {
				job.Marketplace = args[0]
			}
			if wait <= 0 {
				id, err := queue.SubmitClassifyJob(cmd.Context(), job)
				if err != nil {
					return err
				}
				return opts.printJSON(map[string]string{"job_id": id})
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			reply, err := queue.RequestClassification(ctx, job)
			if err != nil {
				return err
			}
			return opts.printJSON(reply)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "product JSON file, - for stdin")
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "model provider override")
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait this long for the worker reply")
	return cmd
}
