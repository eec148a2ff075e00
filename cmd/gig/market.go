package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gigescrow/internal/domain"
	"gigescrow/internal/engine"
	"gigescrow/internal/repo"
)

// actorCommand runs fn with the caller identity and an engine.
func actorCommand(fn func(ctx context.Context, e engine.Engine, actor string, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		actor, err := requireActor()
		if err != nil {
			return err
		}
		return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
			return fn(ctx, e, actor, args)
		})
	}
}

func jobCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "job", Short: "Post, inspect and cancel jobs"}
	cmd.AddCommand(jobCreateCmd())
	cmd.AddCommand(jobListCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				job, err := e.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(job)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job, refunding funded milestones to the client",
		Args:  cobra.ExactArgs(1),
		RunE: actorCommand(func(ctx context.Context, e engine.Engine, actor string, args []string) error {
			job, err := e.CancelJob(ctx, args[0], actor)
			if err != nil {
				return err
			}
			return printJSONOrTable(job)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "escrow <job-id>",
		Short: "Amount held in escrow for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				held, err := e.VaultBalance(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"job_id": args[0], "held": held})
			})
		},
	})
	return cmd
}

func jobCreateCmd() *cobra.Command {
	var opts engine.CreateJobOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Post a job as --actor-id",
		RunE: actorCommand(func(ctx context.Context, e engine.Engine, actor string, _ []string) error {
			opts.Client = actor
			job, err := e.CreateJob(ctx, opts)
			if err != nil {
				return err
			}
			return printJSONOrTable(job)
		}),
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "job title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().Uint64Var(&opts.Budget, "budget", 0, "budget in minor units")
	cmd.Flags().StringVar(&opts.Deadline, "deadline", "", "RFC3339 deadline")
	cmd.Flags().StringSliceVar(&opts.Skills, "skill", nil, "required skill (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Attachments, "attachment", nil, "attachment content hash (repeatable)")
	_ = cmd.MarkFlagRequired("budget")
	return cmd
}

func jobListCmd() *cobra.Command {
	var f repo.JobFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				jobs, err := e.ListJobs(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := newTable("ID", "Title", "Status", "Client", "Freelancer", "Budget")
				for _, j := range jobs {
					tw.AppendRow(table.Row{j.ID, j.Title, j.Status, j.ClientID, j.Freelancer(), j.Budget})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ClientID, "client", "", "client filter")
	cmd.Flags().StringVar(&f.FreelancerID, "freelancer", "", "freelancer filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func proposalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "proposal", Short: "Bid on jobs and pick a freelancer"}

	var opts engine.SubmitProposalOptions
	submit := &cobra.Command{
		Use:   "submit <job-id>",
		Short: "Bid on an open job as --actor-id",
		Args:  cobra.ExactArgs(1),
		RunE: actorCommand(func(ctx context.Context, e engine.Engine, actor string, args []string) error {
			opts.JobID = args[0]
			opts.Freelancer = actor
			p, err := e.SubmitProposal(ctx, opts)
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		}),
	}
	submit.Flags().Uint64Var(&opts.Price, "price", 0, "quoted price in minor units")
	submit.Flags().StringVar(&opts.EstimatedTime, "estimate", "", "estimated time")
	submit.Flags().StringVar(&opts.CoverLetter, "cover-letter", "", "cover letter")
	cmd.AddCommand(submit)

	var status string
	list := &cobra.Command{
		Use:   "list <job-id>",
		Short: "List proposals in submission order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProposals(ctx, args[0], domain.ProposalStatus(status))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Freelancer", "Price", "Estimate", "Status")
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.FreelancerID, p.Price, p.EstimatedTime, p.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "status filter (pending lists active proposals)")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "accept <job-id> <proposal-id>",
		Short: "Accept a proposal as the job's client",
		Args:  cobra.ExactArgs(2),
		RunE: actorCommand(func(ctx context.Context, e engine.Engine, actor string, args []string) error {
			job, err := e.AcceptProposal(ctx, args[0], actor, args[1])
			if err != nil {
				return err
			}
			return printJSONOrTable(job)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "withdraw <job-id> <proposal-id>",
		Short: "Withdraw your pending proposal",
		Args:  cobra.ExactArgs(2),
		RunE: actorCommand(func(ctx context.Context, e engine.Engine, actor string, args []string) error {
			p, err := e.WithdrawProposal(ctx, args[0], args[1], actor)
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		}),
	})
	return cmd
}

func milestoneCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "milestone", Short: "Split a job into escrowed milestones"}

	var opts engine.CreateMilestoneOptions
	create := &cobra.Command{
		Use:   "create <job-id>",
		Short: "Add a milestone as the job's client",
		Args:  cobra.ExactArgs(1),
		RunE: actorCommand(func(ctx context.Context, e engine.Engine, actor string, args []string) error {
			opts.JobID = args[0]
			opts.Caller = actor
			m, err := e.CreateMilestone(ctx, opts)
			if err != nil {
				return err
			}
			return printJSONOrTable(m)
		}),
	}
	create.Flags().Uint64Var(&opts.Amount, "amount", 0, "amount in minor units")
	create.Flags().StringVar(&opts.Description, "description", "", "description")
	create.Flags().StringVar(&opts.Deadline, "deadline", "", "RFC3339 deadline")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "list <job-id>",
		Short: "List milestones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListMilestones(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Description", "Amount", "Status", "Payment")
				for _, m := range items {
					payment := ""
					if m.PaymentID != nil {
						payment = *m.PaymentID
					}
					tw.AppendRow(table.Row{m.ID, m.Description, m.Amount, m.Status, payment})
				}
				tw.Render()
				return nil
			})
		},
	})

	var funds uint64
	fund := &cobra.Command{
		Use:   "fund <job-id> <milestone-id>",
		Short: "Deposit a milestone into escrow",
		Args:  cobra.ExactArgs(2),
		RunE: actorCommand(func(ctx context.Context, e engine.Engine, actor string, args []string) error {
			p, err := e.FundMilestoneWith(ctx, args[0], args[1], actor, funds)
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		}),
	}
	fund.Flags().Uint64Var(&funds, "funds", 0, "amount sent; must equal the milestone amount (default: the milestone amount)")
	cmd.AddCommand(fund)

	cmd.AddCommand(&cobra.Command{
		Use:   "release <job-id> <milestone-id>",
		Short: "Pay a funded milestone to the freelancer",
		Args:  cobra.ExactArgs(2),
		RunE: actorCommand(func(ctx context.Context, e engine.Engine, actor string, args []string) error {
			res, err := e.ReleaseMilestone(ctx, args[0], args[1], actor)
			if err != nil {
				return err
			}
			return printJSONOrTable(res)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <job-id> <milestone-id>",
		Short: "Cancel a milestone, refunding it when funded",
		Args:  cobra.ExactArgs(2),
		RunE: actorCommand(func(ctx context.Context, e engine.Engine, actor string, args []string) error {
			m, err := e.CancelMilestone(ctx, args[0], args[1], actor)
			if err != nil {
				return err
			}
			return printJSONOrTable(m)
		}),
	})
	return cmd
}

func paymentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "payment", Short: "Inspect escrow payments"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <job-id>",
		Short: "List escrow payments for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListPayments(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Milestone", "Amount", "Status", "Payout", "Fee")
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.MilestoneID, p.Amount, p.Status, p.Payout, p.Fee})
				}
				tw.Render()
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <payment-id>",
		Short: "Show an escrow payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetPayment(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	})
	return cmd
}

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "review", Short: "Rate the other party of a completed job"}
	var opts engine.SubmitReviewOptions
	submit := &cobra.Command{
		Use:   "submit <job-id>",
		Short: "Submit a review as --actor-id",
		Args:  cobra.ExactArgs(1),
		RunE: actorCommand(func(ctx context.Context, e engine.Engine, actor string, args []string) error {
			opts.JobID = args[0]
			opts.Caller = actor
			rv, err := e.SubmitReview(ctx, opts)
			if err != nil {
				return err
			}
			return printJSONOrTable(rv)
		}),
	}
	submit.Flags().IntVar(&opts.Rating, "rating", 0, "rating from 1 to 5")
	submit.Flags().StringVar(&opts.Comment, "comment", "", "comment")
	_ = submit.MarkFlagRequired("rating")
	cmd.AddCommand(submit)
	cmd.AddCommand(&cobra.Command{
		Use:   "list <job-id>",
		Short: "List reviews for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListReviews(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	return cmd
}

func reputationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reputation <party-id>",
		Short: "Show a party's aggregate rating",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.GetReputation(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				fmt.Printf("%s: %.2f average over %d reviews\n", rep.PartyID, rep.Average, rep.ReviewCount)
				return nil
			})
		},
	}
}

func accountCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "account", Short: "Balances and the transfer ledger"}

	var amount uint64
	fund := &cobra.Command{
		Use:   "fund <party-id>",
		Short: "Credit an account (deployment owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: actorCommand(func(ctx context.Context, e engine.Engine, actor string, args []string) error {
			acct, err := e.FundAccount(ctx, args[0], amount, actor)
			if err != nil {
				return err
			}
			return printJSONOrTable(acct)
		}),
	}
	fund.Flags().Uint64Var(&amount, "amount", 0, "amount in minor units")
	_ = fund.MarkFlagRequired("amount")
	cmd.AddCommand(fund)

	cmd.AddCommand(&cobra.Command{
		Use:   "balance <party-id>",
		Short: "Show an account balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				acct, err := e.Balance(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(acct)
			})
		},
	})

	var f repo.LedgerFilters
	ledger := &cobra.Command{
		Use:   "ledger",
		Short: "List ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.LedgerEntries(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable("ID", "Transfer", "Party", "Type", "Amount", "Balance", "Memo", "Job")
				for _, en := range entries {
					tw.AppendRow(table.Row{en.ID, en.TransferID, en.PartyID, en.EntryType, en.Amount, en.Balance, en.Memo, en.JobID})
				}
				tw.Render()
				return nil
			})
		},
	}
	ledger.Flags().StringVar(&f.PartyID, "party", "", "party filter")
	ledger.Flags().StringVar(&f.JobID, "job", "", "job filter")
	ledger.Flags().StringVar(&f.TransferID, "transfer", "", "transfer filter")
	ledger.Flags().IntVar(&f.Limit, "limit", 0, "maximum rows")
	cmd.AddCommand(ledger)
	return cmd
}
