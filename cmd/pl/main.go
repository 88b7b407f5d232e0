package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"phaseline/internal/app"
	"phaseline/internal/config"
	"phaseline/internal/db"
	"phaseline/internal/domain"
	"phaseline/internal/engine"
	"phaseline/internal/engine/authority"
	"phaseline/internal/repo"
	"phaseline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Phaseline CLI",
	Long: `Phaseline governs IT project requests from intake to closure.
- Requests: drafted by a requester, approved by the business sponsor, then
  validated by IT. IT approval creates the project automatically.
- Projects: move through analysis -> planning -> execution -> acceptance ->
  closure, with deliverable gates and dual charter/plan sign-off.
- Closure: a tri-party workflow (requester, business, IT) where IT holds veto.
- Delegations: time-bounded handoffs of validation or management authority.
- Event log: every transition is recorded, view with 'pl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PHASELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().StringSlice("roles", nil, "actor roles (comma separated)")
	rootCmd.PersistentFlags().String("actor-direction", "", "actor business direction")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("roles", rootCmd.PersistentFlags().Lookup("roles"))
	_ = viper.BindPFlag("actor-direction", rootCmd.PersistentFlags().Lookup("actor-direction"))
}

func registerCommands() {
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(closureCmd())
	rootCmd.AddCommand(delegationCmd())
	rootCmd.AddCommand(portfolioCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func principal() authority.Principal {
	return authority.Principal{
		ActorID:     viper.GetString("actor-id"),
		Roles:       viper.GetStringSlice("roles"),
		DirectionID: viper.GetString("actor-direction"),
	}
}

func requestCmd() *cobra.Command {
	req := &cobra.Command{
		Use:   "request",
		Short: "Manage project requests",
		Long:  "Requests flow draft -> pending_business -> pending_it -> validated_by_it. Rejections are terminal but clonable; corrections and returns loop back for rework.",
	}
	req.AddCommand(requestCreateCmd())
	req.AddCommand(requestListCmd())
	req.AddCommand(requestShowCmd())
	req.AddCommand(requestSubmitCmd())
	req.AddCommand(requestBusinessApproveCmd())
	req.AddCommand(requestDecisionCmd("business-reject", "Reject as business sponsor", engine.Engine.BusinessReject))
	req.AddCommand(requestDecisionCmd("request-correction", "Request corrections as business sponsor", engine.Engine.BusinessRequestCorrection))
	req.AddCommand(requestITApproveCmd())
	req.AddCommand(requestDecisionCmd("it-reject", "Reject as IT validator", engine.Engine.ITReject))
	req.AddCommand(requestDecisionCmd("return-to-requester", "Return to requester for documents", engine.Engine.ITReturnToRequester))
	req.AddCommand(requestDecisionCmd("return-to-business", "Return to business for re-approval", engine.Engine.ITReturnToBusiness))
	req.AddCommand(requestAddDocsCmd())
	req.AddCommand(requestCloneCmd())
	return req
}

func requestCreateCmd() *cobra.Command {
	var opts engine.RequestCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.CreateRequest(ctx, opts, principal())
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "request id (optional)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Context, "context", "", "business context")
	cmd.Flags().StringVar(&opts.Objectives, "objectives", "", "objectives")
	cmd.Flags().StringVar(&opts.Benefits, "benefits", "", "expected benefits")
	cmd.Flags().StringVar(&opts.Scope, "scope", "", "scope")
	cmd.Flags().StringVar(&opts.Urgency, "urgency", "", "urgency (low, medium, high)")
	cmd.Flags().StringVar(&opts.Criticality, "criticality", "", "criticality (low, medium, high)")
	cmd.Flags().StringVar(&opts.DesiredDate, "desired-date", "", "desired date (RFC3339)")
	cmd.Flags().StringVar(&opts.DirectionID, "direction", "", "requesting direction id")
	cmd.Flags().StringVar(&opts.SponsorID, "sponsor", "", "business sponsor id")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("sponsor")
	return cmd
}

func requestListCmd() *cobra.Command {
	var f repo.RequestFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListRequests(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Requester", "Sponsor"})
				for _, q := range items {
					tw.AppendRow(table.Row{q.ID, q.Title, q.Status, q.RequesterID, q.SponsorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.RequesterID, "requester", "", "requester filter")
	cmd.Flags().StringVar(&f.SponsorID, "sponsor", "", "sponsor filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func requestShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.Repo.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	return cmd
}

func requestSubmitCmd() *cobra.Command {
	var override bool
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit for business review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.SubmitRequest(ctx, args[0], principal(), override)
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	cmd.Flags().BoolVar(&override, "override-duplicate", false, "submit despite similar existing requests")
	return cmd
}

func requestBusinessApproveCmd() *cobra.Command {
	var title, description, objectives, benefits string
	cmd := &cobra.Command{
		Use:   "business-approve <id>",
		Short: "Approve as business sponsor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var amend engine.RequestAmendments
			if cmd.Flags().Changed("title") {
				amend.Title = &title
			}
			if cmd.Flags().Changed("description") {
				amend.Description = &description
			}
			if cmd.Flags().Changed("objectives") {
				amend.Objectives = &objectives
			}
			if cmd.Flags().Changed("benefits") {
				amend.Benefits = &benefits
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.BusinessApprove(ctx, args[0], principal(), amend)
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "amend title")
	cmd.Flags().StringVar(&description, "description", "", "amend description")
	cmd.Flags().StringVar(&objectives, "objectives", "", "amend objectives")
	cmd.Flags().StringVar(&benefits, "benefits", "", "amend benefits")
	return cmd
}

func requestDecisionCmd(use, short string, fn func(engine.Engine, context.Context, string, authority.Principal, string) (domain.Request, error)) *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := fn(e, ctx, args[0], principal(), comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "decision comment (required on rejection or return)")
	return cmd
}

func projectApprovalCmd(use, short string, fn func(engine.Engine, context.Context, string, authority.Principal) (domain.Project, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := fn(e, ctx, args[0], principal())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func requestITApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "it-approve <id>",
		Short: "Validate as IT; creates the project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, project, err := e.ITApprove(ctx, args[0], principal())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"request": q, "project": project})
			})
		},
	}
	return cmd
}

func requestAddDocsCmd() *cobra.Command {
	var names, categories, uris []string
	cmd := &cobra.Command{
		Use:   "add-docs <id>",
		Short: "Attach documents and resume the flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := buildDocs(names, categories, uris)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.AddDocuments(ctx, args[0], principal(), docs)
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	cmd.Flags().StringArrayVar(&names, "name", []string{}, "document name (repeatable)")
	cmd.Flags().StringArrayVar(&categories, "category", []string{}, "document category (parallel to --name)")
	cmd.Flags().StringArrayVar(&uris, "uri", []string{}, "document uri (parallel to --name)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func requestCloneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clone <id>",
		Short: "Clone a rejected request into a new draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.CloneRequest(ctx, args[0], principal())
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
		Long:  "Projects are created by IT validation and advance phase by phase. Charter and plan each need business and IT sign-off; deliverable gates guard phase entry.",
	}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectCharterCmd())
	prj.AddCommand(projectApprovalCmd("approve-plan-business", "Approve the plan as business", engine.Engine.ApprovePlanBusiness))
	prj.AddCommand(projectApprovalCmd("approve-plan-it", "Approve the plan as IT", engine.Engine.ApprovePlanIT))
	prj.AddCommand(projectApprovalCmd("approve-acceptance", "Approve acceptance as sponsor", engine.Engine.ApproveAcceptance))
	prj.AddCommand(projectAdvanceCmd())
	prj.AddCommand(projectManagerCmd())
	prj.AddCommand(projectScheduleCmd())
	prj.AddCommand(projectProgressCmd())
	prj.AddCommand(projectClosureNotesCmd())
	prj.AddCommand(projectForceStatusCmd())
	prj.AddCommand(projectHistoryCmd())
	prj.AddCommand(projectAddDocsCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	var f repo.ProjectFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Title", "Phase", "Status", "Progress", "RAG"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.Code, p.Title, p.Phase, p.Status, fmt.Sprintf("%d%%", p.ProgressPercent), p.RAG})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.PortfolioID, "portfolio", "", "portfolio filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Phase, "phase", "", "phase filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectCharterCmd() *cobra.Command {
	var side, comment string
	var reject bool
	cmd := &cobra.Command{
		Use:   "charter <id>",
		Short: "Record a charter decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				switch side {
				case "business":
					p, err := e.ValidateCharterBusiness(ctx, args[0], principal(), !reject, comment)
					if err != nil {
						return err
					}
					return printJSONOrTable(p)
				case "it":
					p, err := e.ValidateCharterIT(ctx, args[0], principal(), !reject, comment)
					if err != nil {
						return err
					}
					return printJSONOrTable(p)
				default:
					return fmt.Errorf("--side must be business or it")
				}
			})
		},
	}
	cmd.Flags().StringVar(&side, "side", "", "which approval to record (business, it)")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject instead of approve")
	cmd.Flags().StringVar(&comment, "comment", "", "comment (required on rejection)")
	_ = cmd.MarkFlagRequired("side")
	return cmd
}

func projectAdvanceCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "advance <id>",
		Short: "Advance to the next phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.AdvancePhase(ctx, args[0], principal(), comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "transition comment")
	return cmd
}

func projectManagerCmd() *cobra.Command {
	var managerID string
	cmd := &cobra.Command{
		Use:   "set-manager <id>",
		Short: "Assign the project manager",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.AssignManager(ctx, args[0], principal(), managerID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&managerID, "manager", "", "manager actor id")
	_ = cmd.MarkFlagRequired("manager")
	return cmd
}

func projectScheduleCmd() *cobra.Command {
	var plannedEnd string
	cmd := &cobra.Command{
		Use:   "set-schedule <id>",
		Short: "Set the planned end date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SetSchedule(ctx, args[0], principal(), plannedEnd)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&plannedEnd, "planned-end", "", "planned end date (RFC3339)")
	_ = cmd.MarkFlagRequired("planned-end")
	return cmd
}

func projectProgressCmd() *cobra.Command {
	var percent int
	cmd := &cobra.Command{
		Use:   "set-progress <id>",
		Short: "Update progress percent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SetProgress(ctx, args[0], principal(), percent)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().IntVar(&percent, "percent", 0, "progress percent (0-100)")
	_ = cmd.MarkFlagRequired("percent")
	return cmd
}

func projectClosureNotesCmd() *cobra.Command {
	var summary, lessons string
	cmd := &cobra.Command{
		Use:   "closure-notes <id>",
		Short: "Record closure summary and lessons learned",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SetClosureNotes(ctx, args[0], principal(), summary, lessons)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&summary, "summary", "", "closure summary")
	cmd.Flags().StringVar(&lessons, "lessons", "", "lessons learned")
	_ = cmd.MarkFlagRequired("summary")
	_ = cmd.MarkFlagRequired("lessons")
	return cmd
}

func projectForceStatusCmd() *cobra.Command {
	var status, comment string
	cmd := &cobra.Command{
		Use:   "force-status <id>",
		Short: "Administratively close or cancel (IT only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.ForceStatus(ctx, args[0], principal(), status, comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "target status (closed, cancelled)")
	cmd.Flags().StringVar(&comment, "comment", "", "mandatory comment")
	_ = cmd.MarkFlagRequired("status")
	_ = cmd.MarkFlagRequired("comment")
	return cmd
}

func projectHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show phase history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListPhaseHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Phase", "Status", "Actor", "Comment"})
				for _, h := range items {
					tw.AppendRow(table.Row{h.TS, h.Phase, h.Status, h.ActorID, h.Comment})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectAddDocsCmd() *cobra.Command {
	var names, categories, uris []string
	cmd := &cobra.Command{
		Use:   "add-docs <id>",
		Short: "Attach project deliverables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := buildDocs(names, categories, uris)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.AddProjectDocuments(ctx, args[0], principal(), docs)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringArrayVar(&names, "name", []string{}, "document name (repeatable)")
	cmd.Flags().StringArrayVar(&categories, "category", []string{}, "document category (parallel to --name)")
	cmd.Flags().StringArrayVar(&uris, "uri", []string{}, "document uri (parallel to --name)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func closureCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "closure",
		Short: "Tri-party closure workflow",
		Long:  "Closure needs (requester OR business) AND IT approval. An IT rejection resets the attempt and sends the project back to acceptance.",
	}
	c.AddCommand(closureRequestCmd())
	c.AddCommand(closureShowCmd())
	c.AddCommand(closureDecideCmd())
	return c
}

func closureRequestCmd() *cobra.Command {
	var desiredDate string
	cmd := &cobra.Command{
		Use:   "request <project-id>",
		Short: "Open the closure workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.RequestClosure(ctx, args[0], principal(), desiredDate)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&desiredDate, "desired-date", "", "desired closure date (RFC3339)")
	return cmd
}

func closureShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show closure requests for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListClosureRequests(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func closureDecideCmd() *cobra.Command {
	var slot, comment string
	var reject bool
	cmd := &cobra.Command{
		Use:   "decide <project-id>",
		Short: "Record one party's closure verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.ApproveClosureSlot(ctx, args[0], principal(), slot, !reject, comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&slot, "slot", "", "which verdict (requester, business, it)")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject instead of approve")
	cmd.Flags().StringVar(&comment, "comment", "", "comment (required on rejection)")
	_ = cmd.MarkFlagRequired("slot")
	return cmd
}

func delegationCmd() *cobra.Command {
	d := &cobra.Command{
		Use:   "delegation",
		Short: "Manage authority delegations",
		Long:  "Validation delegations hand IT request-validation to a delegate for a window. Manager delegations hand a single project's management authority, optionally until closure.",
	}
	d.AddCommand(delegationGrantValidationCmd())
	d.AddCommand(delegationRevokeValidationCmd())
	d.AddCommand(delegationGrantManagerCmd())
	d.AddCommand(delegationRevokeManagerCmd())
	d.AddCommand(delegationListCmd())
	return d
}

func delegationListCmd() *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List delegations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				validations, err := e.Repo.ListValidationDelegations(ctx)
				if err != nil {
					return err
				}
				managers, err := e.Repo.ListManagerDelegations(ctx, project)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"validation": validations, "manager": managers})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Kind", "ID", "Project", "Delegate", "Starts", "Ends", "Active"})
				for _, d := range validations {
					tw.AppendRow(table.Row{"validation", d.ID, "", d.DelegateID, d.StartsAt, d.EndsAt, d.Active})
				}
				for _, d := range managers {
					ends := ""
					if d.EndsAt != nil {
						ends = *d.EndsAt
					}
					tw.AppendRow(table.Row{"manager", d.ID, d.ProjectID, d.DelegateID, d.StartsAt, ends, d.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "filter manager grants by project")
	return cmd
}

func delegationGrantValidationCmd() *cobra.Command {
	var delegate, startsAt, endsAt string
	cmd := &cobra.Command{
		Use:   "grant-validation",
		Short: "Delegate IT validation authority",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.GrantValidationDelegation(ctx, principal(), delegate, startsAt, endsAt)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&delegate, "delegate", "", "delegate actor id")
	cmd.Flags().StringVar(&startsAt, "starts-at", "", "window start (RFC3339)")
	cmd.Flags().StringVar(&endsAt, "ends-at", "", "window end (RFC3339)")
	_ = cmd.MarkFlagRequired("delegate")
	_ = cmd.MarkFlagRequired("starts-at")
	_ = cmd.MarkFlagRequired("ends-at")
	return cmd
}

func delegationRevokeValidationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke-validation <id>",
		Short: "Revoke a validation delegation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RevokeValidationDelegation(ctx, args[0], principal())
			})
		},
	}
	return cmd
}

func delegationGrantManagerCmd() *cobra.Command {
	var project, delegate, startsAt, endsAt string
	cmd := &cobra.Command{
		Use:   "grant-manager",
		Short: "Delegate project management authority",
		RunE: func(cmd *cobra.Command, args []string) error {
			var end *string
			if endsAt != "" {
				end = &endsAt
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.GrantManagerDelegation(ctx, project, principal(), delegate, startsAt, end)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project id")
	cmd.Flags().StringVar(&delegate, "delegate", "", "delegate actor id")
	cmd.Flags().StringVar(&startsAt, "starts-at", "", "window start (RFC3339)")
	cmd.Flags().StringVar(&endsAt, "ends-at", "", "window end (RFC3339, omit for until-closure)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("delegate")
	_ = cmd.MarkFlagRequired("starts-at")
	return cmd
}

func delegationRevokeManagerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke-manager <id>",
		Short: "Revoke a manager delegation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RevokeManagerDelegation(ctx, args[0], principal())
			})
		},
	}
	return cmd
}

func portfolioCmd() *cobra.Command {
	p := &cobra.Command{Use: "portfolio", Short: "Manage portfolios"}
	p.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List portfolios",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListPortfolios(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	return p
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config is the rulebook: similarity threshold, deliverable gates per phase, project code prefix, webhooks. Lives in phaseline.yml.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default phaseline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: submissions, decisions, phase moves, delegations.",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEventsFrom(ctx, n, 0, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer appCtx.Close()
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("PHASELINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("PHASELINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: appCtx.Engine, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Phaseline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	appCtx, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer appCtx.Close()
	return fn(ctx, appCtx.Engine)
}

func buildDocs(names, categories, uris []string) ([]engine.DocumentInput, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("--name required at least once")
	}
	docs := make([]engine.DocumentInput, len(names))
	for i, name := range names {
		docs[i].Name = name
		if i < len(categories) {
			docs[i].Category = categories[i]
		}
		if i < len(uris) {
			docs[i].URI = uris[i]
		}
	}
	return docs, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
