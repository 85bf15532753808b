package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantueno/ovif-backend-sub000/internal/audit"
	"github.com/psantueno/ovif-backend-sub000/internal/calendar"
	"github.com/psantueno/ovif-backend-sub000/internal/closure"
	"github.com/psantueno/ovif-backend-sub000/internal/config"
	"github.com/psantueno/ovif-backend-sub000/internal/db"
	"github.com/psantueno/ovif-backend-sub000/internal/docnum"
	"github.com/psantueno/ovif-backend-sub000/internal/domain"
	"github.com/psantueno/ovif-backend-sub000/internal/migrate"
	"github.com/psantueno/ovif-backend-sub000/internal/render"
	"github.com/psantueno/ovif-backend-sub000/internal/repo"
	"github.com/psantueno/ovif-backend-sub000/internal/report"
	"github.com/psantueno/ovif-backend-sub000/internal/seed"
)

var rootCmd = &cobra.Command{
	Use:   "ovif",
	Short: "OVIF fiscal reporting CLI",
	Long: `OVIF tracks municipal fiscal reporting obligations under provincial agreements.
Core concepts:
- Workspace: the .ovif directory holding the database and closure artifacts.
- Agreement: the contract a municipality reports under; its rules set deadlines.
- Fiscal period: one (exercise, month) reporting slot per agreement rule.
- Extension: a per-municipality override of a period's end date, fully audited.
- Closure: the immutable record that a municipality's module is complete,
  carrying the rendered report artifact and its document number.
- Batch: 'ovif closure run' sweeps overdue periods and elapsed extensions;
  re-running it is always safe.`,
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
	viper.SetEnvPrefix("OVIF")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(municipalityCmd())
	rootCmd.AddCommand(agreementCmd())
	rootCmd.AddCommand(ruleCmd())
	rootCmd.AddCommand(periodCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(amountCmd())
	rootCmd.AddCommand(extensionCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(closureCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(complianceCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(seedCmd())
}

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import municipalities, agreements, periods and catalogs from YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := seed.Load(file)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				sum, err := doc.Apply(ctx, r)
				if err != nil {
					return err
				}
				return printJSONOrTable(sum)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "seed yaml path")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func municipalityCmd() *cobra.Command {
	m := &cobra.Command{Use: "municipality", Short: "Manage municipalities"}
	m.AddCommand(municipalityAddCmd())
	m.AddCommand(municipalityListCmd())
	return m
}

func municipalityAddCmd() *cobra.Command {
	var id int
	var name string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a municipality",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				muni := domain.Municipality{ID: id, Name: name}
				if err := r.InsertMunicipality(ctx, muni); err != nil {
					return err
				}
				return printJSONOrTable(muni)
			})
		},
	}
	cmd.Flags().IntVar(&id, "id", 0, "municipality id")
	cmd.Flags().StringVar(&name, "name", "", "municipality name")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func municipalityListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List municipalities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				munis, err := r.ListMunicipalities(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(munis)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name"})
				for _, m := range munis {
					tw.AppendRow(table.Row{m.ID, m.Name})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func agreementCmd() *cobra.Command {
	a := &cobra.Command{Use: "agreement", Short: "Manage agreements"}
	a.AddCommand(agreementAddCmd())
	a.AddCommand(agreementListCmd())
	return a
}

func agreementAddCmd() *cobra.Command {
	var id int
	var name string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an agreement",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				a := domain.Agreement{ID: id, Name: name}
				if err := r.InsertAgreement(ctx, a); err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().IntVar(&id, "id", 0, "agreement id")
	cmd.Flags().StringVar(&name, "name", "", "agreement name")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func agreementListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agreements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAgreements(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func ruleCmd() *cobra.Command {
	r := &cobra.Command{Use: "rule", Short: "Manage agreement rules"}
	r.AddCommand(ruleAddCmd())
	r.AddCommand(ruleListCmd())
	return r
}

func ruleAddCmd() *cobra.Command {
	var id, agreementID, months, days int
	var category string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a deadline rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (months == 0) != (days == 0) {
				return fmt.Errorf("--rectification-months and --rectification-days must be given together")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rule := domain.Rule{ID: id, AgreementID: agreementID, Category: category}
				if months != 0 {
					rule.RectificationMonths = &months
					rule.RectificationDays = &days
				}
				if err := r.InsertRule(ctx, rule); err != nil {
					return err
				}
				return printJSONOrTable(rule)
			})
		},
	}
	cmd.Flags().IntVar(&id, "id", 0, "rule id")
	cmd.Flags().IntVar(&agreementID, "agreement", 0, "agreement id")
	cmd.Flags().StringVar(&category, "category", "", "rule category (resolves covered modules)")
	cmd.Flags().IntVar(&months, "rectification-months", 0, "rectification window months")
	cmd.Flags().IntVar(&days, "rectification-days", 0, "rectification window days")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("agreement")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func ruleListCmd() *cobra.Command {
	var agreementID int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an agreement's rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rules, err := r.ListRules(ctx, agreementID)
				if err != nil {
					return err
				}
				return printJSONOrTable(rules)
			})
		},
	}
	cmd.Flags().IntVar(&agreementID, "agreement", 0, "agreement id")
	_ = cmd.MarkFlagRequired("agreement")
	return cmd
}

func periodCmd() *cobra.Command {
	p := &cobra.Command{Use: "period", Short: "Manage fiscal periods"}
	p.AddCommand(periodCreateCmd())
	p.AddCommand(periodListCmd())
	return p
}

func periodCreateCmd() *cobra.Command {
	var exercise, month, agreementID, ruleID int
	var start, end string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a fiscal period",
		RunE: func(cmd *cobra.Command, args []string) error {
			startDate, err := calendar.ParseDate(start)
			if err != nil {
				return err
			}
			endDate, err := calendar.ParseDate(end)
			if err != nil {
				return err
			}
			if !endDate.After(startDate) {
				return fmt.Errorf("end date %s must fall after start date %s", end, start)
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				period := domain.FiscalPeriod{
					Exercise: exercise, Month: month,
					AgreementID: agreementID, RuleID: ruleID,
					StartDate: start, EndDate: end,
				}
				if _, err := r.GetRule(ctx, ruleID); err != nil {
					return fmt.Errorf("rule %d: %w", ruleID, err)
				}
				if err := r.InsertPeriod(ctx, period); err != nil {
					return err
				}
				return printJSONOrTable(period)
			})
		},
	}
	cmd.Flags().IntVar(&exercise, "exercise", 0, "exercise year")
	cmd.Flags().IntVar(&month, "month", 0, "month 1-12")
	cmd.Flags().IntVar(&agreementID, "agreement", 0, "agreement id")
	cmd.Flags().IntVar(&ruleID, "rule", 0, "rule id")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	for _, f := range []string{"exercise", "month", "agreement", "rule", "start", "end"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func periodListCmd() *cobra.Command {
	var exercise int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List fiscal periods for an exercise",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				periods, err := r.ListPeriods(ctx, exercise)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(periods)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Exercise", "Month", "Agreement", "Rule", "Start", "End"})
				for _, p := range periods {
					tw.AppendRow(table.Row{p.Exercise, p.Month, p.AgreementID, p.RuleID, p.StartDate, p.EndDate})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&exercise, "exercise", 0, "exercise year")
	_ = cmd.MarkFlagRequired("exercise")
	return cmd
}

func catalogCmd() *cobra.Command {
	c := &cobra.Command{Use: "catalog", Short: "Manage budget item catalogs"}
	c.AddCommand(catalogAddCmd())
	c.AddCommand(catalogListCmd())
	return c
}

func catalogAddCmd() *cobra.Command {
	var code, parent int64
	var module, description string
	var leaf bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a budget item to a module catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				item := domain.BudgetItem{
					Code: code, Module: domain.Module(module),
					ParentCode: parent, Description: description, IsLeaf: leaf,
				}
				if err := r.InsertBudgetItem(ctx, item); err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	cmd.Flags().Int64Var(&code, "code", 0, "item code")
	cmd.Flags().StringVar(&module, "module", "", "module name")
	cmd.Flags().Int64Var(&parent, "parent", 0, "parent item code (0 for roots)")
	cmd.Flags().StringVar(&description, "description", "", "item description")
	cmd.Flags().BoolVar(&leaf, "leaf", false, "item accepts submitted amounts")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("module")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func catalogListCmd() *cobra.Command {
	var module string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a module's catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListBudgetItems(ctx, domain.Module(module))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Parent", "Description", "Leaf"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.Code, it.ParentCode, it.Description, it.IsLeaf})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&module, "module", "", "module name")
	_ = cmd.MarkFlagRequired("module")
	return cmd
}

func amountCmd() *cobra.Command {
	a := &cobra.Command{Use: "amount", Short: "Manage submitted amounts"}
	a.AddCommand(amountSubmitCmd())
	return a
}

func amountSubmitCmd() *cobra.Command {
	var exercise, month, municipalityID, count int
	var code int64
	var module, amount string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a municipality's figure for one item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				sub := domain.SubmittedAmount{
					Exercise: exercise, Month: month, MunicipalityID: municipalityID,
					ItemCode: code, Module: domain.Module(module),
				}
				if amount != "" {
					d, err := decimal.NewFromString(amount)
					if err != nil {
						return fmt.Errorf("invalid amount %q: %w", amount, err)
					}
					sub.Amount = &d
				}
				if cmd.Flags().Changed("count") {
					sub.Count = &count
				}
				if err := r.UpsertSubmittedAmount(ctx, sub); err != nil {
					return err
				}
				return printJSONOrTable(sub)
			})
		},
	}
	cmd.Flags().IntVar(&exercise, "exercise", 0, "exercise year")
	cmd.Flags().IntVar(&month, "month", 0, "month 1-12")
	cmd.Flags().IntVar(&municipalityID, "municipality", 0, "municipality id")
	cmd.Flags().Int64Var(&code, "code", 0, "item code")
	cmd.Flags().StringVar(&module, "module", "", "module name")
	cmd.Flags().StringVar(&amount, "amount", "", "decimal amount (omit for not-reported)")
	cmd.Flags().IntVar(&count, "count", 0, "unit count (personnel headcount etc.)")
	for _, f := range []string{"exercise", "month", "municipality", "code", "module"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func extensionCmd() *cobra.Command {
	e := &cobra.Command{Use: "extension", Short: "Manage deadline extensions"}
	e.AddCommand(extensionGrantCmd())
	e.AddCommand(extensionListCmd())
	return e
}

func extensionGrantCmd() *cobra.Command {
	var exercise, month, municipalityID, agreementID, ruleID int
	var newEnd, kind, reason string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant or move a municipality's extension",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *closure.Engine) error {
				ext, err := e.GrantExtension(ctx, closure.GrantRequest{
					Exercise:       exercise,
					Month:          month,
					MunicipalityID: municipalityID,
					AgreementID:    agreementID,
					RuleID:         ruleID,
					NewEndDate:     newEnd,
					Kind:           domain.AuditKind(strings.ToUpper(kind)),
					Reason:         reason,
					ActorID:        viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(ext)
			})
		},
	}
	cmd.Flags().IntVar(&exercise, "exercise", 0, "exercise year")
	cmd.Flags().IntVar(&month, "month", 0, "month 1-12")
	cmd.Flags().IntVar(&municipalityID, "municipality", 0, "municipality id")
	cmd.Flags().IntVar(&agreementID, "agreement", 0, "agreement id")
	cmd.Flags().IntVar(&ruleID, "rule", 0, "rule id")
	cmd.Flags().StringVar(&newEnd, "new-end", "", "new end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&kind, "kind", "EXTENSION", "audit kind: EXTENSION, RECTIFICATION or AMPLIFICATION")
	cmd.Flags().StringVar(&reason, "reason", "", "reason for the extension")
	for _, f := range []string{"exercise", "month", "municipality", "agreement", "rule", "new-end"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func extensionListCmd() *cobra.Command {
	var exercise, month int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List extensions for a period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				exts, err := r.ListExtensions(ctx, exercise, month)
				if err != nil {
					return err
				}
				return printJSONOrTable(exts)
			})
		},
	}
	cmd.Flags().IntVar(&exercise, "exercise", 0, "exercise year")
	cmd.Flags().IntVar(&month, "month", 0, "month 1-12")
	_ = cmd.MarkFlagRequired("exercise")
	_ = cmd.MarkFlagRequired("month")
	return cmd
}

func auditCmd() *cobra.Command {
	a := &cobra.Command{Use: "audit", Short: "Inspect the extension audit trail"}
	a.AddCommand(auditListCmd())
	return a
}

func auditListCmd() *cobra.Command {
	var f repo.AuditFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				entries, err := r.ListAuditEntries(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Timestamp", "Kind", "Municipality", "Period", "Previous", "New", "Actor", "Reason"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.Timestamp, e.Kind, e.MunicipalityID,
						fmt.Sprintf("%d-%02d", e.Exercise, e.Month), e.PreviousEndDate, e.NewEndDate, e.ActorID, e.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ExtensionID, "extension", "", "extension id filter")
	cmd.Flags().IntVar(&f.MunicipalityID, "municipality", 0, "municipality filter")
	cmd.Flags().IntVar(&f.Exercise, "exercise", 0, "exercise filter")
	cmd.Flags().IntVar(&f.Month, "month", 0, "month filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max entries")
	return cmd
}

func closureCmd() *cobra.Command {
	c := &cobra.Command{Use: "closure", Short: "Close reporting periods"}
	c.AddCommand(closureRunCmd())
	c.AddCommand(closureManualCmd())
	c.AddCommand(closureListCmd())
	return c
}

func closureRunCmd() *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the closing batch over overdue periods and elapsed extensions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *closure.Engine) error {
				var pinned time.Time
				if asOf != "" {
					t, err := calendar.ParseDate(asOf)
					if err != nil {
						return err
					}
					pinned = t
				}
				sum, err := e.RunBatch(ctx, pinned)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				fmt.Printf("as of %s: closed %d, skipped %d, failed %d\n",
					sum.Today.Format(calendar.DateLayout), sum.Closed, sum.Skipped, sum.Failed)
				if len(sum.Records) > 0 {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Period", "Municipality", "Module", "Kind", "Document"})
					for _, r := range sum.Records {
						tw.AppendRow(table.Row{fmt.Sprintf("%d-%02d", r.Exercise, r.Month),
							r.MunicipalityID, r.Module, r.Kind, r.DocumentNumber})
					}
					tw.Render()
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "run as of this date (YYYY-MM-DD, default today)")
	return cmd
}

func closureManualCmd() *cobra.Command {
	var req closure.ManualCloseRequest
	cmd := &cobra.Command{
		Use:   "manual",
		Short: "Close one municipality's slot before its deadline elapses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *closure.Engine) error {
				closed, err := e.ManualClose(ctx, req)
				var elapsed *closure.DeadlineElapsedError
				if errors.As(err, &elapsed) {
					return fmt.Errorf("slot deadline elapsed on %s; the batch owns it now",
						elapsed.Deadline.End.Format(calendar.DateLayout))
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(closed)
			})
		},
	}
	cmd.Flags().IntVar(&req.Exercise, "exercise", 0, "exercise year")
	cmd.Flags().IntVar(&req.Month, "month", 0, "month 1-12")
	cmd.Flags().IntVar(&req.MunicipalityID, "municipality", 0, "municipality id")
	cmd.Flags().IntVar(&req.AgreementID, "agreement", 0, "agreement id")
	cmd.Flags().IntVar(&req.RuleID, "rule", 0, "rule id")
	cmd.Flags().StringVar(&req.Note, "note", "", "note stored on the closure")
	for _, f := range []string{"exercise", "month", "municipality", "agreement", "rule"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func closureListCmd() *cobra.Command {
	var f repo.ClosureFilters
	var module, kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List closure records",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Module = domain.Module(module)
			f.Kind = domain.ClosureKind(strings.ToUpper(kind))
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				closures, err := r.ListClosures(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(closures)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Period", "Municipality", "Module", "Kind", "Document", "Created"})
				for _, c := range closures {
					tw.AppendRow(table.Row{fmt.Sprintf("%d-%02d", c.Exercise, c.Month),
						c.MunicipalityID, c.Module, c.Kind, c.DocumentNumber, c.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Exercise, "exercise", 0, "exercise filter")
	cmd.Flags().IntVar(&f.Month, "month", 0, "month filter")
	cmd.Flags().IntVar(&f.MunicipalityID, "municipality", 0, "municipality filter")
	cmd.Flags().StringVar(&module, "module", "", "module filter")
	cmd.Flags().StringVar(&kind, "kind", "", "kind filter")
	return cmd
}

func reportCmd() *cobra.Command {
	r := &cobra.Command{Use: "report", Short: "Build budget reports"}
	r.AddCommand(reportBuildCmd())
	return r
}

func reportBuildCmd() *cobra.Command {
	var exercise, month, municipalityID int
	var module string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the flattened report for one municipality and module",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rep, err := report.Builder{Repo: r}.Build(ctx, exercise, month, municipalityID, domain.Module(module))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Description", "Amount", "Count"})
				for _, row := range rep.Rows {
					amount := ""
					if row.Amount != nil {
						amount = row.Amount.StringFixed(2)
					}
					count := ""
					if row.Count != nil {
						count = fmt.Sprintf("%d", *row.Count)
					}
					tw.AppendRow(table.Row{row.Code, strings.Repeat("  ", row.Level) + row.Description, amount, count})
				}
				tw.AppendFooter(table.Row{"", "Total", rep.Total.StringFixed(2), ""})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&exercise, "exercise", 0, "exercise year")
	cmd.Flags().IntVar(&month, "month", 0, "month 1-12")
	cmd.Flags().IntVar(&municipalityID, "municipality", 0, "municipality id")
	cmd.Flags().StringVar(&module, "module", "", "module name")
	for _, f := range []string{"exercise", "month", "municipality", "module"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func complianceCmd() *cobra.Command {
	var exercise, month, municipalityID, agreementID, ruleID int
	var asOf string
	cmd := &cobra.Command{
		Use:   "compliance",
		Short: "Show a municipality's deadline status for one slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *closure.Engine) error {
				var pinned time.Time
				if asOf != "" {
					t, err := calendar.ParseDate(asOf)
					if err != nil {
						return err
					}
					pinned = t
				}
				status, err := e.Compliance(ctx, closure.ComplianceRequest{
					Exercise:       exercise,
					Month:          month,
					MunicipalityID: municipalityID,
					AgreementID:    agreementID,
					RuleID:         ruleID,
					AsOf:           pinned,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(status)
			})
		},
	}
	cmd.Flags().IntVar(&exercise, "exercise", 0, "exercise year")
	cmd.Flags().IntVar(&month, "month", 0, "month 1-12")
	cmd.Flags().IntVar(&municipalityID, "municipality", 0, "municipality id")
	cmd.Flags().IntVar(&agreementID, "agreement", 0, "agreement id")
	cmd.Flags().IntVar(&ruleID, "rule", 0, "rule id")
	cmd.Flags().StringVar(&asOf, "as-of", "", "evaluate as of this date (YYYY-MM-DD, default today)")
	for _, f := range []string{"exercise", "month", "municipality", "agreement", "rule"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Inspect the batch journal"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var task string
	var limit int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent journal lines, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				entries, err := r.LatestJobLog(ctx, task, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Timestamp", "Task", "Status", "Message"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.Timestamp, e.TaskName, e.Status, e.Message})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&task, "task", "closure.run", "task name")
	cmd.Flags().IntVar(&limit, "limit", 50, "max lines")
	return cmd
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(viper.GetString("log-level")); err == nil {
		log.SetLevel(lvl)
	}
	return log
}

func withEngine(ctx context.Context, fn func(context.Context, *closure.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	closuresDir, err := db.ClosuresDir(workspace)
	if err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	e := &closure.Engine{
		Repo:  r,
		Audit: audit.Trail{},
		Reports: report.Builder{
			Repo: r,
		},
		Docs: docnum.Allocator{
			Width:      cfg.Documents.NumberWidth,
			MaxRetries: cfg.Documents.MaxRetries,
			Exists:     r.DocumentNumberExists,
		},
		Renderer:    render.Table{},
		Config:      cfg,
		ClosuresDir: closuresDir,
		Log:         newLogger(),
	}
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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
