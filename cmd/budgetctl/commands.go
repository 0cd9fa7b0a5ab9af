package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/diewo77/go-assistance/internal/config"
	"github.com/diewo77/go-assistance/internal/db"
	"github.com/diewo77/go-assistance/internal/events"
	"github.com/diewo77/go-assistance/internal/logger"
	"github.com/diewo77/go-assistance/internal/models"
	"github.com/diewo77/go-assistance/internal/services"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// env is the state shared by every subcommand once the root has run.
type env struct {
	cfg  *config.Config
	log  *zap.Logger
	conn *gorm.DB
}

func newRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:           "budgetctl",
		Short:         "Operate the assistance budget pools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			e.cfg = config.Load()
			verbose, _ := cmd.Flags().GetBool("verbose")
			log, err := logger.New(verbose)
			if err != nil {
				return err
			}
			if !verbose {
				log = zap.NewNop()
			}
			e.log = log
			conn, err := db.Open(e.cfg.Database, false, log)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			e.conn = conn
			return nil
		},
	}
	root.PersistentFlags().BoolP("verbose", "v", false, "Log to stderr")

	root.AddCommand(e.poolsCmd(), e.migrateCmd(), e.relayCmd())
	return root
}

func (e *env) poolsCmd() *cobra.Command {
	var department, status string
	cmd := &cobra.Command{
		Use:   "pools",
		Short: "List budget pools with their utilization and alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := e.conn.WithContext(cmd.Context()).Order("department, code")
			if department != "" {
				q = q.Where("department = ?", department)
			}
			if status != "" {
				q = q.Where("status = ?", status)
			}
			var pools []models.BudgetPool
			if err := q.Find(&pools).Error; err != nil {
				return fmt.Errorf("load pools: %w", err)
			}
			if len(pools) == 0 {
				pterm.Warning.Println("No budget pool found")
				return nil
			}
			return pterm.DefaultTable.
				WithHasHeader().
				WithBoxed().
				WithHeaderStyle(pterm.NewStyle(pterm.FgLightCyan)).
				WithData(poolTable(pools, time.Now(), e.cfg.Budget)).
				Render()
		},
	}
	cmd.Flags().StringVarP(&department, "department", "d", "", "Only pools of this department")
	cmd.Flags().StringVarP(&status, "status", "s", "", "Only pools in this status")
	return cmd
}

// poolTable renders one row per pool. Alerts are only evaluated for active
// pools.
func poolTable(pools []models.BudgetPool, now time.Time, cfg config.BudgetConfig) pterm.TableData {
	data := pterm.TableData{{"Code", "Name", "Department", "Status", "Total", "Available", "Used", "Days left", "Alerts"}}
	for i := range pools {
		p := &pools[i]
		m := services.MetricsFor(p, now)
		alerts := "-"
		if p.IsActive() {
			if names := alertNames(services.Alerts(p, now, cfg)); names != "" {
				alerts = names
			}
		}
		data = append(data, []string{
			p.Code,
			p.Name,
			p.Department,
			string(p.Status),
			p.TotalAmount.StringFixed(2),
			m.AvailableAmount.StringFixed(2),
			fmt.Sprintf("%.1f%%", m.UtilizationRate),
			fmt.Sprint(m.RemainingDays),
			alerts,
		})
	}
	return data
}

func alertNames(alerts []services.Alert) string {
	parts := make([]string, 0, len(alerts))
	for _, a := range alerts {
		name := a.Type
		if a.Severity == services.SeverityCritical {
			name += "!"
		}
		parts = append(parts, name)
	}
	return strings.Join(parts, ",")
}

func (e *env) migrateCmd() *cobra.Command {
	var mode string
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch mode {
			case config.MigrationsAuto:
				if err := db.Migrate(e.conn); err != nil {
					return err
				}
			case config.MigrationsSQL:
				if err := db.MigrateSQL(e.cfg.Database.URL()); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown migration mode %q (auto or sql)", mode)
			}
			if seed {
				if err := db.Seed(e.conn); err != nil {
					return err
				}
			}
			pterm.Success.Printfln("Schema up to date (%s)", mode)
			return nil
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", config.MigrationsAuto, "auto (gorm) or sql (versioned migrations)")
	cmd.Flags().BoolVar(&seed, "seed", true, "Seed the system profiles")
	return cmd
}

func (e *env) relayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Publish pending outbox events once",
		RunE: func(cmd *cobra.Command, args []string) error {
			var pub events.Publisher = events.LogPublisher{Log: e.log}
			if e.cfg.Broker.URL != "" {
				amqpPub, err := events.DialAMQP(e.cfg.Broker.URL, e.cfg.Broker.Exchange)
				if err != nil {
					return err
				}
				defer func() { _ = amqpPub.Close() }()
				pub = amqpPub
			}
			return runRelay(cmd.Context(), e.conn, pub, e.log, e.cfg.Outbox)
		},
	}
}

func runRelay(ctx context.Context, conn *gorm.DB, pub events.Publisher, log *zap.Logger, cfg config.OutboxConfig) error {
	relay := events.NewRelay(conn, pub, log, events.RelayConfig{
		BatchSize:   cfg.BatchSize,
		MaxAttempts: cfg.MaxAttempts,
	})
	spinner, _ := pterm.DefaultSpinner.Start("Dispatching outbox events")
	n, err := relay.DispatchPending(ctx)
	if err != nil {
		spinner.Fail(err.Error())
		return err
	}
	spinner.Success(fmt.Sprintf("%d event(s) published", n))
	return nil
}
