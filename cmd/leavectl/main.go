/*
main.go - leavectl operator CLI

PURPOSE:
  Runs maintenance operations directly against the configured store,
  without going through the HTTP API. Uses the same environment keys as
  the server (config.Load), so a shell with the server's .env works as is.

COMMANDS:
  rollover       Roll every balance of the previous leave year into --year
  init-balance   Create one balance row for an employee, type and year
  load-types     Apply a catalog JSON file (leave types, employees, holidays)
  token          Issue a JWT for local testing

Every store-touching command acts as the system actor (admin).

SEE ALSO:
  - bootstrap/bootstrap.go: Wiring
  - api/auth.go: IssueToken
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/bootstrap"
	"github.com/warp/leave-engine/calendar"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/leave"
)

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}
	if err := newApp(os.Stdout).Run(context.Background(), args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "leavectl",
		Usage: "Leave engine maintenance commands",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env", Usage: "additional .env file"},
		},
		Commands: []*cli.Command{
			rolloverCommand(out),
			initBalanceCommand(out),
			loadTypesCommand(out),
			tokenCommand(out),
		},
	}
}

func rolloverCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "rollover",
		Usage: "Carry balances forward into a leave year",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "year", Usage: "target leave year (default: current)"},
			&cli.IntFlag{Name: "workers", Value: 4, Usage: "balances rolled concurrently"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return withService(ctx, c, func(svc *leave.Service) error {
				year := c.Int("year")
				if year == 0 {
					year = svc.FiscalYear().YearOf(calendar.DateOf(time.Now().UTC()))
				}
				report, err := svc.RolloverYear(ctx, api.SystemActor, year, c.Int("workers"))
				if err != nil {
					return err
				}
				if err := printJSON(out, report); err != nil {
					return err
				}
				if len(report.Failed) > 0 {
					return fmt.Errorf("rollover %d: %d balances failed", report.Year, len(report.Failed))
				}
				return nil
			})
		},
	}
}

func initBalanceCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "init-balance",
		Usage: "Create a balance row with the leave type's entitlement",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "employee", Required: true},
			&cli.StringFlag{Name: "type", Required: true, Usage: "leave type id"},
			&cli.IntFlag{Name: "year", Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return withService(ctx, c, func(svc *leave.Service) error {
				bal, err := svc.InitializeBalance(ctx, api.SystemActor, leave.BalanceKey{
					EmployeeID:  leave.EmployeeID(c.String("employee")),
					LeaveTypeID: leave.LeaveTypeID(c.String("type")),
					Year:        c.Int("year"),
				})
				if err != nil {
					return err
				}
				return printJSON(out, bal)
			})
		},
	}
}

func loadTypesCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "load-types",
		Usage: "Apply a catalog JSON file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return withService(ctx, c, func(svc *leave.Service) error {
				if err := bootstrap.SeedCatalog(ctx, svc, c.String("file"), api.SystemActor, zap.NewNop()); err != nil {
					return err
				}
				_, err := fmt.Fprintf(out, "applied %s\n", c.String("file"))
				return err
			})
		},
	}
}

func tokenCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a bearer token signed with JWT_SECRET",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Required: true, Usage: "employee id"},
			&cli.StringFlag{Name: "role", Value: string(leave.RoleEmployee)},
			&cli.StringFlag{Name: "manager", Usage: "manager id"},
			&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			role, err := leave.ParseRole(c.String("role"))
			if err != nil {
				return err
			}
			actor := leave.Actor{
				ID:        leave.EmployeeID(c.String("id")),
				Role:      role,
				ManagerID: leave.EmployeeID(c.String("manager")),
			}
			tok, err := api.IssueToken([]byte(cfg.JWTSecret), actor, c.Duration("ttl"))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, tok)
			return err
		},
	}
}

func loadConfig(c *cli.Command) (*config.Config, error) {
	var files []string
	if f := c.String("env"); f != "" {
		files = append(files, f)
	}
	return config.Load(files...)
}

// withService opens the configured store, builds the service and runs fn.
func withService(ctx context.Context, c *cli.Command, fn func(*leave.Service) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := bootstrap.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, closeStore, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore(ctx)

	svc, err := bootstrap.NewService(cfg, store, logger, nil)
	if err != nil {
		return err
	}
	return fn(svc)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
