// Package main is the accessctl command line tool. It runs lifecycle
// transitions and access queries directly against the Postgres stores.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/onnwee/accessrecon/internal/config"
	"github.com/onnwee/accessrecon/internal/db"
	"github.com/onnwee/accessrecon/internal/ledger"
	"github.com/onnwee/accessrecon/internal/middleware"
	"github.com/onnwee/accessrecon/internal/reconcile"
	"github.com/onnwee/accessrecon/internal/store"
	"github.com/onnwee/accessrecon/internal/ticket"
)

// errUsage is returned for a malformed command line.
var errUsage = errors.New("usage error")

type command struct {
	summary string
	run     func(ctx context.Context, e *reconcile.Engine, args []string, stdout io.Writer) error
}

var commands = map[string]command{
	"onboard":     {"grant the catalog applications of a role", runOnboard},
	"lateral":     {"move an employee to a new role or unit", runLateral},
	"flex-assign": {"grant a temporary role's applications", runFlexAssign},
	"flex-return": {"return every flex grant in force", runFlexReturn},
	"offboard":    {"revoke everything and deactivate", runOffboard},
	"report":      {"compare required and held access", runReport},
	"access":      {"list effective (or -flex) access", runAccess},
	"history":     {"list ledger events, newest first", runHistory},
	"expire-flex": {"revoke flex grants past their expiry", runExpireFlex},
	"export":      {"export the tickets of a case", runExport},
	"assign":      {"apply an employee's reconciliation report", runAssign},
	"search":      {"search the ledger, newest first", runSearch},
	"headcount":   {"count employees by unit and position", runHeadcount},
	"employees":   {"list the directory", runEmployees},
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Usage = func() { usage(os.Stderr) }
	flag.Parse()

	if flag.NArg() == 0 {
		usage(os.Stderr)
		os.Exit(2)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer conn.Close()

	engine := reconcile.NewEngine(reconcile.Config{
		Store:  store.NewPostgresStore(conn, logger),
		Logger: logger,
	})

	if err := run(ctx, engine, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "accessctl - employee access lifecycle tool")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: accessctl [-config file] <command> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-12s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'accessctl <command> -h' for command options.")
}

// run dispatches args[0] to its subcommand.
func run(ctx context.Context, e *reconcile.Engine, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
	return cmd.run(ctx, e, args[1:], stdout)
}

// newFlagSet returns a flag set whose parse errors are returned rather than
// exiting.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: %s: unexpected arguments %s", errUsage, fs.Name(), strings.Join(fs.Args(), " "))
	}
	return nil
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "accessctl"
}

func runOnboard(ctx context.Context, e *reconcile.Engine, args []string, stdout io.Writer) error {
	fs := newFlagSet("onboard")
	var req reconcile.OnboardRequest
	fs.StringVar(&req.EmployeeID, "employee", "", "employee id")
	fs.StringVar(&req.Role, "role", "", "role")
	fs.StringVar(&req.Unit, "unit", "", "unit")
	fs.StringVar(&req.SubUnit, "sub-unit", "", "sub-unit filter")
	fs.StringVar(&req.Actor, "actor", defaultActor(), "acting user")
	if err := parse(fs, args); err != nil {
		return err
	}
	res, err := e.Onboard(ctx, req)
	return writeResult(stdout, res, err)
}

func runLateral(ctx context.Context, e *reconcile.Engine, args []string, stdout io.Writer) error {
	fs := newFlagSet("lateral")
	var req reconcile.LateralMoveRequest
	fs.StringVar(&req.EmployeeID, "employee", "", "employee id")
	fs.StringVar(&req.NewRole, "role", "", "new role")
	fs.StringVar(&req.NewUnit, "unit", "", "new unit")
	fs.StringVar(&req.NewSubUnit, "sub-unit", "", "new sub-unit filter")
	fs.StringVar(&req.Actor, "actor", defaultActor(), "acting user")
	if err := parse(fs, args); err != nil {
		return err
	}
	res, err := e.LateralMove(ctx, req)
	return writeResult(stdout, res, err)
}

func runFlexAssign(ctx context.Context, e *reconcile.Engine, args []string, stdout io.Writer) error {
	fs := newFlagSet("flex-assign")
	var req reconcile.FlexAssignRequest
	fs.StringVar(&req.EmployeeID, "employee", "", "employee id")
	fs.StringVar(&req.TempRole, "role", "", "temporary role")
	fs.StringVar(&req.TempUnit, "unit", "", "temporary unit")
	fs.IntVar(&req.DurationDays, "days", 0, "days until the grants expire (0 for no expiry)")
	fs.StringVar(&req.Actor, "actor", defaultActor(), "acting user")
	if err := parse(fs, args); err != nil {
		return err
	}
	res, err := e.FlexAssign(ctx, req)
	return writeResult(stdout, res, err)
}

func runFlexReturn(ctx context.Context, e *reconcile.Engine, args []string, stdout io.Writer) error {
	fs := newFlagSet("flex-return")
	var req reconcile.FlexReturnRequest
	fs.StringVar(&req.EmployeeID, "employee", "", "employee id")
	fs.StringVar(&req.Actor, "actor", defaultActor(), "acting user")
	if err := parse(fs, args); err != nil {
		return err
	}
	res, err := e.FlexReturn(ctx, req)
	return writeResult(stdout, res, err)
}

func runOffboard(ctx context.Context, e *reconcile.Engine, args []string, stdout io.Writer) error {
	fs := newFlagSet("offboard")
	var req reconcile.OffboardRequest
	fs.StringVar(&req.EmployeeID, "employee", "", "employee id")
	fs.StringVar(&req.Actor, "actor", defaultActor(), "acting user")
	if err := parse(fs, args); err != nil {
		return err
	}
	res, err := e.Offboard(ctx, req)
	return writeResult(stdout, res, err)
}

func runReport(ctx context.Context, e *reconcile.Engine, args []string, stdout io.Writer) error {
	fs := newFlagSet("report")
	employeeID := fs.String("employee", "", "employee id")
	if err := parse(fs, args); err != nil {
		return err
	}
	report, err := e.Report(ctx, *employeeID)
	if err != nil {
		return err
	}
	return writeJSON(stdout, report)
}

func runAccess(ctx context.Context, e *reconcile.Engine, args []string, stdout io.Writer) error {
	fs := newFlagSet("access")
	employeeID := fs.String("employee", "", "employee id")
	flex := fs.Bool("flex", false, "list flex grants in force instead")
	if err := parse(fs, args); err != nil {
		return err
	}
	lookup := e.EffectiveAccess
	if *flex {
		lookup = e.FlexAccess
	}
	access, err := lookup(ctx, *employeeID)
	if err != nil {
		return err
	}
	for _, a := range access {
		line := fmt.Sprintf("%s\t%s\t%s/%s\t%s", a.Application, a.Type, a.Unit, a.Role, a.GrantedAt.Format(time.RFC3339))
		if a.ExpiresAt != nil {
			line += "\texpires " + a.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Fprintln(stdout, line)
	}
	return nil
}

func runHistory(ctx context.Context, e *reconcile.Engine, args []string, stdout io.Writer) error {
	fs := newFlagSet("history")
	employeeID := fs.String("employee", "", "employee id")
	if err := parse(fs, args); err != nil {
		return err
	}
	events, err := e.History(ctx, *employeeID)
	if err != nil {
		return err
	}
	for _, ev := range events {
		fmt.Fprintf(stdout, "%d\t%s\t%s\t%s\t%s\t%s\n",
			ev.ID, ev.CreatedAt.Format(time.RFC3339), ev.CaseID, ev.Type, ev.Application, ev.Status)
	}
	return nil
}

func runExpireFlex(ctx context.Context, e *reconcile.Engine, args []string, stdout io.Writer) error {
	fs := newFlagSet("expire-flex")
	at := fs.String("at", "", "reference time (RFC 3339), defaults to now")
	if err := parse(fs, args); err != nil {
		return err
	}
	now := time.Now().UTC()
	if *at != "" {
		t, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			return fmt.Errorf("%w: -at: %v", errUsage, err)
		}
		now = t
	}
	results, err := e.ExpireFlex(ctx, now)
	for _, res := range results {
		fmt.Fprintln(stdout, res.Message)
	}
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(stdout, "No expired flex grants")
	}
	return nil
}

func runAssign(ctx context.Context, e *reconcile.Engine, args []string, stdout io.Writer) error {
	fs := newFlagSet("assign")
	var req reconcile.ApplyReportRequest
	fs.StringVar(&req.EmployeeID, "employee", "", "employee id")
	fs.StringVar(&req.Actor, "actor", defaultActor(), "acting user")
	if err := parse(fs, args); err != nil {
		return err
	}
	res, err := e.ApplyReport(ctx, req)
	return writeResult(stdout, res, err)
}

func runSearch(ctx context.Context, e *reconcile.Engine, args []string, stdout io.Writer) error {
	fs := newFlagSet("search")
	var q ledger.Query
	fs.StringVar(&q.CaseID, "case", "", "case id substring")
	fs.StringVar(&q.EmployeeID, "employee", "", "employee id substring")
	fs.StringVar(&q.Application, "application", "", "application substring")
	fs.StringVar(&q.Actor, "actor", "", "actor substring")
	fs.StringVar(&q.Description, "description", "", "description substring")
	typeName := fs.String("type", "", "event type")
	statusName := fs.String("status", "", "event status")
	from := fs.String("from", "", "created at or after (RFC 3339)")
	to := fs.String("to", "", "created before (RFC 3339)")
	fs.IntVar(&q.Limit, "limit", ledger.DefaultSearchLimit, "maximum events")
	if err := parse(fs, args); err != nil {
		return err
	}

	var err error
	if *typeName != "" {
		if q.Type, err = ledger.ParseEventType(*typeName); err != nil {
			return fmt.Errorf("%w: -type: %v", errUsage, err)
		}
	}
	if *statusName != "" {
		if q.Status, err = ledger.ParseStatus(*statusName); err != nil {
			return fmt.Errorf("%w: -status: %v", errUsage, err)
		}
	}
	if *from != "" {
		if q.From, err = time.Parse(time.RFC3339, *from); err != nil {
			return fmt.Errorf("%w: -from: %v", errUsage, err)
		}
	}
	if *to != "" {
		if q.To, err = time.Parse(time.RFC3339, *to); err != nil {
			return fmt.Errorf("%w: -to: %v", errUsage, err)
		}
	}

	events, err := e.SearchEvents(ctx, q)
	if err != nil {
		return err
	}
	for _, ev := range events {
		fmt.Fprintf(stdout, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.ID, ev.CreatedAt.Format(time.RFC3339), ev.CaseID, ev.EmployeeID, ev.Type, ev.Application, ev.Status)
	}
	return nil
}

func runHeadcount(ctx context.Context, e *reconcile.Engine, args []string, stdout io.Writer) error {
	fs := newFlagSet("headcount")
	if err := parse(fs, args); err != nil {
		return err
	}
	hc, err := e.Headcount(ctx)
	if err != nil {
		return err
	}
	return writeJSON(stdout, hc)
}

func runEmployees(ctx context.Context, e *reconcile.Engine, args []string, stdout io.Writer) error {
	fs := newFlagSet("employees")
	activeOnly := fs.Bool("active", false, "list active employees only")
	if err := parse(fs, args); err != nil {
		return err
	}
	employees, err := e.ListEmployees(ctx, *activeOnly)
	if err != nil {
		return err
	}
	for _, emp := range employees {
		status := "inactive"
		if emp.Active {
			status = "active"
		}
		fmt.Fprintf(stdout, "%s\t%s\t%s/%s\t%s\n", emp.ID, emp.FullName, emp.Unit, emp.Role, status)
	}
	return nil
}

func runExport(ctx context.Context, e *reconcile.Engine, args []string, stdout io.Writer) error {
	fs := newFlagSet("export")
	caseID := fs.String("case", "", "case id")
	formatName := fs.String("format", "csv", "csv, json or cbor")
	out := fs.String("out", "", "output file (default stdout)")
	if err := parse(fs, args); err != nil {
		return err
	}
	format, err := ticket.ParseFormat(*formatName)
	if err != nil {
		return err
	}
	events, err := e.CaseEvents(ctx, *caseID)
	if err != nil {
		return err
	}
	data, err := ticket.Export(events, format)
	if err != nil {
		return err
	}
	if *out == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", *out, err)
	}
	fmt.Fprintf(stdout, "Wrote %d ticket(s) to %s\n", len(events), *out)
	return nil
}

func writeResult(w io.Writer, res *reconcile.Result, err error) error {
	if err != nil {
		return err
	}
	return writeJSON(w, res)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
