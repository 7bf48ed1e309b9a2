// Command stepflowd administers a stepflow cluster: it migrates the store,
// reports servers and pause flags, lists tasks, and issues pause,
// maintenance, signal and termination requests.
//
// Task types are Go code, so processes that step tasks embed the engine
// themselves. stepflowd never claims work.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/cluster"
	"github.com/xraph/stepflow/control"
	"github.com/xraph/stepflow/engine"
	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/task"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			stop()
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// run parses args, opens the configured backend and executes one command.
func run(ctx context.Context, outW, errW io.Writer, args []string) error {
	inv, err := parseArgs(args, outW)
	if err != nil || inv == nil {
		return err
	}
	logger := newLogger(errW, inv.LogFormat, inv.LogLevel)

	cfg, err := LoadConfig(inv.ConfigPath)
	if err != nil {
		return err
	}
	srvCfg, err := cfg.ServerConfig()
	if err != nil {
		return err
	}

	be, err := openBackend(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := be.Close(); cerr != nil {
			logger.Warn("close store", slog.String("error", cerr.Error()))
		}
	}()

	clusterStore, err := openClusterStore(cfg.Cluster, logger)
	if err != nil {
		return err
	}

	srv, err := stepflow.New(
		stepflow.WithConfig(srvCfg),
		stepflow.WithLogger(logger),
		stepflow.WithStore(be),
	)
	if err != nil {
		return err
	}
	opts := []engine.Option{engine.WithGroupConfig(cfg.GroupConfigs()...)}
	if clusterStore != nil {
		opts = append(opts, engine.WithClusterStore(clusterStore))
	}
	eng, err := engine.Build(srv, opts...)
	if err != nil {
		return err
	}
	if clusterStore == nil {
		clusterStore = eng.Store()
	}

	return execute(ctx, eng, clusterStore, inv.Command, inv.Args, outW)
}

// execute runs one command against eng. Cluster membership is read from
// registry, which is the engine's store unless a separate provider is
// configured.
func execute(ctx context.Context, eng *engine.Engine, registry cluster.Store, cmd string, args []string, w io.Writer) error {
	switch cmd {
	case "migrate":
		if err := eng.Store().Migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(w, "store migrated")
		return nil
	case "status":
		return status(ctx, eng, registry, w)
	case "tasks":
		return listTasks(ctx, eng, args, w)
	case "pause":
		return pause(ctx, eng, args, w)
	case "maintenance":
		return maintenance(ctx, eng, args, w)
	case "signal":
		return resolveSignal(ctx, eng, args, w)
	case "terminate":
		return terminate(ctx, eng, args, w)
	}
	return usageError("unknown command %q", cmd)
}

func status(ctx context.Context, eng *engine.Engine, registry cluster.Store, w io.Writer) error {
	flags, err := eng.Flags(ctx)
	if err != nil {
		return fmt.Errorf("read flags: %w", err)
	}
	servers, err := registry.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("list servers: %w", err)
	}
	leader, err := registry.GetLeader(ctx)
	if err != nil {
		return fmt.Errorf("get leader: %w", err)
	}

	fmt.Fprintf(w, "global pause: %s\n", levelOrOff(flags.Global))
	fmt.Fprintf(w, "maintenance: %s\n", onOff(flags.Maintenance))
	groups := make([]string, 0, len(flags.Groups))
	for g := range flags.Groups {
		groups = append(groups, g)
	}
	slices.Sort(groups)
	for _, g := range groups {
		fmt.Fprintf(w, "group pause %s: %s\n", g, flags.Groups[g])
	}
	if leader != nil {
		fmt.Fprintf(w, "leader: %s\n", leader.ID)
	} else {
		fmt.Fprintln(w, "leader: none")
	}

	for _, phase := range []task.Phase{
		task.PhaseBeforeStart, task.PhaseStarted, task.PhaseWaiting,
		task.PhaseRunningChildren, task.PhaseTerminating, task.PhaseFinished,
	} {
		n, err := eng.Store().CountTasks(ctx, task.ListOpts{Phase: phase})
		if err != nil {
			return fmt.Errorf("count %s tasks: %w", phase, err)
		}
		fmt.Fprintf(w, "tasks %s: %d\n", phase, n)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVER\tHOST\tSTATE\tLEADER\tCONCURRENCY\tLAST SEEN")
	for _, s := range servers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%s\n",
			s.ID, s.Hostname, s.State, s.IsLeader, s.Concurrency, s.LastSeen.Format(time.RFC3339))
	}
	return tw.Flush()
}

func listTasks(ctx context.Context, eng *engine.Engine, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("tasks", flag.ContinueOnError)
	fs.SetOutput(w)
	typeFlag := fs.String("type", "", "Only tasks of this type.")
	groupFlag := fs.String("group", "", "Only tasks in this group.")
	phaseFlag := fs.String("phase", "", "Only tasks in this phase.")
	limitFlag := fs.Int("limit", 50, "Maximum number of tasks to list.")
	if err := fs.Parse(args); err != nil {
		return usageError("tasks: %s", err.Error())
	}

	tasks, err := eng.Tasks(ctx, task.ListOpts{
		Type:  *typeFlag,
		Group: *groupFlag,
		Phase: task.Phase(*phaseFlag),
		Limit: *limitFlag,
	})
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tGROUP\tSTATE\tPHASE\tEXIT\tSTEPS")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			t.ID, t.Type, t.Group, t.State, t.Phase, t.ExitStatus, t.Steps)
	}
	return tw.Flush()
}

func pause(ctx context.Context, eng *engine.Engine, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("pause", flag.ContinueOnError)
	fs.SetOutput(w)
	groupFlag := fs.String("group", "", "Pause only this group.")
	if err := fs.Parse(args); err != nil {
		return usageError("pause: %s", err.Error())
	}
	if fs.NArg() != 1 {
		return usageError("pause: expected one level (off, soft or hard)")
	}
	level, err := control.ParseLevel(fs.Arg(0))
	if err != nil {
		return usageError("pause: %s", err.Error())
	}

	if *groupFlag != "" {
		if err := eng.PauseGroup(ctx, *groupFlag, level); err != nil {
			return err
		}
		fmt.Fprintf(w, "group %s pause: %s\n", *groupFlag, level)
		return nil
	}
	if err := eng.Pause(ctx, level); err != nil {
		return err
	}
	fmt.Fprintf(w, "global pause: %s\n", level)
	return nil
}

func maintenance(ctx context.Context, eng *engine.Engine, args []string, w io.Writer) error {
	if len(args) != 1 {
		return usageError("maintenance: expected on or off")
	}
	var on bool
	switch strings.ToLower(args[0]) {
	case "on":
		on = true
	case "off":
	default:
		return usageError("maintenance: expected on or off, got %q", args[0])
	}
	if err := eng.Maintenance(ctx, on); err != nil {
		return err
	}
	fmt.Fprintf(w, "maintenance: %s\n", onOff(on))
	return nil
}

func resolveSignal(ctx context.Context, eng *engine.Engine, args []string, w io.Writer) error {
	if len(args) != 1 {
		return usageError("signal: expected one token")
	}
	cb, err := eng.Signal(ctx, args[0])
	if err != nil {
		return err
	}
	if cb.System() {
		fmt.Fprintf(w, "resolved system callback %s (%s)\n", cb.Token, cb.Type)
		return nil
	}
	fmt.Fprintf(w, "resolved callback %s (%s), woke task %s\n", cb.Token, cb.Type, cb.TaskID)
	return nil
}

func terminate(ctx context.Context, eng *engine.Engine, args []string, w io.Writer) error {
	if len(args) != 1 {
		return usageError("terminate: expected one task id")
	}
	taskID, err := id.ParseTaskID(args[0])
	if err != nil {
		return usageError("terminate: %s", err.Error())
	}
	if err := eng.Terminate(ctx, taskID); err != nil {
		return err
	}
	fmt.Fprintf(w, "termination requested for %s\n", taskID)
	return nil
}

func levelOrOff(l control.Level) control.Level {
	if l == "" {
		return control.PauseOff
	}
	return l
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
