package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/simgrid/internal/computation"
	"github.com/hochfrequenz/simgrid/internal/config"
	"github.com/hochfrequenz/simgrid/internal/design"
	"github.com/hochfrequenz/simgrid/internal/domain"
	"github.com/hochfrequenz/simgrid/internal/grid"
	"github.com/hochfrequenz/simgrid/internal/logging"
	"github.com/hochfrequenz/simgrid/internal/notify"
	"github.com/hochfrequenz/simgrid/internal/persist"
	"github.com/hochfrequenz/simgrid/internal/progress"
	"github.com/hochfrequenz/simgrid/internal/resultstore"
	"github.com/hochfrequenz/simgrid/simulation"
	"github.com/hochfrequenz/simgrid/tui"
)

var (
	runReplications int
	runPoolSize     int
	runSeed         int64
	runMaxErrors    int
	runTimeout      string
	runPolicy       string
	runSave         string
	runDatabase     string
	runSchedule     string
	runResume       bool
	runCommand      string
	runWorkdir      string
	runSlow         time.Duration
	runTUI          bool
	runQuiet        bool

	statusLimit  int
	showFailures bool
	showLimit    int
	initForce    bool
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run DESIGN",
		Short: "Run a simulation design",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().IntVar(&runReplications, "replications", 1, "replications per condition")
	runCmd.Flags().IntVar(&runPoolSize, "pool-size", 1, "number of parallel workers")
	runCmd.Flags().Int64Var(&runSeed, "seed", 0, "base seed")
	runCmd.Flags().IntVar(&runMaxErrors, "max-errors", 0, "skip a condition's remaining tasks after this many failures (0 = never)")
	runCmd.Flags().StringVar(&runTimeout, "timeout", "", "per-task timeout, e.g. 90s")
	runCmd.Flags().StringVar(&runPolicy, "exclusion-policy", "", "exclusion error policy (exclude, fail)")
	runCmd.Flags().StringVar(&runSave, "save", "", "CSV file for results")
	runCmd.Flags().StringVar(&runDatabase, "db", "", "result database for resume (empty disables it)")
	runCmd.Flags().StringVar(&runSchedule, "flush", "", "flush schedule, e.g. \"@every 1m\"")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "reuse stored results of the same design")
	runCmd.Flags().StringVar(&runCommand, "command", "", "shell command to run per task (overrides the design)")
	runCmd.Flags().StringVar(&runWorkdir, "workdir", "", "working directory for the command")
	runCmd.Flags().DurationVar(&runSlow, "slow", 0, "warn about tasks running longer than this")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "show the dashboard")
	runCmd.Flags().BoolVar(&runQuiet, "quiet", false, "no progress bar")
	rootCmd.AddCommand(runCmd)

	// grid command
	gridCmd := &cobra.Command{
		Use:   "grid DESIGN",
		Short: "Print the conditions that survive exclusion",
		Args:  cobra.ExactArgs(1),
		RunE:  runGrid,
	}
	gridCmd.Flags().StringVar(&runPolicy, "exclusion-policy", "", "exclusion error policy (exclude, fail)")
	rootCmd.AddCommand(gridCmd)

	// status command
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "List recorded runs",
		RunE:  runStatus,
	}
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "number of runs to show")
	rootCmd.AddCommand(statusCmd)

	// show command
	showCmd := &cobra.Command{
		Use:   "show CSV",
		Short: "Render a saved result table",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
	showCmd.Flags().BoolVar(&showFailures, "failures", false, "only show failed rows")
	showCmd.Flags().IntVar(&showLimit, "limit", 0, "maximum rows to show (0 = all)")
	rootCmd.AddCommand(showCmd)

	// stop command
	stopCmd := &cobra.Command{
		Use:   "stop CSV",
		Short: "Ask the run saving to CSV to stop after its running tasks",
		Args:  cobra.ExactArgs(1),
		RunE:  runStop,
	}
	rootCmd.AddCommand(stopCmd)

	// init command
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE:  runInit,
	}
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config")
	rootCmd.AddCommand(initCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// resolveRun layers the design file and command line flags over the
// config file
func resolveRun(cmd *cobra.Command, cfg *config.Config, d *design.Design) error {
	if d.IsSet("replications") {
		cfg.Run.Replications = d.Replications
	}
	if d.IsSet("seed") {
		cfg.Run.Seed = d.Seed
	}
	if d.IsSet("max_errors") {
		cfg.Run.MaxErrors = d.MaxErrors
	}

	flags := cmd.Flags()
	if flags.Changed("replications") {
		cfg.Run.Replications = runReplications
	}
	if flags.Changed("pool-size") {
		cfg.Run.PoolSize = runPoolSize
	}
	if flags.Changed("seed") {
		cfg.Run.Seed = runSeed
	}
	if flags.Changed("max-errors") {
		cfg.Run.MaxErrors = runMaxErrors
	}
	if flags.Changed("timeout") {
		cfg.Run.TaskTimeout = runTimeout
	}
	if flags.Changed("exclusion-policy") {
		cfg.Run.ExclusionPolicy = runPolicy
	}
	if flags.Changed("save") {
		cfg.Output.SavePath = config.ExpandPath(runSave)
	}
	if flags.Changed("db") {
		cfg.Output.DatabasePath = config.ExpandPath(runDatabase)
	}
	if flags.Changed("flush") {
		cfg.Output.FlushSchedule = runSchedule
	}
	if flags.Changed("resume") {
		cfg.Output.Resume = runResume
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	return cfg.Validate()
}

// newLogger writes to --log-file when given. The dashboard owns the
// terminal, so without a log file its logs are dropped.
func newLogger(cfg *config.Config, dashboard bool) (log.Logger, func(), error) {
	var w io.Writer = os.Stderr
	closeFn := func() {}
	switch {
	case logFile != "":
		f, err := os.OpenFile(config.ExpandPath(logFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		w = f
		closeFn = func() { f.Close() }
	case dashboard:
		w = io.Discard
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, w)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return logger, closeFn, nil
}

func openStore(path string) (*resultstore.Store, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	return resultstore.New(path)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	d, err := design.Load(args[0])
	if err != nil {
		return err
	}
	if err := resolveRun(cmd, cfg, d); err != nil {
		return err
	}

	command := d.Command
	if cmd.Flags().Changed("command") {
		command = runCommand
	}
	comp, err := computation.NewShell(computation.ShellConfig{Command: command, Dir: runWorkdir})
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg, runTUI)
	if err != nil {
		return err
	}
	defer closeLog()

	timeout, err := cfg.Run.Timeout()
	if err != nil {
		return err
	}

	store, err := openStore(cfg.Output.DatabasePath)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	// built up front for the progress display; Execute rebuilds it
	g, err := grid.Build(d.Factors, d.Exclude(), grid.Options{Policy: cfg.Run.Policy()})
	if err != nil {
		return err
	}

	opts := simulation.Options{
		Factors:           d.Factors,
		Exclude:           d.Exclude(),
		ExclusionPolicy:   cfg.Run.Policy(),
		Computation:       comp,
		Replications:      cfg.Run.Replications,
		PoolSize:          cfg.Run.PoolSize,
		Seed:              cfg.Run.Seed,
		MaxErrors:         cfg.Run.MaxErrors,
		TaskTimeout:       timeout,
		SlowTaskThreshold: runSlow,
		SavePath:          cfg.Output.SavePath,
		FlushSchedule:     cfg.Output.FlushSchedule,
		WatchStopFile:     true,
		Store:             store,
		Resume:            cfg.Output.Resume,
		Logger:            logger,
		Notifier:          notify.New(cfg.Notifications.Desktop, cfg.Notifications.SlackWebhook),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	title := filepath.Base(args[0])
	total := g.Len() * cfg.Run.Replications

	var res *simulation.Result
	if runTUI {
		res, err = runDashboard(ctx, opts, g, title, total)
	} else {
		res, err = runPlain(ctx, opts, title, total)
	}

	if res != nil {
		printSummary(os.Stderr, res, opts.SavePath)
		if res.Summary.State == domain.RunCancelled {
			level.Warn(logger).Log("msg", "run cancelled", "completed", res.Table.Len(), "total", total)
		}
	}
	return err
}

func runPlain(ctx context.Context, opts simulation.Options, title string, total int) (*simulation.Result, error) {
	if runQuiet {
		return simulation.Execute(ctx, opts)
	}

	bar := progress.NewBar(os.Stderr, total, title)
	opts.Progress = bar.Update
	opts.OnResult = bar.Observe
	res, err := simulation.Execute(ctx, opts)
	bar.Finish()
	return res, err
}

func runDashboard(ctx context.Context, opts simulation.Options, g grid.Grid, title string, total int) (*simulation.Result, error) {
	labels := make([]string, len(g.Conditions))
	for i, c := range g.Conditions {
		labels[i] = c.String()
	}

	model := tui.NewModel(tui.ModelConfig{
		Title:      title,
		Conditions: labels,
		Total:      total,
		Workers:    opts.PoolSize,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	opts.Progress = func(completed, total int) { p.Send(tui.ProgressMsg{Completed: completed, Total: total}) }
	opts.OnResult = func(res domain.TaskResult) { p.Send(tui.ResultMsg{Result: res}) }
	opts.OnSlotsChanged = func(available int) { p.Send(tui.SlotsMsg{Available: available}) }
	opts.OnStart = func(stop func()) { p.Send(tui.StartedMsg{Stop: stop}) }

	var (
		res    *simulation.Result
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, runErr = simulation.Execute(ctx, opts)
		state := domain.RunAborted
		if res != nil {
			state = res.Summary.State
		}
		p.Send(tui.DoneMsg{State: state, Err: runErr})
	}()

	_, err := p.Run()
	<-done
	if runErr != nil {
		return res, runErr
	}
	if err != nil && ctx.Err() == nil {
		return res, fmt.Errorf("dashboard: %w", err)
	}
	return res, nil
}

func printSummary(w io.Writer, res *simulation.Result, savePath string) {
	n := notify.ForRun(notify.RunReport{
		RunID:     res.RunID,
		State:     res.Summary.State,
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
		Skipped:   res.Skipped,
		Duration:  res.Summary.Duration,
		SavePath:  savePath,
	})
	fmt.Fprintf(w, "%s: %s\n", n.Title, n.Message)
	if res.Resumed > 0 {
		fmt.Fprintf(w, "  %s tasks restored from earlier runs\n", humanize.Comma(int64(res.Resumed)))
	}
	if len(res.Warnings) > 0 {
		fmt.Fprintf(w, "  %d conditions excluded after exclusion errors\n", len(res.Warnings))
	}
	if res.Metrics.MaxElapsed > 0 {
		fmt.Fprintf(w, "  slowest task: %s (%s)\n", res.Metrics.Slowest, res.Metrics.MaxElapsed.Round(time.Millisecond))
	}
	if savePath != "" {
		fmt.Fprintf(w, "  results: %s\n", savePath)
	}
}

func runGrid(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	d, err := design.Load(args[0])
	if err != nil {
		return err
	}
	if err := resolveRun(cmd, cfg, d); err != nil {
		return err
	}

	g, err := grid.Build(d.Factors, d.Exclude(), grid.Options{Policy: cfg.Run.Policy()})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\t"+strings.Join(g.Factors, "\t"))
	for _, c := range g.Conditions {
		cells := make([]string, 0, len(g.Factors))
		for _, v := range c.Values() {
			cells = append(cells, v.String())
		}
		fmt.Fprintf(w, "%d\t%s\n", c.Index, strings.Join(cells, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%s conditions (%s candidates, %s excluded), %d replications, %s tasks\n",
		humanize.Comma(int64(g.Len())),
		humanize.Comma(int64(g.Candidates)),
		humanize.Comma(int64(g.Excluded)),
		cfg.Run.Replications,
		humanize.Comma(int64(g.Len()*cfg.Run.Replications)))
	for _, warn := range g.Warnings {
		fmt.Printf("warning: %s: %s\n", warn.Condition, warn.Message)
	}
	fmt.Printf("design hash: %s\n", design.Hash(d.Factors, g.Conditions, cfg.Run.Replications, domain.SeedPolicy{Base: cfg.Run.Seed}))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfg.Output.DatabasePath); err != nil {
		fmt.Println("No runs recorded")
		return nil
	}

	store, err := resultstore.New(cfg.Output.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(statusLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tDESIGN\tSTATUS\tTASKS\tSUCCEEDED\tFAILED\tSTARTED\tDURATION")
	for _, r := range runs {
		started, duration := "-", "-"
		if r.StartedAt != nil {
			started = humanize.Time(*r.StartedAt)
			if r.FinishedAt != nil {
				duration = r.FinishedAt.Sub(*r.StartedAt).Round(time.Second).String()
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(r.ID), r.DesignHash, r.Status,
			humanize.Comma(int64(r.TotalTasks)),
			humanize.Comma(int64(r.Succeeded)),
			humanize.Comma(int64(r.Failed)),
			started, duration)
	}
	return w.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
	header, rows, err := persist.ReadRecords(args[0])
	if err != nil {
		return err
	}

	errCol := -1
	for i, name := range header {
		if name == "error" {
			errCol = i
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	shown := 0
	for _, row := range rows {
		if showFailures && (errCol < 0 || row[errCol] == "" || row[errCol] == persist.NA) {
			continue
		}
		if showLimit > 0 && shown >= showLimit {
			break
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
		shown++
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%s of %s rows\n", humanize.Comma(int64(shown)), humanize.Comma(int64(len(rows))))
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	m, err := persist.NewManager(config.ExpandPath(args[0]), persist.Options{})
	if err != nil {
		return err
	}
	f, err := os.Create(m.StopPath())
	if err != nil {
		return fmt.Errorf("creating stop file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Stop requested: %s\n", m.StopPath())
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Default().Write(path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
