package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"siteplan/advisor"
	"siteplan/domain"
	"siteplan/storage"
	"siteplan/timeline"
	"siteplan/tui"
)

type options struct {
	file   string
	db     string
	today  string
	json   bool
	width  int
	watch  bool
	lang   string
	logger *log.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{logger: log.StandardLogger()}
	root := &cobra.Command{
		Use:           "siteplanctl",
		Short:         "Inspect and plan a construction task board.",
		Long:          `siteplanctl reads a task board from a YAML or TOML seed file and prints its statistics, task list and timeline, asks the AI advisor for a schedule review, or opens the interactive board.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.file, "file", "", "Path to a YAML or TOML seed file (default: built-in demo project).")
	root.PersistentFlags().StringVar(&opts.db, "db", "", "SQLite file holding the board; seeded from --file on first use, updated by add and tui.")
	root.PersistentFlags().StringVar(&opts.today, "today", "", "Reference date (YYYY-MM-DD, default: today).")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the project summary.",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := opts.load()
			if err != nil {
				return err
			}
			return printStats(cmd.OutOrStdout(), domain.ComputeStats(project.Tasks()), opts.json)
		},
	}
	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "List the tasks in insertion order.",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := opts.load()
			if err != nil {
				return err
			}
			return printTasks(cmd.OutOrStdout(), project.Tasks(), opts.json)
		},
	}
	timelineCmd := &cobra.Command{
		Use:   "timeline",
		Short: "Draw the Gantt chart.",
		RunE: func(cmd *cobra.Command, args []string) error {
			today, err := opts.referenceDate()
			if err != nil {
				return err
			}
			draw := func() error {
				project, err := opts.load()
				if err != nil {
					return err
				}
				if opts.json {
					return writeJSON(cmd.OutOrStdout(), timeline.Compute(project.Tasks(), today))
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), tui.RenderTimeline(project.Tasks(), today, opts.width))
				return err
			}
			if !opts.watch {
				return draw()
			}
			if opts.file == "" {
				return errors.New("--watch needs --file")
			}
			return watchFile(cmd.Context(), opts.file, opts.logger, draw)
		},
	}
	timelineCmd.Flags().IntVar(&opts.width, "width", 100, "Chart width in terminal cells.")
	timelineCmd.Flags().BoolVar(&opts.watch, "watch", false, "Redraw whenever --file changes, until interrupted.")
	for _, c := range []*cobra.Command{statsCmd, tasksCmd, timelineCmd} {
		c.Flags().BoolVar(&opts.json, "json", false, "Print JSON instead of text.")
	}

	adviseCmd := &cobra.Command{
		Use:   "advise",
		Short: "Ask the AI advisor to review the schedule.",
		Long:  `Sends the task list to Gemini (GEMINI_API_KEY, GEMINI_MODEL) and prints the critical path, dependency and resequencing advice. Without an API key the fallback message is printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := opts.load()
			if err != nil {
				return err
			}
			runner, err := opts.runner(cmd.Context())
			if err != nil {
				return err
			}
			advice, err := runner.Run(cmd.Context(), project.Tasks())
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), advice.Text); err != nil {
				return err
			}
			if !advice.OK {
				return fmt.Errorf("analysis failed: %s", advice.Reason)
			}
			return nil
		},
	}
	adviseCmd.Flags().StringVar(&opts.lang, "lang", "", "Advice language (zh-TW or en, default: ADVISOR_LANGUAGE).")

	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive board.",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := opts.load()
			if err != nil {
				return err
			}
			// Log lines would corrupt the alternate screen.
			opts.logger.SetOutput(io.Discard)
			runner, err := opts.runner(cmd.Context())
			if err != nil {
				return err
			}
			defer runner.Wait()
			if err := tui.Run(project, runner); err != nil {
				return err
			}
			return opts.save(cmd.Context(), project)
		},
	}

	var in addInput
	addCmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Append a task to the board in --db.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.db == "" {
				return errors.New("add needs --db")
			}
			project, err := opts.load()
			if err != nil {
				return err
			}
			task, err := project.AddTask(in.taskInput(args[0]))
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				for _, f := range verr.Fields {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", f.Field, f.Message)
				}
				return err
			}
			if err != nil {
				return err
			}
			if err := opts.save(cmd.Context(), project); err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), task)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s, %s → %s)\n", task.Name, task.ID, task.StartDate, task.EndDate())
			return err
		},
	}
	addCmd.Flags().StringVar(&in.start, "start", "", "Start date YYYY-MM-DD.")
	addCmd.Flags().IntVar(&in.duration, "duration", domain.DefaultDuration, "Duration in days.")
	addCmd.Flags().IntVar(&in.progress, "progress", 0, "Progress percentage.")
	addCmd.Flags().StringVar(&in.category, "category", "", "Category label.")
	addCmd.Flags().StringVar(&in.manager, "manager", "", "Responsible manager.")
	addCmd.Flags().StringSliceVar(&in.deps, "dep", nil, "Id of a predecessor task (repeatable).")
	addCmd.Flags().BoolVar(&opts.json, "json", false, "Print the new task as JSON.")

	root.AddCommand(statsCmd, tasksCmd, timelineCmd, adviseCmd, tuiCmd, addCmd)
	return root
}

type addInput struct {
	start    string
	duration int
	progress int
	category string
	manager  string
	deps     []string
}

func (a addInput) taskInput(name string) domain.TaskInput {
	duration := a.duration
	return domain.TaskInput{
		Name:         name,
		StartDate:    a.start,
		Duration:     &duration,
		Progress:     a.progress,
		Category:     a.category,
		Manager:      a.manager,
		Dependencies: a.deps,
	}
}

func (o *options) seed() (storage.SeedFile, error) {
	if o.file == "" {
		return storage.DefaultSeed(), nil
	}
	s, err := storage.LoadSeed(o.file)
	if err != nil {
		return storage.SeedFile{}, fmt.Errorf("load %s: %w", o.file, err)
	}
	return s, nil
}

// load builds the board from --db when set, seeding an empty database, and
// from the seed file otherwise.
func (o *options) load() (*domain.Project, error) {
	seed, err := o.seed()
	if err != nil {
		return nil, err
	}
	name := seed.Project
	if name == "" {
		name = "default"
	}
	tasks := seed.Tasks
	if o.db != "" {
		db, err := storage.OpenSQLite(o.db, name)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		stored, err := db.LoadAll(context.Background())
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", o.db, err)
		}
		if len(stored) > 0 {
			tasks = stored
		}
	}
	return domain.NewProject(name, storage.NewMemoryStore(tasks)), nil
}

// save writes the board back to --db. Without --db it does nothing.
func (o *options) save(ctx context.Context, project *domain.Project) error {
	if o.db == "" {
		return nil
	}
	db, err := storage.OpenSQLite(o.db, project.ID())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.SaveAll(ctx, project.Tasks()); err != nil {
		return fmt.Errorf("save %s: %w", o.db, err)
	}
	return nil
}

func (o *options) referenceDate() (domain.Date, error) {
	if o.today == "" {
		return domain.Today(), nil
	}
	d, err := domain.ParseDate(o.today)
	if err != nil {
		return domain.Date{}, fmt.Errorf("invalid --today %q: %w", o.today, err)
	}
	return d, nil
}

func (o *options) runner(ctx context.Context) (*advisor.Runner, error) {
	cfg, err := advisor.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if o.lang != "" {
		lang, err := advisor.ParseLanguage(o.lang)
		if err != nil {
			return nil, err
		}
		cfg.Language = lang
	}
	client, err := advisor.NewClientFromConfig(ctx, cfg, o.logger)
	if err != nil {
		return nil, err
	}
	return advisor.NewRunner(client, nil, nil, o.logger), nil
}

func printStats(w io.Writer, stats domain.ProjectStats, asJSON bool) error {
	if asJSON {
		return writeJSON(w, stats)
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("總項目", "已完成", "進行中", "延誤風險", "整體進度").
		Row(strconv.Itoa(stats.Total), strconv.Itoa(stats.Completed), strconv.Itoa(stats.InProgress),
			strconv.Itoa(stats.Delayed), strconv.Itoa(stats.OverallProgress)+"%")
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func printTasks(w io.Writer, tasks []domain.Task, asJSON bool) error {
	if asJSON {
		return writeJSON(w, tasks)
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "項目", "類別", "負責人", "開始", "完工", "進度", "前置")
	names := make(map[string]string, len(tasks))
	for _, task := range tasks {
		names[task.ID] = task.Name
	}
	for _, task := range tasks {
		deps := ""
		for i, id := range task.Dependencies {
			if i > 0 {
				deps += ", "
			}
			if n, ok := names[id]; ok {
				deps += n
			} else {
				deps += id
			}
		}
		t.Row(task.ID, task.Name, task.Category, task.Manager, task.StartDate.String(),
			task.EndDate().String(), strconv.Itoa(task.Progress)+"%", deps)
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func writeJSON(w io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		log.WithError(err).Error("siteplanctl failed")
		os.Exit(1)
	}
}
