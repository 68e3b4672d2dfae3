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

	"buildline/internal/app"
	"buildline/internal/config"
	"buildline/internal/db"
	"buildline/internal/domain"
	"buildline/internal/engine"
	"buildline/internal/fixture"
	"buildline/internal/migrate"
	"buildline/internal/repo"
	"buildline/internal/server"
	"buildline/internal/store"
	"buildline/internal/view"
)

var rootCmd = &cobra.Command{
	Use:   "bl",
	Short: "Buildline CLI",
	Long: `Buildline tracks construction project work as a tree of tasks with
dependencies, and renders it as list, kanban, gantt or calendar views.
- Workspace: the directory holding buildline.yml and the .buildline database.
- Tasks: hierarchical work items with dependencies, dates, budgets and people.
- Dependencies: finish-first edges; cycles are rejected at write time.
- Views: read-only projections over the same task snapshot.
- Event log: diary of changes, view with 'bl log tail'.`,
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
	viper.SetEnvPrefix("BUILDLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(viewCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var id, name, prefix string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace and project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("%s already exists", cfgPath)
			}
			if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default(id)
			cfg.Project.Name = name
			cfg.Project.CodePrefix = prefix
			e := engine.New(conn, cfg)
			p, err := e.InitProject(cmd.Context(), id, name, prefix, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			fmt.Printf("Initialized project %s (%s) in %s\n", p.ID, p.CodePrefix, workspace)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&prefix, "code-prefix", "", "task code prefix (defaults to upper-cased id)")
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	prj.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the active project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	})
	return prj
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskSubtaskCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskReparentCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskTreeCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var in store.CreateInput
	var parent, assignee, taskType, priority string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task (or a subtask with --parent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				in.Type = domain.TaskType(taskType)
				in.Priority = domain.Priority(priority)
				if assignee != "" {
					in.Assignee = e.Config.Person(assignee)
				}
				t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
					ProjectID: e.Config.Project.ID,
					ParentID:  parent,
					ActorID:   viper.GetString("actor-id"),
					Input:     in,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "task title")
	cmd.Flags().StringVar(&in.Detail, "detail", "", "task detail")
	cmd.Flags().StringVar(&taskType, "type", "", "task type")
	cmd.Flags().StringVar(&priority, "priority", "", "task priority")
	cmd.Flags().StringVar(&parent, "parent", "", "parent task id")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee id from the config roster")
	cmd.Flags().StringVar(&in.StartDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&in.DueDate, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&in.EstimatedHours, "estimate", 0, "estimated hours")
	cmd.Flags().StringSliceVar(&in.Dependencies, "depends-on", nil, "dependency task ids")
	cmd.Flags().StringSliceVar(&in.Tags, "tag", nil, "tags")
	return cmd
}

func taskSubtaskCmd() *cobra.Command {
	var in store.CreateInput
	cmd := &cobra.Command{
		Use:   "subtask <parent-id>",
		Short: "Create a subtask under a parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
					ProjectID: e.Config.Project.ID,
					ParentID:  args[0],
					ActorID:   viper.GetString("actor-id"),
					Input:     in,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "subtask title")
	cmd.Flags().StringVar(&in.Detail, "detail", "", "subtask detail")
	cmd.Flags().StringVar(&in.StartDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&in.DueDate, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&in.EstimatedHours, "estimate", 0, "estimated hours")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task with derived blocking state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.GetTask(ctx, e.Config.Project.ID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, detail, priority, start, due, deps, progress string
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				var p store.Patch
				if title != "" {
					p.Title = &title
				}
				if detail != "" {
					p.Detail = &detail
				}
				if priority != "" {
					v := domain.Priority(priority)
					p.Priority = &v
				}
				if start != "" {
					p.StartDate = &start
				}
				if due != "" {
					p.DueDate = &due
				}
				if deps != "" {
					// --deps replaces the whole dependency list
					list := []string{}
					if deps != "none" {
						list = strings.Split(deps, ",")
					}
					p.Dependencies = &list
				}
				if progress != "" {
					var v int
					if _, err := fmt.Sscanf(progress, "%d", &v); err != nil {
						return fmt.Errorf("invalid progress %q", progress)
					}
					p.Progress = &v
				}
				t, err := e.UpdateTask(ctx, e.Config.Project.ID, args[0], viper.GetString("actor-id"), p)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&detail, "detail", "", "new detail")
	cmd.Flags().StringVar(&priority, "priority", "", "new priority")
	cmd.Flags().StringVar(&start, "start", "", "new start date")
	cmd.Flags().StringVar(&due, "due", "", "new due date")
	cmd.Flags().StringVar(&deps, "deps", "", "comma-separated dependency ids, or 'none'")
	cmd.Flags().StringVar(&progress, "progress", "", "progress 0-100")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Set task status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.SetStatus(ctx, e.Config.Project.ID, args[0], viper.GetString("actor-id"), domain.Status(args[1]))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskReparentCmd() *cobra.Command {
	var parent string
	cmd := &cobra.Command{
		Use:   "reparent <task-id>",
		Short: "Move a task under a new parent (omit --parent for root)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.ReparentTask(ctx, e.Config.Project.ID, args[0], parent, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "new parent task id")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task and its subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				removed, err := e.DeleteTask(ctx, e.Config.Project.ID, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("Removed %d task(s)\n", len(removed))
				return nil
			})
		},
	}
	return cmd
}

func taskTreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the task tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				data, err := e.ListTasks(ctx, e.Config.Project.ID, engine.ViewOptions{Kind: view.List, Query: listOptions(e)})
				if err != nil {
					return err
				}
				for _, g := range data.View.List.Groups {
					for _, row := range g.Rows {
						indent := strings.Repeat("    ", row.Depth)
						connector := ""
						if row.Depth > 0 {
							connector = "└── "
						}
						fmt.Printf("%s%s%s [%s] %d%%\n", indent, connector, row.Task.Title, row.Task.Status, row.Rollup)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func viewCmd() *cobra.Command {
	var search, status, priority, assignee, groupBy, sortKey, dir, windowStart string
	var expand []string
	var showCompleted bool
	cmd := &cobra.Command{
		Use:       "view [list|kanban|gantt|calendar]",
		Short:     "Render a task view",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"list", "kanban", "gantt", "calendar"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := view.List
			if len(args) == 1 {
				kind = view.Kind(args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				opts := listOptions(e)
				if search != "" {
					opts.Search = search
				}
				if status != "" {
					opts.Status = status
				}
				if priority != "" {
					opts.Priority = priority
				}
				if assignee != "" {
					opts.AssigneeID = assignee
				}
				if groupBy != "" {
					opts.GroupBy = queryGroup(groupBy)
				}
				if sortKey != "" {
					opts.Sort = querySort(sortKey)
				}
				if dir != "" {
					opts.Dir = queryDir(dir)
				}
				if cmd.Flags().Changed("all") {
					opts.ShowCompleted = showCompleted
				}
				data, err := e.ListTasks(ctx, e.Config.Project.ID, engine.ViewOptions{
					Kind:        kind,
					Query:       opts,
					WindowStart: windowStart,
					Expanded:    expand,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(data)
				}
				renderView(data)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "match title or code")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee filter")
	cmd.Flags().StringVar(&groupBy, "group-by", "", "none|status|priority|assignee")
	cmd.Flags().StringVar(&sortKey, "sort", "", "due_date|priority|status|title|progress|created_at")
	cmd.Flags().StringVar(&dir, "dir", "", "asc|desc")
	cmd.Flags().BoolVar(&showCompleted, "all", false, "include completed tasks")
	cmd.Flags().StringVar(&windowStart, "window-start", "", "gantt window start (YYYY-MM-DD, default one week ago)")
	cmd.Flags().StringSliceVar(&expand, "expand", nil, "parent ids to expand in list view (default all)")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Project metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				m, err := e.GetStats(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(m)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Total", "Completed", "In Progress", "Blocked", "Overdue", "Completion"})
				tw.AppendRow(table.Row{
					m.Stats.Total, m.Stats.Completed, m.Stats.InProgress, m.Stats.Blocked,
					m.Stats.OverdueCount, fmt.Sprintf("%d%%", m.Stats.CompletionRate),
				})
				tw.Render()
				fmt.Printf("Budget: estimated %.2f, actual %.2f, delta %+.2f %s\n",
					m.Cost.Estimated, m.Cost.Actual, m.Cost.Delta, m.Cost.Currency)
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				events, err := e.LatestEvents(ctx, e.Config.Project.ID, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	logc.AddCommand(tail)
	return logc
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate the active project with demo tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				projectID := e.Config.Project.ID
				prefix := e.Config.Project.CodePrefix
				if prefix == "" {
					prefix = strings.ToUpper(projectID)
				}
				s := store.New(projectID, prefix)
				fixture.Seed(s)
				actor := viper.GetString("actor-id")
				// List is pre-order and the fixture only depends backwards,
				// so a single pass with an id map replays the whole tree.
				ids := map[string]string{}
				seeded := 0
				for _, t := range s.List() {
					in := store.CreateInput{
						Type: t.Type, Title: t.Title, Detail: t.Detail, Priority: t.Priority,
						Assignee: t.Assignee, StartDate: t.StartDate, DueDate: t.DueDate,
						EstimatedHours: t.EstimatedHours, Tags: t.Tags, Budget: t.Budget,
					}
					for _, dep := range t.Dependencies {
						in.Dependencies = append(in.Dependencies, ids[dep])
					}
					created, err := e.CreateTask(ctx, engine.TaskCreateOptions{
						ProjectID: projectID,
						ParentID:  ids[t.ParentID],
						ActorID:   actor,
						Input:     in,
					})
					if err != nil {
						return err
					}
					ids[t.ID] = created.ID
					if t.Status != domain.StatusTodo {
						if _, err := e.SetStatus(ctx, projectID, created.ID, actor, t.Status); err != nil {
							return err
						}
					}
					seeded++
				}
				fmt.Printf("Seeded %d tasks into %s\n", seeded, projectID)
				return nil
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				fmt.Printf("Serving Buildline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveProjectAndConfig(ctx, workspace, viper.GetString("project"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
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
