package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"grievline/internal/app"
	"grievline/internal/config"
	"grievline/internal/db"
	"grievline/internal/domain"
	"grievline/internal/engine"
	"grievline/internal/engine/status"
	"grievline/internal/notify"
	"grievline/internal/repo"
	"grievline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gl",
	Short: "Grievline CLI",
	Long: `Grievline tracks citizen grievances from submission to resolution.
- Workspace: the .grievline directory holds the database; grievline.yml holds categories, routing and notifier targets.
- Lifecycle: submitted -> under_review -> assigned -> in_progress -> resolved; rejected and withdrawn are exits.
- Roles: citizens file and follow their own grievances, staff triage and work them, admins run departments, users and rejections.
- Assignment: categories route to departments via config; 'gl assign' can override the route and pick a staff assignee.
- History: every transition is appended to an immutable history, viewable with 'gl history'.
- Notifications: lifecycle changes fan out to the stored feed, the log, webhooks and redis as configured.`,
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
	// .env is optional; real env vars win.
	_ = godotenv.Load()
	viper.SetEnvPrefix("GRIEVLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "admin", "acting user id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(setStatusCmd())
	rootCmd.AddCommand(assignCmd())
	rootCmd.AddCommand(withdrawCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(departmentCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(serveCmd())
}

func actorID() string {
	return viper.GetString("actor-id")
}

func initCmd() *cobra.Command {
	var adminID, adminEmail, adminPassword string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		Long:  "Creates the .grievline store, writes a default grievline.yml if missing, seeds configured departments and the bootstrap admin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", cfgPath)
			}
			if adminEmail == "" {
				adminEmail = os.Getenv("GRIEVLINE_ADMIN_EMAIL")
			}
			if adminPassword == "" {
				adminPassword = os.Getenv("GRIEVLINE_ADMIN_PASSWORD")
			}
			a, err := app.Load(cmd.Context(), workspace, app.BootstrapAdmin{
				UserID:   adminID,
				Email:    adminEmail,
				Password: adminPassword,
			})
			if err != nil {
				return err
			}
			defer a.Close()
			// Without credentials SeedAdmin is a no-op, but local commands
			// still need the default actor to exist.
			exists, err := a.Engine.Repo.UserExists(cmd.Context(), adminID)
			if err != nil {
				return err
			}
			if !exists {
				now := time.Now().UTC().Format(time.RFC3339)
				if err := a.Engine.Repo.UpsertUser(cmd.Context(), domain.User{
					ID:        adminID,
					Name:      "Admin",
					Role:      domain.RoleAdmin,
					CreatedAt: now,
				}); err != nil {
					return err
				}
			}
			if adminEmail != "" {
				fmt.Printf("admin %s can log in as %s\n", adminID, adminEmail)
			}
			fmt.Println("workspace ready:", workspace)
			return nil
		},
	}
	cmd.Flags().StringVar(&adminID, "admin-id", "admin", "bootstrap admin user id")
	cmd.Flags().StringVar(&adminEmail, "admin-email", "", "bootstrap admin email (or GRIEVLINE_ADMIN_EMAIL)")
	cmd.Flags().StringVar(&adminPassword, "admin-password", "", "bootstrap admin password (or GRIEVLINE_ADMIN_PASSWORD)")
	return cmd
}

func submitCmd() *cobra.Command {
	var title, description, category, priority, address, constituency, submitter string
	var attachments []string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "File a grievance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.Submit(ctx, engine.SubmitOptions{
					SubmitterID:  submitter,
					ActorID:      actorID(),
					Title:        title,
					Description:  description,
					Category:     category,
					Priority:     domain.Priority(priority),
					Address:      address,
					Constituency: constituency,
					Attachments:  attachments,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "short title")
	cmd.Flags().StringVar(&description, "description", "", "what happened")
	cmd.Flags().StringVar(&category, "category", "", "category from grievline.yml")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium, high or urgent")
	cmd.Flags().StringVar(&address, "address", "", "street address")
	cmd.Flags().StringVar(&constituency, "constituency", "", "constituency or ward")
	cmd.Flags().StringVar(&submitter, "submitter", "", "file on behalf of this citizen (staff only)")
	cmd.Flags().StringArrayVar(&attachments, "attachment", nil, "attachment reference, repeatable")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a grievance with history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.Get(ctx, id, actorID())
				if err != nil {
					return err
				}
				if err := printJSONOrTable(g); err != nil {
					return err
				}
				if !viper.GetBool("json") {
					if next := status.Next(g.Status); len(next) > 0 {
						fmt.Printf("next: %s\n", joinStatuses(next))
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func listCmd() *cobra.Command {
	var status, category, department, constituency, priority, submitter string
	var ongoing bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List grievances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.List(ctx, engine.ListOptions{
					ActorID:      actorID(),
					SubmitterID:  submitter,
					Status:       domain.Status(status),
					Ongoing:      ongoing,
					Category:     category,
					DepartmentID: department,
					Constituency: constituency,
					Priority:     domain.Priority(priority),
					Limit:        limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Category", "Department", "Created"})
				for _, g := range items {
					dept := ""
					if g.AssignedDepartmentID != nil {
						dept = *g.AssignedDepartmentID
					}
					tw.AppendRow(table.Row{g.ID, g.Title, g.Status, g.Priority, g.Category, dept, g.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().BoolVar(&ongoing, "ongoing", false, "only non-terminal grievances")
	cmd.Flags().StringVar(&category, "category", "", "category filter")
	cmd.Flags().StringVar(&department, "department", "", "assigned department filter")
	cmd.Flags().StringVar(&constituency, "constituency", "", "constituency filter")
	cmd.Flags().StringVar(&priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&submitter, "submitter", "", "submitter filter (staff only)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func setStatusCmd() *cobra.Command {
	var status, note string
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Move a grievance along the lifecycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.UpdateStatus(ctx, engine.StatusChangeOptions{
					ID:      id,
					To:      domain.Status(status),
					Note:    note,
					ActorID: actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&note, "note", "", "note recorded in history")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func assignCmd() *cobra.Command {
	var department, assignee, note string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign or reassign a grievance",
		Long:  "Without --department the category route from grievline.yml decides the department. A grievance under review auto-advances to assigned.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.Assign(ctx, engine.AssignOptions{
					ID:           id,
					DepartmentID: department,
					AssigneeID:   assignee,
					Note:         note,
					ActorID:      actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&department, "department", "", "department id (defaults to the category route)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "staff user working the grievance")
	cmd.Flags().StringVar(&note, "note", "", "note recorded in history")
	return cmd
}

func withdrawCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "withdraw <id>",
		Short: "Withdraw an own grievance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.UpdateStatus(ctx, engine.StatusChangeOptions{
					ID:      id,
					To:      domain.StatusWithdrawn,
					Note:    note,
					ActorID: actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "reason")
	return cmd
}

func deleteCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Hard delete a grievance (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.Delete(ctx, engine.DeleteOptions{ID: id, ActorID: actorID(), Note: note, Hard: true})
				if err != nil {
					return err
				}
				fmt.Printf("deleted %s (%s)\n", g.ID, g.Title)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "reason")
	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show the transition history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.Get(ctx, id, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(g.History)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "From", "To", "Actor", "Note", "At"})
				for _, tr := range g.History {
					tw.AppendRow(table.Row{tr.Seq, tr.From, tr.To, tr.ActorID, tr.Note, tr.TS})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func commentCmd() *cobra.Command {
	c := &cobra.Command{Use: "comment", Short: "Comment on grievances"}
	c.AddCommand(commentAddCmd())
	c.AddCommand(commentListCmd())
	return c
}

func commentAddCmd() *cobra.Command {
	var body string
	var internal bool
	cmd := &cobra.Command{
		Use:   "add <grievance-id>",
		Short: "Add a comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddComment(ctx, engine.CommentOptions{
					GrievanceID: id,
					AuthorID:    actorID(),
					Body:        body,
					Internal:    internal,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "comment text")
	cmd.Flags().BoolVar(&internal, "internal", false, "staff-only note, hidden from the submitter")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

func commentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <grievance-id>",
		Short: "List comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListComments(ctx, id, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				for _, c := range items {
					marker := ""
					if c.Internal {
						marker = " [internal]"
					}
					fmt.Printf("%s %s%s: %s\n", c.CreatedAt, c.AuthorID, marker, c.Body)
				}
				return nil
			})
		},
	}
	return cmd
}

func statsCmd() *cobra.Command {
	var department, category, constituency, since, until string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate grievance statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stats, err := e.Stats(ctx, engine.StatsOptions{
					ActorID:      actorID(),
					DepartmentID: department,
					Category:     category,
					Constituency: constituency,
					Since:        since,
					Until:        until,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				fmt.Printf("Total: %d\n", stats.TotalCount)
				fmt.Println("By status:")
				for _, st := range domain.Statuses() {
					fmt.Printf("  %s: %d\n", st, stats.CountByStatus[st])
				}
				if len(stats.CountByDepartment) > 0 {
					fmt.Println("By department:")
					for dept, n := range stats.CountByDepartment {
						fmt.Printf("  %s: %d\n", dept, n)
					}
				}
				if len(stats.CountByPriority) > 0 {
					fmt.Println("By priority:")
					for pr, n := range stats.CountByPriority {
						fmt.Printf("  %s: %d\n", pr, n)
					}
				}
				if stats.AverageResolutionSeconds != nil {
					d := time.Duration(*stats.AverageResolutionSeconds * float64(time.Second)).Round(time.Second)
					fmt.Printf("Average resolution: %s\n", d)
				} else {
					fmt.Println("Average resolution: n/a")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&department, "department", "", "department filter")
	cmd.Flags().StringVar(&category, "category", "", "category filter")
	cmd.Flags().StringVar(&constituency, "constituency", "", "constituency filter")
	cmd.Flags().StringVar(&since, "since", "", "RFC3339 lower bound on created_at")
	cmd.Flags().StringVar(&until, "until", "", "RFC3339 upper bound on created_at")
	return cmd
}

func departmentCmd() *cobra.Command {
	d := &cobra.Command{Use: "department", Short: "Manage departments"}
	d.AddCommand(departmentAddCmd())
	d.AddCommand(departmentListCmd())
	return d
}

func departmentAddCmd() *cobra.Command {
	var id, name, description string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a department",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.CreateDepartment(ctx, engine.DepartmentOptions{
					ID:          id,
					Name:        name,
					Description: description,
					ActorID:     actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "department id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func departmentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List departments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListDepartments(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Description"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.Name, d.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users"}
	u.AddCommand(userAddCmd())
	u.AddCommand(userListCmd())
	return u
}

func userAddCmd() *cobra.Command {
	var id, name, role string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create or update a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.UpsertUser(ctx, engine.UserOptions{
					ID:      id,
					Name:    name,
					Role:    domain.Role(role),
					ActorID: actorID(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "", "citizen, staff or admin (default citizen)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func userListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListUsers(ctx, domain.Role(role))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role"})
				for _, u := range items {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Role})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func notificationsCmd() *cobra.Command {
	n := &cobra.Command{Use: "notifications", Short: "Notification feed"}
	n.AddCommand(notificationsListCmd())
	n.AddCommand(notificationsReadCmd())
	return n
}

func notificationsListCmd() *cobra.Command {
	var unread bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Notifications(ctx, engine.NotificationQuery{
					ActorID:    actorID(),
					UnreadOnly: unread,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Title", "Read", "Created"})
				for _, n := range items {
					tw.AppendRow(table.Row{n.ID, n.Kind, n.Title, n.IsRead, n.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "only unread")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func notificationsReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.MarkNotificationRead(ctx, id, actorID()); err != nil {
					return err
				}
				fmt.Println("read", id)
				return nil
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyRevokeCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var userID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		Long:  "Prints the plaintext key exactly once; only its hash is stored.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				userID = actorID()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, plaintext, err := server.MintAPIKey(ctx, e.Repo, userID, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"id":      key.ID,
						"user_id": key.UserID,
						"name":    key.Name,
						"key":     plaintext,
					})
				}
				fmt.Printf("id: %s\nuser: %s\nkey: %s\n", key.ID, key.UserID, plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner user id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "User", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.UserID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "filter by owner")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, id); err != nil {
					return err
				}
				fmt.Println("revoked", id)
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Inspect workspace config"}
	c.AddCommand(configShowCmd())
	c.AddCommand(configValidateCmd())
	return c
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

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate grievline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if file != "" {
				_, err = config.FromFile(file)
			} else {
				_, err = config.Load(viper.GetString("workspace"))
			}
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "validate this file instead of the workspace config")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Audit event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
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

func whoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the acting user and role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.WhoAmI(ctx, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"actor_id": u.ID,
					"name":     u.Name,
					"role":     string(u.Role),
				})
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			a, err := app.Load(cmd.Context(), workspace, app.BootstrapAdmin{
				Email:    os.Getenv("GRIEVLINE_ADMIN_EMAIL"),
				Password: os.Getenv("GRIEVLINE_ADMIN_PASSWORD"),
			})
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.Config
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if addr == "" {
				addr = "127.0.0.1:8080"
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			secret := os.Getenv("GRIEVLINE_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("GRIEVLINE_JWT_SECRET is required for bearer auth")
			}
			logger := newLogger(os.Getenv("GRIEVLINE_LOG_LEVEL"))
			slog.SetDefault(logger)
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:        secret,
					TokenTTL:         time.Duration(cfg.Auth.JWTTTLMinutes) * time.Minute,
					AllowActorHeader: cfg.Auth.AllowActorHeader,
					Logger:           logger,
				},
			})
			if err != nil {
				return err
			}
			dispatcher := notify.FromConfig(cfg.Notifier, a.Engine.Repo, logger)
			dispatcher.Start()
			defer dispatcher.Stop()
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Grievline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path from config)")
	return cmd
}

// --- helpers ---

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	a, err := app.Load(ctx, viper.GetString("workspace"), app.BootstrapAdmin{})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a.Engine)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		return fn(ctx, e.Repo)
	})
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

func joinStatuses(statuses []domain.Status) string {
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}
