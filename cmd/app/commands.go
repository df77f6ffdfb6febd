package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/atvirokodosprendimai/reportdesk/internal/application"
	"github.com/atvirokodosprendimai/reportdesk/internal/domain"
	"github.com/urfave/cli/v3"
)

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "output raw JSON"}
}

// withConfig loads the stored client config before running fn.
func withConfig(fn func(ctx context.Context, c *cli.Command, cfg cliConfig) error) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return fn(ctx, c, cfg)
	}
}

type whoamiOutput struct {
	ID          string      `json:"id"`
	Username    string      `json:"username"`
	Role        domain.Role `json:"role"`
	Department  string      `json:"department"`
	Permissions []string    `json:"permissions"`
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authentication commands",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Login and store CLI token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "transport", Value: defaultTransport, Usage: "uds or http"},
					&cli.StringFlag{Name: "server", Value: defaultServer},
					&cli.StringFlag{Name: "socket", Value: defaultSocket},
					&cli.StringFlag{Name: "username", Required: true},
					&cli.StringFlag{Name: "password", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg := cliConfig{Transport: c.String("transport"), Server: c.String("server"), Socket: c.String("socket")}
					var out application.LoginResult
					if err := doLogin(ctx, cfg, c.String("username"), c.String("password"), &out); err != nil {
						return err
					}
					cfg.Token = out.Token
					if err := saveConfig(cfg); err != nil {
						return err
					}
					_, _ = fmt.Fprintf(stdout, "logged in as %s (%s)\n", out.User.Username, out.User.Role)
					return nil
				},
			},
			{
				Name:  "whoami",
				Usage: "Show current authenticated user",
				Flags: []cli.Flag{jsonFlag()},
				Action: withConfig(func(ctx context.Context, c *cli.Command, cfg cliConfig) error {
					var out whoamiOutput
					if err := doWhoAmI(ctx, cfg, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					sort.Strings(out.Permissions)
					printKV([][2]string{
						{"id", out.ID},
						{"username", out.Username},
						{"role", string(out.Role)},
						{"department", out.Department},
						{"permissions", fmt.Sprint(out.Permissions)},
					})
					return nil
				}),
			},
			{
				Name:  "logout",
				Usage: "Clear local CLI auth token",
				Action: withConfig(func(ctx context.Context, c *cli.Command, cfg cliConfig) error {
					_ = doLogout(ctx, cfg)
					cfg.Token = ""
					if err := saveConfig(cfg); err != nil {
						return err
					}
					_, _ = fmt.Fprintln(stdout, "logged out")
					return nil
				}),
			},
		},
	}
}

func reportsCommand() *cli.Command {
	return &cli.Command{
		Name:  "reports",
		Usage: "Error report commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List reports, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status"},
					&cli.StringFlag{Name: "type"},
					&cli.IntFlag{Name: "page", Value: 1},
					&cli.IntFlag{Name: "page-size", Value: 10},
					jsonFlag(),
				},
				Action: withConfig(func(ctx context.Context, c *cli.Command, cfg cliConfig) error {
					filter := domain.ReportFilter{
						Status:   domain.Status(c.String("status")),
						Type:     domain.ReportType(c.String("type")),
						Page:     int(c.Int("page")),
						PageSize: int(c.Int("page-size")),
					}
					var out domain.ReportPage
					if err := doReportsList(ctx, cfg, filter, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printReports(out)
					return nil
				}),
			},
			{
				Name:  "show",
				Usage: "Show one report",
				Flags: []cli.Flag{&cli.StringFlag{Name: "id", Required: true}, jsonFlag()},
				Action: withConfig(func(ctx context.Context, c *cli.Command, cfg cliConfig) error {
					var out domain.ErrorReport
					if err := doReportsGet(ctx, cfg, c.String("id"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printReport(out)
					return nil
				}),
			},
			{
				Name:  "create",
				Usage: "Create a report, uploading any attached files first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Required: true},
					&cli.StringFlag{Name: "type", Value: string(domain.TypeBug), Usage: "bug, feature, improvement or other"},
					&cli.StringFlag{Name: "severity", Value: string(domain.SeverityMedium), Usage: "low, medium, high or critical"},
					&cli.StringFlag{Name: "description", Required: true},
					&cli.StringSliceFlag{Name: "attach", Usage: "local file to attach, repeatable"},
					jsonFlag(),
				},
				Action: withConfig(func(ctx context.Context, c *cli.Command, cfg cliConfig) error {
					attachments, err := uploadAll(ctx, cfg, c.StringSlice("attach"))
					if err != nil {
						return err
					}
					req := domain.CreateReportRequest{
						Title:       c.String("title"),
						Type:        domain.ReportType(c.String("type")),
						Severity:    domain.Severity(c.String("severity")),
						Description: c.String("description"),
						Attachments: attachments,
					}
					var out struct {
						ID string `json:"id"`
					}
					if err := doReportsCreate(ctx, cfg, req, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printKV([][2]string{{"id", out.ID}, {"attachments", fmt.Sprint(len(attachments))}})
					return nil
				}),
			},
			{
				Name:  "status",
				Usage: "Change report status",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
					&cli.StringFlag{Name: "status", Required: true, Usage: "open, in-progress, resolved or closed"},
					&cli.StringFlag{Name: "comment"},
				},
				Action: withConfig(func(ctx context.Context, c *cli.Command, cfg cliConfig) error {
					status := domain.Status(c.String("status"))
					if err := doReportsStatus(ctx, cfg, c.String("id"), status, c.String("comment")); err != nil {
						return err
					}
					_, _ = fmt.Fprintf(stdout, "status set to %s\n", statusBadge(status))
					return nil
				}),
			},
			{
				Name:  "assign",
				Usage: "Assign a report; an empty assignee clears it",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
					&cli.StringFlag{Name: "assignee", Usage: "user id"},
				},
				Action: withConfig(func(ctx context.Context, c *cli.Command, cfg cliConfig) error {
					if err := doReportsAssign(ctx, cfg, c.String("id"), c.String("assignee")); err != nil {
						return err
					}
					_, _ = fmt.Fprintln(stdout, "ok")
					return nil
				}),
			},
			{
				Name:  "comment",
				Usage: "Add a comment to the report history",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
					&cli.StringFlag{Name: "comment", Required: true},
				},
				Action: withConfig(func(ctx context.Context, c *cli.Command, cfg cliConfig) error {
					if err := doReportsComment(ctx, cfg, c.String("id"), c.String("comment")); err != nil {
						return err
					}
					_, _ = fmt.Fprintln(stdout, "ok")
					return nil
				}),
			},
			{
				Name:  "attach",
				Usage: "Upload files and attach them to a report",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true},
					&cli.StringSliceFlag{Name: "file", Required: true, Usage: "local file, repeatable"},
				},
				Action: withConfig(func(ctx context.Context, c *cli.Command, cfg cliConfig) error {
					attachments, err := uploadAll(ctx, cfg, c.StringSlice("file"))
					if err != nil {
						return err
					}
					if err := doReportsAttach(ctx, cfg, c.String("id"), attachments); err != nil {
						return err
					}
					_, _ = fmt.Fprintf(stdout, "attached %d file(s)\n", len(attachments))
					return nil
				}),
			},
			{
				Name:  "delete",
				Usage: "Delete a report with its history and files",
				Flags: []cli.Flag{&cli.StringFlag{Name: "id", Required: true}},
				Action: withConfig(func(ctx context.Context, c *cli.Command, cfg cliConfig) error {
					if err := doReportsDelete(ctx, cfg, c.String("id")); err != nil {
						return err
					}
					_, _ = fmt.Fprintln(stdout, "deleted")
					return nil
				}),
			},
			{
				Name:  "history",
				Usage: "Show report history, newest first",
				Flags: []cli.Flag{&cli.StringFlag{Name: "id", Required: true}, jsonFlag()},
				Action: withConfig(func(ctx context.Context, c *cli.Command, cfg cliConfig) error {
					var out []domain.HistoryEntry
					if err := doReportsHistory(ctx, cfg, c.String("id"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printHistory(out)
					return nil
				}),
			},
			{
				Name:  "stats",
				Usage: "Show dashboard statistics",
				Flags: []cli.Flag{jsonFlag()},
				Action: withConfig(func(ctx context.Context, c *cli.Command, cfg cliConfig) error {
					var out domain.StatSnapshot
					if err := doReportsStats(ctx, cfg, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printStats(out)
					return nil
				}),
			},
		},
	}
}

func usersCommand() *cli.Command {
	return &cli.Command{
		Name:  "users",
		Usage: "User management commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List users",
				Flags: []cli.Flag{&cli.StringFlag{Name: "q"}, &cli.IntFlag{Name: "limit", Value: 200}, jsonFlag()},
				Action: withConfig(func(ctx context.Context, c *cli.Command, cfg cliConfig) error {
					var out []domain.User
					if err := doUsersList(ctx, cfg, c.String("q"), int(c.Int("limit")), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printUsers(out)
					return nil
				}),
			},
			{
				Name:  "create",
				Usage: "Create a user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Required: true},
					&cli.StringFlag{Name: "password", Required: true},
					&cli.StringFlag{Name: "role", Value: string(domain.RoleUser), Usage: "admin, manager or user"},
					&cli.StringFlag{Name: "department", Required: true},
					jsonFlag(),
				},
				Action: withConfig(func(ctx context.Context, c *cli.Command, cfg cliConfig) error {
					req := domain.CreateUserRequest{
						Username:   c.String("username"),
						Password:   c.String("password"),
						Role:       domain.Role(c.String("role")),
						Department: c.String("department"),
					}
					var out domain.User
					if err := doUsersCreate(ctx, cfg, req, &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printUsers([]domain.User{out})
					return nil
				}),
			},
			{
				Name:  "passwd",
				Usage: "Change your own password",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "old", Required: true},
					&cli.StringFlag{Name: "new", Required: true},
				},
				Action: withConfig(func(ctx context.Context, c *cli.Command, cfg cliConfig) error {
					if err := doUsersPasswd(ctx, cfg, c.String("old"), c.String("new")); err != nil {
						return err
					}
					_, _ = fmt.Fprintln(stdout, "password changed")
					return nil
				}),
			},
			{
				Name:  "reset",
				Usage: "Reset a user's password to the server default",
				Flags: []cli.Flag{&cli.StringFlag{Name: "id", Required: true}},
				Action: withConfig(func(ctx context.Context, c *cli.Command, cfg cliConfig) error {
					if err := doUsersReset(ctx, cfg, c.String("id")); err != nil {
						return err
					}
					_, _ = fmt.Fprintln(stdout, "password reset")
					return nil
				}),
			},
			{
				Name:  "delete",
				Usage: "Delete a user without report references",
				Flags: []cli.Flag{&cli.StringFlag{Name: "id", Required: true}},
				Action: withConfig(func(ctx context.Context, c *cli.Command, cfg cliConfig) error {
					if err := doUsersDelete(ctx, cfg, c.String("id")); err != nil {
						return err
					}
					_, _ = fmt.Fprintln(stdout, "deleted")
					return nil
				}),
			},
		},
	}
}

func filesCommand() *cli.Command {
	return &cli.Command{
		Name:  "files",
		Usage: "Attachment storage commands",
		Commands: []*cli.Command{
			{
				Name:  "upload",
				Usage: "Upload a local file",
				Flags: []cli.Flag{&cli.StringFlag{Name: "file", Required: true}, jsonFlag()},
				Action: withConfig(func(ctx context.Context, c *cli.Command, cfg cliConfig) error {
					var out domain.FileAttachment
					if err := doFilesUpload(ctx, cfg, c.String("file"), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printKV([][2]string{{"filename", out.Filename}, {"path", out.Path}})
					return nil
				}),
			},
			{
				Name:  "delete",
				Usage: "Delete a stored file by server path",
				Flags: []cli.Flag{&cli.StringFlag{Name: "path", Required: true}},
				Action: withConfig(func(ctx context.Context, c *cli.Command, cfg cliConfig) error {
					if err := doFilesDelete(ctx, cfg, c.String("path")); err != nil {
						return err
					}
					_, _ = fmt.Fprintln(stdout, "deleted")
					return nil
				}),
			},
		},
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Audit log commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List audit log entries",
				Flags: []cli.Flag{&cli.IntFlag{Name: "limit", Value: 200}, jsonFlag()},
				Action: withConfig(func(ctx context.Context, c *cli.Command, cfg cliConfig) error {
					var out []domain.AuditRecord
					if err := doAuditList(ctx, cfg, int(c.Int("limit")), &out); err != nil {
						return err
					}
					if c.Bool("json") {
						return printJSON(out)
					}
					printAuditRecords(out)
					return nil
				}),
			},
		},
	}
}
