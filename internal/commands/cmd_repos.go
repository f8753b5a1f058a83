package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/revwatch/internal/revwatch"
	"github.com/colonyops/revwatch/pkg/iojson"
)

type ReposCmd struct {
	flags *Flags
	app   *revwatch.App

	// flags
	jsonOutput bool
}

// NewReposCmd creates a new repos command.
func NewReposCmd(flags *Flags, app *revwatch.App) *ReposCmd {
	return &ReposCmd{flags: flags, app: app}
}

// Register adds the repos command to the application.
func (cmd *ReposCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "repos",
		Usage: "Registered repository commands",
		Commands: []*cli.Command{
			{
				Name:      "ls",
				Usage:     "List registered repositories and their sessions",
				UsageText: "revwatch repos ls [--json]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:        "json",
						Usage:       "output as JSON lines",
						Destination: &cmd.jsonOutput,
					},
				},
				Action: cmd.runList,
			},
			{
				Name:      "rm",
				Usage:     "Forget a repository with its sessions, snapshots and comments",
				UsageText: "revwatch repos rm <repo-id>",
				Action:    cmd.runRemove,
			},
		},
	})

	return app
}

// repoInfo is the JSON output format for revwatch repos ls --json.
type repoInfo struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Path     string   `json:"path"`
	Base     string   `json:"base_branch"`
	Branches []string `json:"sessions"`
}

func (cmd *ReposCmd) runList(ctx context.Context, c *cli.Command) error {
	repos, err := cmd.app.Reviews.ListRepos(ctx)
	if err != nil {
		return fmt.Errorf("list repositories: %w", err)
	}

	infos := make([]repoInfo, 0, len(repos))
	for _, r := range repos {
		sessions, err := cmd.app.Reviews.ListSessions(ctx, r.ID)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		info := repoInfo{ID: r.ID, Name: r.Name, Path: r.Path, Base: r.BaseBranch, Branches: []string{}}
		for _, s := range sessions {
			info.Branches = append(info.Branches, s.Branch)
		}
		infos = append(infos, info)
	}

	out := c.Root().Writer
	if cmd.jsonOutput {
		for _, info := range infos {
			if err := iojson.WriteLine(out, info); err != nil {
				return err
			}
		}
		return nil
	}

	if len(infos) == 0 {
		_, _ = fmt.Fprintln(c.Root().ErrWriter, "No repositories registered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tBASE\tSESSIONS\tPATH")
	for _, info := range infos {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", info.ID, info.Name, info.Base, len(info.Branches), info.Path)
	}
	return w.Flush()
}

func (cmd *ReposCmd) runRemove(ctx context.Context, c *cli.Command) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("repository id is required")
	}
	if err := cmd.app.Reviews.DeleteRepo(ctx, id); err != nil {
		return fmt.Errorf("remove repository: %w", err)
	}
	_, _ = fmt.Fprintf(c.Root().Writer, "Removed repository %s\n", id)
	return nil
}
