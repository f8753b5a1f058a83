package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/revwatch/internal/revwatch"
	"github.com/colonyops/revwatch/pkg/iojson"
)

type OpenCmd struct {
	flags *Flags
	app   *revwatch.App

	// flags
	jsonOutput bool
}

// NewOpenCmd creates a new open command.
func NewOpenCmd(flags *Flags, app *revwatch.App) *OpenCmd {
	return &OpenCmd{flags: flags, app: app}
}

// Register adds the open command to the application.
func (cmd *OpenCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "open",
		Usage:     "Register a repository and open a review session for its branch",
		UsageText: "revwatch open [path] [--json]",
		Description: `Registers the git repository at path (default: current directory) and
opens the review session for the checked out branch. A new session starts
with an initial snapshot of the branch diff.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output as JSON",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *OpenCmd) run(ctx context.Context, c *cli.Command) error {
	path := c.Args().First()
	if path == "" {
		path = "."
	}

	view, err := cmd.app.Reviews.OpenRepo(ctx, path)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}

	out := c.Root().Writer
	if cmd.jsonOutput {
		return iojson.WriteWith(out, c.Root().ErrWriter, view)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Session:\t%s\n", view.Session.ID)
	_, _ = fmt.Fprintf(w, "Repository:\t%s (%s)\n", view.Repo.Name, view.Repo.Path)
	_, _ = fmt.Fprintf(w, "Branch:\t%s\n", view.Session.Branch)
	_, _ = fmt.Fprintf(w, "Base:\t%s\n", view.Session.EffectiveBaseBranch(view.Repo))
	if view.Latest != nil {
		_, _ = fmt.Fprintf(w, "Latest snapshot:\t%s (%d files)\n", view.Latest.ID, len(view.Latest.Files))
	}
	return w.Flush()
}
