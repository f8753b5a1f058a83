package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/revwatch/internal/core/review"
	"github.com/colonyops/revwatch/internal/revwatch"
	"github.com/colonyops/revwatch/pkg/iojson"
)

type SnapshotCmd struct {
	flags *Flags
	app   *revwatch.App

	// flags
	jsonOutput bool
}

// NewSnapshotCmd creates the snapshot, snapshots and diff commands.
func NewSnapshotCmd(flags *Flags, app *revwatch.App) *SnapshotCmd {
	return &SnapshotCmd{flags: flags, app: app}
}

// Register adds the snapshot commands to the application.
func (cmd *SnapshotCmd) Register(app *cli.Command) *cli.Command {
	jsonFlag := &cli.BoolFlag{
		Name:        "json",
		Usage:       "output as JSON",
		Destination: &cmd.jsonOutput,
	}

	app.Commands = append(app.Commands,
		&cli.Command{
			Name:      "snapshot",
			Usage:     "Capture a snapshot of the working tree",
			UsageText: "revwatch snapshot [path] [--json]",
			Description: `Opens the session for the repository at path (default: current directory)
and records a manual snapshot. When HEAD has not moved since the latest
snapshot, that snapshot is reported instead.`,
			Flags:  []cli.Flag{jsonFlag},
			Action: cmd.runCapture,
		},
		&cli.Command{
			Name:      "snapshots",
			Usage:     "List snapshots of the current branch, newest first",
			UsageText: "revwatch snapshots [path] [--json]",
			Flags:     []cli.Flag{jsonFlag},
			Action:    cmd.runList,
		},
		&cli.Command{
			Name:      "diff",
			Usage:     "Print the raw diff of a snapshot",
			UsageText: "revwatch diff <snapshot-id>",
			Action:    cmd.runDiff,
		},
	)

	return app
}

func (cmd *SnapshotCmd) session(ctx context.Context, c *cli.Command) (revwatch.SessionView, error) {
	path := c.Args().First()
	if path == "" {
		path = "."
	}
	view, err := cmd.app.Reviews.OpenRepo(ctx, path)
	if err != nil {
		return revwatch.SessionView{}, fmt.Errorf("open repository: %w", err)
	}
	return view, nil
}

func (cmd *SnapshotCmd) runCapture(ctx context.Context, c *cli.Command) error {
	view, err := cmd.session(ctx, c)
	if err != nil {
		return err
	}

	snap, err := cmd.app.Reviews.Capture(ctx, view.Session.ID)
	if err != nil {
		return fmt.Errorf("capture snapshot: %w", err)
	}

	if cmd.jsonOutput {
		return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, snap.Summary())
	}
	return printSnapshots(c, []review.SnapshotSummary{snap.Summary()})
}

func (cmd *SnapshotCmd) runList(ctx context.Context, c *cli.Command) error {
	view, err := cmd.session(ctx, c)
	if err != nil {
		return err
	}

	snaps, err := cmd.app.Reviews.ListSnapshots(ctx, view.Session.ID)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}

	if cmd.jsonOutput {
		for _, s := range snaps {
			if err := iojson.WriteLine(c.Root().Writer, s); err != nil {
				return err
			}
		}
		return nil
	}
	return printSnapshots(c, snaps)
}

func (cmd *SnapshotCmd) runDiff(ctx context.Context, c *cli.Command) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("snapshot id is required")
	}

	snap, err := cmd.app.Reviews.GetSnapshot(ctx, id)
	if err != nil {
		return fmt.Errorf("get snapshot: %w", err)
	}
	_, err = fmt.Fprint(c.Root().Writer, snap.RawDiff)
	return err
}

func printSnapshots(c *cli.Command, snaps []review.SnapshotSummary) error {
	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCREATED\tTRIGGER\tHEAD\tFILES\tCHANGED")

	for _, s := range snaps {
		head := "-"
		if s.HeadCommit != nil {
			head = shortHash(*s.HeadCommit)
		}
		changed := "-"
		if s.ChangedFiles != nil {
			changed = strings.Join(s.ChangedFiles, ",")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			s.ID, s.CreatedAt.Local().Format(time.DateTime), s.Trigger, head, len(s.Files), changed)
	}

	return w.Flush()
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}
