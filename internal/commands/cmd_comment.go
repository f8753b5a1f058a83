package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/revwatch/internal/revwatch"
	"github.com/colonyops/revwatch/pkg/iojson"
)

type CommentCmd struct {
	flags *Flags
	app   *revwatch.App

	// flags
	sessionID string
	input     iojson.FileReader[revwatch.CommentInput]
}

// NewCommentCmd creates a new comment command.
func NewCommentCmd(flags *Flags, app *revwatch.App) *CommentCmd {
	return &CommentCmd{flags: flags, app: app}
}

// Register adds the comment command to the application.
func (cmd *CommentCmd) Register(app *cli.Command) *cli.Command {
	sessionFlag := &cli.StringFlag{
		Name:        "session",
		Aliases:     []string{"s"},
		Usage:       "session ID",
		Required:    true,
		Destination: &cmd.sessionID,
	}

	app.Commands = append(app.Commands, &cli.Command{
		Name:  "comment",
		Usage: "Review comment commands",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add a draft comment from JSON input",
				UsageText: "revwatch comment add --session <id> [-f comment.json]",
				Description: `Reads a comment from a file or stdin:

  {"snapshot_id": "...", "file_path": "main.go", "start_line": 3,
   "end_line": 5, "side": "new", "body": "..."}`,
				Flags:  []cli.Flag{sessionFlag, cmd.input.Flag()},
				Action: cmd.runAdd,
			},
			{
				Name:      "ls",
				Usage:     "List comments of a session",
				UsageText: "revwatch comment ls --session <id>",
				Flags:     []cli.Flag{sessionFlag},
				Action:    cmd.runList,
			},
			{
				Name:      "send",
				Usage:     "Mark comments as sent to the agent",
				UsageText: "revwatch comment send --session <id> <comment-id>...",
				Flags:     []cli.Flag{sessionFlag},
				Action:    cmd.runSend,
			},
		},
	})

	return app
}

func (cmd *CommentCmd) runAdd(ctx context.Context, c *cli.Command) error {
	in, err := cmd.input.Read()
	if err != nil {
		return err
	}

	comment, err := cmd.app.Reviews.AddComment(ctx, cmd.sessionID, in)
	if err != nil {
		return fmt.Errorf("add comment: %w", err)
	}
	return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, comment)
}

func (cmd *CommentCmd) runList(ctx context.Context, c *cli.Command) error {
	comments, err := cmd.app.Reviews.ListComments(ctx, cmd.sessionID)
	if err != nil {
		return fmt.Errorf("list comments: %w", err)
	}

	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tFILE\tLINES\tBODY")
	for _, cm := range comments {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d-%d\t%s\n", cm.ID, cm.Status, cm.FilePath, cm.StartLine, cm.EndLine, cm.Body)
	}
	return w.Flush()
}

func (cmd *CommentCmd) runSend(ctx context.Context, c *cli.Command) error {
	ids := c.Args().Slice()
	sent, err := cmd.app.Reviews.SendComments(ctx, cmd.sessionID, ids)
	if err != nil {
		return fmt.Errorf("send comments: %w", err)
	}
	_, _ = fmt.Fprintf(c.Root().Writer, "Sent %d comment(s)\n", len(sent))
	return nil
}
