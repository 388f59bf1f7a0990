package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arctek/swarm/ticket"
)

var (
	commentAuthor  string
	commentsFormat string
)

var commentCmd = &cobra.Command{
	Use:   "comment <id> <body>",
	Short: "Add a comment to a ticket",
	Args:  exactArgs(2),
	RunE:  runComment,
}

var commentsCmd = &cobra.Command{
	Use:   "comments <id>",
	Short: "List comments on a ticket",
	Args:  exactArgs(1),
	RunE:  runComments,
}

func init() {
	commentCmd.Flags().StringVar(&commentAuthor, "author", ticket.Human, "Comment author")
	commentsCmd.Flags().StringVar(&commentsFormat, "format", "text", "Output format (text, json)")
}

func runComment(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	d, q, err := openQueue()
	if err != nil {
		return err
	}
	defer d.Close()

	if err := q.Comment(id, commentAuthor, args[1]); err != nil {
		return err
	}
	fmt.Printf("Comment added to ticket %d.\n", id)
	return nil
}

func runComments(cmd *cobra.Command, args []string) error {
	if err := parseFormatFlag(commentsFormat); err != nil {
		return err
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	d, q, err := openQueue()
	if err != nil {
		return err
	}
	defer d.Close()

	comments, err := q.Comments(id)
	if err != nil {
		return err
	}

	if commentsFormat == "json" {
		return printJSON(comments)
	}
	if len(comments) == 0 {
		fmt.Println("No comments.")
		return nil
	}
	for _, c := range comments {
		fmt.Printf("[%s] %s: %s\n", fmtTime(c.CreatedAt), c.Author, c.Body)
	}
	return nil
}
