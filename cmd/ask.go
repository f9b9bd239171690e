package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fabfab/visacoach/chat"
)

var flagClarification string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about CPT, OPT or SEVIS",
	RunE: func(cmd *cobra.Command, args []string) error {
		in := bufio.NewScanner(cmd.InOrStdin())
		out := cmd.OutOrStdout()

		question := strings.TrimSpace(strings.Join(args, " "))
		if question == "" {
			fmt.Fprint(out, "Enter your question: ")
			question = readLine(in)
		}
		if question == "" {
			return chat.ErrEmptyQuery
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		svc, err := a.Open(ctx)
		if err != nil {
			return err
		}

		sess := chat.Session{OriginalQuery: question, Clarification: flagClarification}
		if strings.TrimSpace(sess.Clarification) == "" && chat.IsVague(question) {
			fmt.Fprintln(out, "Could you give a little more detail? For example: which semester you are in,")
			fmt.Fprint(out, "whether the job is full-time or part-time, paid or unpaid: ")
			sess.Clarification = readLine(in)
		}

		sess, err = svc.AskStream(ctx, sess, func(chunk string) error {
			_, err := io.WriteString(out, chunk)
			return err
		})
		if err != nil {
			return err
		}
		if sess.NeedsClarification {
			return fmt.Errorf("question is too vague to answer without more detail")
		}

		fmt.Fprintln(out)
		printFooter(out, sess.Citations)
		return nil
	},
}

// disclaimer follows every answer shown to a student.
const disclaimer = "Disclaimer: Always verify with your ISSS Advisor for final approval."

func init() {
	askCmd.Flags().StringVar(&flagClarification, "clarification", "", "extra context for a vague question")
	rootCmd.AddCommand(askCmd)
}

func readLine(in *bufio.Scanner) string {
	if in.Scan() {
		return strings.TrimSpace(in.Text())
	}
	return ""
}

func printFooter(out io.Writer, citations []chat.Citation) {
	printCitations(out, citations)
	fmt.Fprintln(out)
	fmt.Fprintln(out, disclaimer)
}

func printCitations(out io.Writer, citations []chat.Citation) {
	if len(citations) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Sources:")
	for idx, c := range citations {
		fmt.Fprintf(out, "%d. %s (%s)\n", idx+1, c.Title, c.Source)
		if c.Insight == nil {
			continue
		}
		if c.Insight.ChunkCount > 0 {
			fmt.Fprintf(out, "   Indexed chunks: %d\n", c.Insight.ChunkCount)
		}
		if len(c.Insight.ReferrerPages) > 0 {
			fmt.Fprintf(out, "   Linked from: %s\n", strings.Join(c.Insight.ReferrerPages, ", "))
		}
	}
}
