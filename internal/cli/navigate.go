package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/remotecpp-dev/remotecpp/internal/fileutil"
	"github.com/remotecpp-dev/remotecpp/internal/resolve"
	"github.com/remotecpp-dev/remotecpp/internal/search"
	"github.com/remotecpp-dev/remotecpp/internal/session"
	"github.com/spf13/cobra"
)

type ResolutionSummary struct {
	Mode       string   `json:"mode"`
	Query      string   `json:"query"`
	Kind       string   `json:"kind"`
	Path       string   `json:"path,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
}

// PrintResolution prints the unique path, or every candidate of an
// ambiguous result. A result with no match is an error.
func PrintResolution(w io.Writer, summary ResolutionSummary, asJSON bool) error {
	if asJSON {
		return fileutil.PrintJSON(w, summary)
	}
	switch summary.Kind {
	case resolve.Unique.String():
		fmt.Fprintln(w, summary.Path)
	case resolve.Ambiguous.String():
		for _, candidate := range summary.Candidates {
			fmt.Fprintln(w, candidate)
		}
	default:
		return fmt.Errorf("%s: no match for %s", summary.Mode, summary.Query)
	}
	return nil
}

func resolutionSummary(mode, query string, res resolve.Resolution) ResolutionSummary {
	return ResolutionSummary{
		Mode:       mode,
		Query:      query,
		Kind:       res.Kind.String(),
		Path:       res.Path,
		Candidates: res.Candidates,
	}
}

func RunToggle(cmd *cobra.Command, args []string) error {
	asJSON, err := OptionalBoolFlag(cmd, "json", false)
	if err != nil {
		return err
	}
	return withSession(cmd, func(env environment, sess *session.Session) error {
		var res resolve.Resolution
		err := withProgress("toggle "+args[0], asJSON, func() error {
			var err error
			res, err = sess.Toggle(cmd.Context(), args[0])
			return err
		})
		if err != nil {
			return err
		}
		return PrintResolution(cmd.OutOrStdout(), resolutionSummary("toggle", args[0], res), asJSON)
	})
}

func RunInclude(cmd *cobra.Command, args []string) error {
	asJSON, err := OptionalBoolFlag(cmd, "json", false)
	if err != nil {
		return err
	}
	line, err := OptionalIntFlag(cmd, "line", 0)
	if err != nil {
		return err
	}
	if len(args) < 2 && line < 1 {
		return fmt.Errorf("include needs an include literal or --line")
	}
	return withSession(cmd, func(env environment, sess *session.Session) error {
		var (
			res   resolve.Resolution
			query string
		)
		err := withProgress("include "+args[0], asJSON, func() error {
			var err error
			if len(args) > 1 {
				query = args[1]
				res, err = sess.Include(cmd.Context(), args[0], args[1])
				return err
			}
			query = args[0] + ":" + strconv.Itoa(line)
			res, err = sess.GotoInclude(cmd.Context(), args[0], line)
			return err
		})
		if err != nil {
			return err
		}
		return PrintResolution(cmd.OutOrStdout(), resolutionSummary("include", query, res), asJSON)
	})
}

type FindSummary struct {
	Mode    string          `json:"mode"`
	Query   string          `json:"query"`
	Results []search.Result `json:"results"`
}

func RunFind(cmd *cobra.Command, args []string) error {
	asJSON, err := OptionalBoolFlag(cmd, "json", false)
	if err != nil {
		return err
	}
	limit, err := OptionalIntFlag(cmd, "limit", search.DefaultLimit)
	if err != nil {
		return err
	}
	return withSession(cmd, func(env environment, sess *session.Session) error {
		results := sess.Find(args[0], limit)
		if asJSON {
			if results == nil {
				results = []search.Result{}
			}
			return fileutil.PrintJSON(cmd.OutOrStdout(), FindSummary{Mode: "find", Query: args[0], Results: results})
		}
		if len(results) == 0 {
			return fmt.Errorf("find: no indexed file matches %q (run remotecpp ls to index the project)", args[0])
		}
		for _, result := range results {
			fmt.Fprintln(cmd.OutOrStdout(), result.Path)
		}
		return nil
	})
}

type FileSummary struct {
	Mode   string `json:"mode"`
	Remote string `json:"remote,omitempty"`
	Local  string `json:"local,omitempty"`
}

func printFileSummary(cmd *cobra.Command, summary FileSummary, asJSON bool) error {
	if asJSON {
		return fileutil.PrintJSON(cmd.OutOrStdout(), summary)
	}
	switch {
	case summary.Local != "" && summary.Mode != "push":
		fmt.Fprintln(cmd.OutOrStdout(), summary.Local)
	case summary.Remote != "":
		fmt.Fprintln(cmd.OutOrStdout(), summary.Remote)
	}
	return nil
}

// runFileOp runs a file operation with a spinner and prints its result.
func runFileOp(cmd *cobra.Command, label string, op func(sess *session.Session) (FileSummary, error)) error {
	asJSON, err := OptionalBoolFlag(cmd, "json", false)
	if err != nil {
		return err
	}
	return withSession(cmd, func(env environment, sess *session.Session) error {
		var summary FileSummary
		err := withProgress(label, asJSON, func() error {
			var err error
			summary, err = op(sess)
			return err
		})
		if err != nil {
			return err
		}
		return printFileSummary(cmd, summary, asJSON)
	})
}

func RunOpen(cmd *cobra.Command, args []string) error {
	refresh, err := OptionalBoolFlag(cmd, "refresh", false)
	if err != nil {
		return err
	}
	return runFileOp(cmd, "download "+args[0], func(sess *session.Session) (FileSummary, error) {
		local, err := sess.Open(cmd.Context(), args[0], refresh)
		return FileSummary{Mode: "open", Remote: sess.Abs(args[0]), Local: local}, err
	})
}

func RunPush(cmd *cobra.Command, args []string) error {
	return runFileOp(cmd, "upload "+args[0], func(sess *session.Session) (FileSummary, error) {
		remote, err := sess.Push(cmd.Context(), args[0])
		return FileSummary{Mode: "push", Remote: remote, Local: args[0]}, err
	})
}

func RunNewFile(cmd *cobra.Command, args []string) error {
	return runFileOp(cmd, "create "+args[0], func(sess *session.Session) (FileSummary, error) {
		local, err := sess.NewFile(cmd.Context(), args[0])
		return FileSummary{Mode: "new", Remote: sess.Abs(args[0]), Local: local}, err
	})
}

func RunRemove(cmd *cobra.Command, args []string) error {
	return runFileOp(cmd, "remove "+args[0], func(sess *session.Session) (FileSummary, error) {
		err := sess.DeleteFile(cmd.Context(), args[0])
		return FileSummary{Mode: "rm", Remote: sess.Abs(args[0])}, err
	})
}

func RunMove(cmd *cobra.Command, args []string) error {
	return runFileOp(cmd, "move "+args[0], func(sess *session.Session) (FileSummary, error) {
		local, err := sess.MoveFile(cmd.Context(), args[0], args[1])
		return FileSummary{Mode: "mv", Remote: sess.Abs(args[1]), Local: local}, err
	})
}
