package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/kballard/go-shellquote"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	fserrors "github.com/fsdbtools/fsdbview/common/errors"
	"github.com/fsdbtools/fsdbview/fsdb"
	"github.com/fsdbtools/fsdbview/session"
)

type viewCommand struct {
	script string
}

func (c *viewCommand) register() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view [FILE]",
		Short: "opens FILE in an interactive command shell",
		Long: `Opens FILE (or the table on stdin) and reads shell commands, one per line.
Type "help" in the shell for the list of commands.`,
	}
	cmd.Flags().StringVar(&c.script, "script", "", "read shell commands from this file instead of stdin")
	return cmd
}

func (c *viewCommand) tolerateFormatError() bool { return true }

func (c *viewCommand) run(s *session.Session, inj Injector, cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	prompt := false
	if c.script != "" {
		f, err := os.Open(c.script)
		if err != nil {
			return errors.Wrap(err, "opening script")
		}
		defer f.Close()
		in = f
	} else if len(args) == 0 || args[0] == "-" {
		return errors.New("the table was read from stdin; pass shell commands with --script")
	} else if f, ok := in.(*os.File); ok {
		prompt = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	sh := &shell{
		s:        s,
		out:      cmd.OutOrStdout(),
		errOut:   cmd.ErrOrStderr(),
		prompt:   prompt,
		rowLimit: inj.RowLimit(),
	}
	return sh.loop(cmd.Context(), in)
}

// shell is a line oriented front end to one Session. Command failures are
// reported and the shell keeps going; only failing to write output ends it.
type shell struct {
	s        *session.Session
	out      io.Writer
	errOut   io.Writer
	prompt   bool
	rowLimit int
}

type shellCommand struct {
	usage string
	help  string
	run   func(sh *shell, ctx context.Context, args []string) error
}

var errQuit = errors.New("quit")

var shellCommands map[string]*shellCommand

// Initialized in init so the help command can list shellCommands.
func init() {
	shellCommands = map[string]*shellCommand{
		"more":     {"more [N]", "load and print the next N rows", (*shell).more},
		"rows":     {"rows [COLUMN...]", "print every row loaded so far, or only the named columns", (*shell).rows},
		"columns":  {"columns", "print the current column names", (*shell).columns},
		"apply":    {"apply PROGRAM [ARG...]", "pipe the current version through PROGRAM", (*shell).apply},
		"undo":     {"undo", "return to the previous version", (*shell).undo},
		"history":  {"history", "print the commands behind the current version", (*shell).history},
		"versions": {"versions", "list every version", (*shell).versions},
		"save":     {"save PATH [--force]", "write the current version to PATH", (*shell).save},
		"stats":    {"stats", "print session metrics", (*shell).stats},
		"help":     {"help", "print this list", (*shell).help},
		"quit":     {"quit", "leave the shell", func(*shell, context.Context, []string) error { return errQuit }},
	}
	shellCommands["exit"] = shellCommands["quit"]
}

func (sh *shell) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		if sh.prompt {
			fmt.Fprintf(sh.out, "fsdbview:%d> ", len(sh.s.Versions())-1)
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		if err := sh.exec(ctx, scanner.Text()); err != nil {
			if err == errQuit {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(sh.errOut, "error: %v\n", err)
		}
	}
}

func (sh *shell) exec(ctx context.Context, line string) error {
	words, err := shellquote.Split(line)
	if err != nil {
		return err
	}
	if len(words) == 0 || strings.HasPrefix(words[0], "#") {
		return nil
	}
	c, ok := shellCommands[words[0]]
	if !ok {
		return fmt.Errorf("unknown command %q; try help", words[0])
	}
	return c.run(sh, ctx, words[1:])
}

// splitCommand splits a shell quoted command line into argv.
func splitCommand(s string) ([]string, error) {
	argv, err := shellquote.Split(s)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing command %q", s)
	}
	if len(argv) == 0 {
		return nil, errors.Errorf("empty command %q", s)
	}
	return argv, nil
}

func (sh *shell) more(_ context.Context, args []string) error {
	n := sh.rowLimit
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return fmt.Errorf("more: bad row count %q", args[0])
		}
		n = v
	}
	rows, err := sh.s.LoadMore(n)
	if werr := sh.writeRows(rows); werr != nil {
		return werr
	}
	if err != nil {
		return err
	}
	if sh.s.Done() {
		fmt.Fprintf(sh.errOut, "(%d rows, end of table)\n", sh.s.Loaded())
	}
	return nil
}

func (sh *shell) rows(_ context.Context, args []string) error {
	if len(args) == 0 {
		return sh.writeRows(sh.s.Rows())
	}
	h := sh.s.Header()
	if h == nil {
		return sh.s.LastBindError()
	}
	idx := make([]int, len(args))
	for i, name := range args {
		if idx[i] = h.Index(name); idx[i] < 0 {
			return fmt.Errorf("rows: no column %q", name)
		}
	}
	fields := make([]string, len(idx))
	for _, r := range sh.s.Rows() {
		for i, j := range idx {
			fields[i] = r[j]
		}
		if _, err := fmt.Fprintln(sh.out, h.Separator.Join(fields)); err != nil {
			return err
		}
	}
	return nil
}

func (sh *shell) writeRows(rows []fsdb.Row) error {
	h := sh.s.Header()
	if h == nil {
		return nil
	}
	for _, r := range rows {
		if _, err := fmt.Fprintln(sh.out, h.Separator.Join(r)); err != nil {
			return err
		}
	}
	return nil
}

func (sh *shell) columns(_ context.Context, _ []string) error {
	cols := sh.s.CurrentColumns()
	if len(cols) == 0 {
		if err := sh.s.LastBindError(); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(sh.out, strings.Join(cols, " "))
	return err
}

func (sh *shell) apply(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("apply: no program given")
	}
	snap, err := sh.s.ApplyTransform(ctx, args[0], args[1:]...)
	if snap.ID == "" {
		return err
	}
	fmt.Fprintf(sh.errOut, "version %d: %s (%s)\n",
		len(sh.s.Versions())-1, snap.ProducedBy, humanize.Bytes(uint64(snap.Size)))
	return err
}

func (sh *shell) undo(_ context.Context, _ []string) error {
	cur, err := sh.s.Undo()
	var ue *fserrors.UndoError
	if cur.ID == "" || errors.As(err, &ue) {
		return err
	}
	fmt.Fprintf(sh.errOut, "back to version %d\n", len(sh.s.Versions())-1)
	return err
}

func (sh *shell) history(_ context.Context, _ []string) error {
	return printLines(sh.out, sh.s.History())
}

func (sh *shell) versions(_ context.Context, _ []string) error {
	tw := tabwriter.NewWriter(sh.out, 0, 4, 2, ' ', 0)
	for i, v := range sh.s.Versions() {
		producer := "(original)"
		if v.ProducedBy != nil {
			producer = v.ProducedBy.String()
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			i, v.ID, humanize.Bytes(uint64(v.Size)), humanize.Time(v.Created), producer)
	}
	return tw.Flush()
}

func (sh *shell) save(_ context.Context, args []string) error {
	var path string
	force := false
	for _, a := range args {
		switch {
		case a == "--force" || a == "-f":
			force = true
		case path == "":
			path = a
		default:
			return fmt.Errorf("save: unexpected argument %q", a)
		}
	}
	if path == "" {
		return errors.New("save: no path given")
	}
	if err := sh.s.SaveAs(path, force); err != nil {
		return err
	}
	fmt.Fprintf(sh.errOut, "saved %s\n", path)
	return nil
}

func (sh *shell) stats(_ context.Context, _ []string) error {
	_, err := fmt.Fprintln(sh.out, string(sh.s.Stats().Render(true)))
	return err
}

func (sh *shell) help(_ context.Context, _ []string) error {
	tw := tabwriter.NewWriter(sh.out, 0, 4, 2, ' ', 0)
	for _, name := range []string{"more", "rows", "columns", "apply", "undo", "history", "versions", "save", "stats", "help", "quit"} {
		c := shellCommands[name]
		fmt.Fprintf(tw, "%s\t%s\n", c.usage, c.help)
	}
	return tw.Flush()
}
