package cli

// package cli implements the fsdbview command line on top of session.
//
// main.go constructs an Injector and calls MakeCLI with it. MakeCLI builds
// the cobra commands; each one is a sessionCommand whose register() creates
// the cobra command and its flags.
//
// When cobra runs a command, the wrapper installed by MakeCLI asks the
// Injector for a Session on the command's FILE argument (stdin when absent),
// calls sessionCommand.run() with it and closes it afterwards.

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	fserrors "github.com/fsdbtools/fsdbview/common/errors"
	"github.com/fsdbtools/fsdbview/config"
	"github.com/fsdbtools/fsdbview/session"
)

type Injector interface {
	RegisterFlags(cmd *cobra.Command)
	// Inject opens a session on path, or on stdin when path is "" or "-".
	Inject(ctx context.Context, path string, stdin io.Reader) (*session.Session, error)
	// RowLimit is the batch size for row display.
	RowLimit() int
	// Config is the effective configuration after flag overrides.
	Config() (*config.Config, error)
}

func MakeCLI(injector Injector) *cobra.Command {
	rootCobraCmd := &cobra.Command{
		Use:           "fsdbview",
		Short:         "view and transform FSDB tables through external commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	injector.RegisterFlags(rootCobraCmd)

	add := func(subCmd sessionCommand, parentCobraCmd *cobra.Command) {
		cmd := subCmd.register()
		cmd.Args = cobra.MaximumNArgs(1)
		cmd.RunE = func(innerCmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = args[0]
			}
			s, err := injector.Inject(innerCmd.Context(), path, innerCmd.InOrStdin())
			var fe *fserrors.FormatError
			switch {
			case s == nil:
				return err
			case errors.As(err, &fe) && subCmd.tolerateFormatError():
				fmt.Fprintf(innerCmd.ErrOrStderr(), "warning: %v\n", err)
			case err != nil:
				s.Close()
				return err
			}
			defer s.Close()
			return subCmd.run(s, injector, innerCmd, args)
		}
		parentCobraCmd.AddCommand(cmd)
	}

	add(&viewCommand{}, rootCobraCmd)
	add(&applyCommand{}, rootCobraCmd)
	add(&historyCommand{}, rootCobraCmd)
	rootCobraCmd.AddCommand(makeConfigCommand(injector))

	return rootCobraCmd
}

func makeConfigCommand(injector Injector) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "prints the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := injector.Config()
			if err != nil {
				return err
			}
			data, err := cfg.Marshal()
			if err != nil {
				return errors.Wrap(err, "rendering config")
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

type sessionCommand interface {
	register() *cobra.Command
	run(s *session.Session, inj Injector, cmd *cobra.Command, args []string) error
	// A command that can work on a table whose header does not parse.
	tolerateFormatError() bool
}

type historyCommand struct{}

func (c *historyCommand) register() *cobra.Command {
	return &cobra.Command{
		Use:   "history [FILE]",
		Short: "prints the commands recorded in FILE's provenance comments",
	}
}

func (c *historyCommand) tolerateFormatError() bool { return true }

func (c *historyCommand) run(s *session.Session, _ Injector, cmd *cobra.Command, _ []string) error {
	return printLines(cmd.OutOrStdout(), s.History())
}

type applyCommand struct {
	runs      []string
	output    string
	force     bool
	printHist bool
}

func (c *applyCommand) register() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply [FILE]",
		Short: "pipes FILE through each --run command in turn and writes the result",
		Example: `  fsdbview apply data.fsdb --run 'dbcol a b' --run 'dbsort -n a' -o sorted.fsdb
  cat data.fsdb | fsdbview apply --run 'dbrow "_a > 3"' --history`,
	}
	cmd.Flags().StringArrayVar(&c.runs, "run", nil, "command to apply, shell quoted; repeatable")
	cmd.Flags().StringVarP(&c.output, "output", "o", "", "write the result here instead of stdout")
	cmd.Flags().BoolVar(&c.force, "force", false, "replace --output if it exists")
	cmd.Flags().BoolVar(&c.printHist, "history", false, "print the resulting command history to stderr")
	return cmd
}

func (c *applyCommand) tolerateFormatError() bool { return true }

func (c *applyCommand) run(s *session.Session, _ Injector, cmd *cobra.Command, _ []string) error {
	for _, text := range c.runs {
		argv, err := splitCommand(text)
		if err != nil {
			return err
		}
		log.Debugf("Applying %q", argv)
		if _, err := s.ApplyTransform(cmd.Context(), argv[0], argv[1:]...); err != nil {
			return err
		}
	}

	if c.output != "" {
		if err := s.SaveAs(c.output, c.force); err != nil {
			return err
		}
	} else if _, err := s.WriteCurrent(cmd.OutOrStdout()); err != nil {
		return err
	}

	if c.printHist {
		return printLines(cmd.ErrOrStderr(), s.History())
	}
	return nil
}

func printLines(w io.Writer, lines []string) error {
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
