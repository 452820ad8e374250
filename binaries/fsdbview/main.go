package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	fserrors "github.com/fsdbtools/fsdbview/common/errors"
	"github.com/fsdbtools/fsdbview/common/log/hooks"
	"github.com/fsdbtools/fsdbview/cli"
)

func main() {
	log.AddHook(hooks.NewContextHook())
	log.SetOutput(os.Stderr)
	log.SetLevel(log.WarnLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cmd := cli.MakeCLI(cli.NewConfigInjector())
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fsdbview: %v\n", err)
		os.Exit(int(fserrors.ExitCodeOf(err)))
	}
}
