package app

import (
	"context"

	"github.com/Blackdeer1524/enginecore/src/cli"
)

var rootCmd = cli.Init("engine")

func MustExecute(ctx context.Context) {
	initStart()
	rootCmd.MustExecute(ctx)
}
