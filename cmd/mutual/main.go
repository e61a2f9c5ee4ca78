package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/mutual/internal/cli"
)

func main() {
	ctx := context.Background()
	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "mutual: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
