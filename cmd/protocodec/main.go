// Command protocodec converts protobuf messages between JSON and the binary
// wire format.
//
//	protocodec --proto <file> --message <pkg.Msg> [--path <dir>]... (encode|decode)
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/jhump/protocodec/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	err := cli.Execute(ctx)
	cancel()
	if err != nil {
		os.Exit(1)
	}
}
