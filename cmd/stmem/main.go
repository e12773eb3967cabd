package main

import (
	"context"
	"os"

	"github.com/solo125812/st-voyageai-memory/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.Run(context.Background(), os.Args, version); err != nil {
		os.Exit(1)
	}
}
