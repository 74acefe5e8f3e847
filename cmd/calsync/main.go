package main

import (
	"context"
	"fmt"
	"os"

	"calsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "calsync:", err)
		os.Exit(1)
	}
}
