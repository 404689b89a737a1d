package main

import (
	"context"
	"os"

	"github.com/tinkerbell/sprout/internal/cmd"
)

func main() {
	root, err := cmd.NewEmulatorCommand()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
