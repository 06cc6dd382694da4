package main

import (
	"fmt"
	"os"

	"github.com/avian-audio/transcribe-master/cmd"
	"github.com/avian-audio/transcribe-master/internal/conf"
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cmd.RootCommand(settings).Execute(); err != nil {
		os.Exit(1)
	}
}
