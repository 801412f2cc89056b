package main

import (
	"fmt"
	"os"

	"github.com/imrishuroy/go-sales-reports/internal/config"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	if err := newRootCmd(os.Stdout, cfg).Execute(); err != nil {
		os.Exit(1)
	}
}
