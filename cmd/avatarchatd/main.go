package main

import (
	"flag"
	"fmt"
	"os"

	"avatarchat/internal/app"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := app.Run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "avatarchatd:", err)
		os.Exit(1)
	}
}
