package main

import (
	"flag"
	"fmt"
	"os"

	"chatwire/client/ui"
)

func main() {
	serverAddr := flag.String("server", "localhost:4050", "chatwire server address (host:port)")
	flag.Parse()

	app := ui.NewApp(*serverAddr)
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
