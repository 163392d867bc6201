// Command fastproxy runs the proxy with a configuration file.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/searchktools/fast-proxy/app"
)

func main() {
	cfgPath := flag.String("config", "fastproxy.toml", "path to configuration file")
	flag.Parse()

	a, err := app.New(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fastproxy: %v\n", err)
		os.Exit(1)
	}
	if err := a.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "fastproxy: %v\n", err)
		os.Exit(1)
	}
}
