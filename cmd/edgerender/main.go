/*
This command runs edgerender, the routing, middleware and incremental
cache layer in front of a renderer.

For the list of command line options, run:

	edgerender -help

The routes, rewrites, prerender list and locales are read from the
manifest file given with -manifest-file.
*/
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/edgerender"
	"github.com/zalando/edgerender/config"
)

var (
	version string
	commit  string
)

func main() {
	cfg := config.NewConfig()
	if err := cfg.Parse(); errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	} else if err != nil {
		log.Fatalf("Error processing config: %s", err)
	}

	if cfg.PrintVersion {
		fmt.Printf("edgerender version %s (commit: %s)\n", version, commit)
		return
	}

	log.SetLevel(cfg.ApplicationLogLevel)
	if err := edgerender.Run(cfg.ToOptions()); err != nil {
		log.Fatal(err)
	}
}
