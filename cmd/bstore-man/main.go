package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/iAmSomeone2/browser-storage/internal/cli"
	"github.com/iAmSomeone2/browser-storage/internal/version"
)

func main() {
	var outDir string
	flag.StringVar(&outDir, "out", "dist/man", "output directory for generated man pages")
	flag.Parse()

	err := cli.GenerateManPages(outDir, cli.BuildInfo{
		Version:   version.Version,
		Commit:    version.Commit,
		BuildTime: version.Date,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "bstore-man: %v\n", err)
		os.Exit(1)
	}
}
