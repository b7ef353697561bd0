package main

import (
	"flag"
	"fmt"
	"os"
)

var (
	hf          bool
	configPath  string
	logLevel    string
	extentFile  string
	levelsFlag  string
	outputDir   string
	listOrphans bool
)

func InitFlag() {
	flag.BoolVar(&hf, "h", false, "this help")
	flag.StringVar(&configPath, "c", "./conf/conf.toml", "set config `file`")
	flag.StringVar(&logLevel, "l", "info", "set log level (default: info)")
	flag.StringVar(&extentFile, "e", "", "export the bound of this geojson `file` instead of the configured extent")
	flag.StringVar(&levelsFlag, "z", "", "levels to export, e.g. `0-5` or 0,2,4 (default: all levels of the service)")
	flag.StringVar(&outputDir, "o", "", "output `directory` (default: output.directory)")
	flag.BoolVar(&listOrphans, "orphans", false, "list jobs in the ledger that were accepted but never downloaded, then exit")
	flag.Usage = usage
	flag.Parse()

	if hf {
		flag.Usage()
		os.Exit(0)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `tileexport version: tileexport/v0.1.0
Usage: tileexport [-h] [-c filename] [-l logLevel] [-e geojson] [-z levels] [-o directory] [-orphans]
`)
	flag.PrintDefaults()
}
