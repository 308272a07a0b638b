package main

// main.go only wires the command line together.
//
// Package structure:
// - models/     : shared value types (site descriptors, rows, articles, results)
// - config/     : settings file, boards, scan queue and site dispatch
// - validation/ : board checks against the site descriptors
// - parser/     : dates, names, archives, images and other pure helpers
// - cf/         : challenge detection and response decompression
// - downloader/ : listing pagination, media and browser downloads
// - sites/      : board adapters, registered with config when cmd.go imports them
// - store/      : sqlite scan history
// - logging/    : logrus setup and log rotation

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
