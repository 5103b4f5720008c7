// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"flag"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/ezemtsov/ewm-sub001/config"
)

var (
	configPath *string = flag.String(
		"config",
		"",
		"Path to the config file. Empty searches the xdg config dirs for ewm/config.toml",
	)
	toolMode *bool = flag.Bool(
		"tool",
		false,
		"Start as a tool talking to a running compositor instead of as a compositor",
	)
	help *bool = flag.Bool(
		"help",
		false,
		"Show the help message (the tool mode one if -tool is set)",
	)
)

func main() {
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatalln("Loading config")
	}

	// Everything lands on stdout, tooling around the compositor reads
	// its log stream from there.
	logrus.SetOutput(os.Stdout)
	level, err := logrus.ParseLevel(conf.LogLevel)
	if err != nil {
		logrus.WithError(err).WithField("log_level", conf.LogLevel).Warnln("Unknown log level, staying on info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if *toolMode {
		toolMain(conf)
	} else {
		wlMain(conf)
	}
}
