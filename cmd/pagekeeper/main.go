package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/rossigee/pagekeeper/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		logrus.WithError(err).Error("pagekeeper failed")
		os.Exit(1)
	}
}
