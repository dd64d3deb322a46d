package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"machinerun.io/vold"
)

var version string

func printTextTable(data [][]string) {
	var lengths = make([]int, len(data[0]))

	for _, line := range data {
		for i, field := range line {
			if len(field) > lengths[i] {
				lengths[i] = len(field)
			}
		}
	}

	fmts := make([]string, len(lengths))

	for i, l := range lengths {
		fmts[i] = fmt.Sprintf("%%-%ds", l)
	}

	pfmt := strings.Join(fmts, " | ") + " |\n"

	for _, line := range data {
		s := make([]interface{}, len(line))
		for i, v := range line {
			s[i] = v
		}

		fmt.Printf(pfmt, s...)
	}
}

// loadConfig reads the --config file, or returns the defaults with a
// catch-all disk source when none was given.
func loadConfig(c *cli.Context) (vold.Config, error) {
	if fpath := c.String("config"); fpath != "" {
		return vold.LoadConfig(fpath)
	}

	cfg := vold.DefaultConfig()
	cfg.DiskSources = []vold.DiskSource{
		{SysPattern: "/devices/*usb*", Nickname: "usb", Flags: vold.DiskFlags{USB: true}},
		{SysPattern: "/devices/*mmc*", Nickname: "sdcard", Flags: vold.DiskFlags{SD: true, Adoptable: true}},
		{SysPattern: "/devices/*", Nickname: "disk", Flags: vold.DiskFlags{Adoptable: true}},
	}

	return cfg, nil
}

func setupLogging(c *cli.Context) error {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if c.Bool("debug") {
		logrus.SetLevel(logrus.DebugLevel)
	}

	return nil
}

func main() {
	app := &cli.App{
		Name:    "vold-demo",
		Version: version,
		Usage:   "Play around with vold disks",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "log debug messages",
			},
		},
		Before: setupLogging,
		Commands: []*cli.Command{
			&diskCommands,
			&simCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
