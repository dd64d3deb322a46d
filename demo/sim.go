package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"machinerun.io/vold"
	"machinerun.io/vold/mockos"
)

//nolint:gochecknoglobals
var simCommand = cli.Command{
	Name:      "sim",
	Usage:     "Run the disk manager against a json model of disks",
	ArgsUsage: "model.json",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "ratio",
			Usage: "partition unformatted disks mixed with this public percent (0 leaves them)",
		},
	},
	Action: simRun,
}

func simRun(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("need exactly one model file")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	log := logrus.StandardLogger()
	sys := mockos.System(c.Args().First())
	notifier := vold.NewChanNotifier(cfg.EventBuffer, log)
	mgr := vold.NewManager(cfg, sys, mockos.NewVolumeFactory(), notifier, log)

	for _, ev := range sys.Events() {
		if err := mgr.HandleEvent(ev); err != nil {
			log.Warnf("%s: %v", ev.EventPath, err)
		}
	}

	if ratio := c.Int("ratio"); ratio > 0 {
		for _, d := range mgr.Disks() {
			if d.Status() != vold.StatusUnformatted {
				continue
			}

			if err := mgr.PartitionMixed(d.ID(), ratio); err != nil {
				log.Warnf("%s: %v", d.ID(), err)
			}
		}
	}

	printTextTable(diskTable(mgr.Disks()))

	if err := mgr.Shutdown(); err != nil {
		return err
	}

	fmt.Println()

	for {
		select {
		case ev := <-notifier.Events():
			fmt.Println(ev.String())
		default:
			return nil
		}
	}
}
