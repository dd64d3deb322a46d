package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"machinerun.io/vold"
	"machinerun.io/vold/linux"
)

//nolint:gochecknoglobals
var diskCommands = cli.Command{
	Name:  "disk",
	Usage: "disk / partition commands",
	Subcommands: []*cli.Command{
		{
			Name:   "show",
			Usage:  "Show managed disks and their volumes",
			Action: diskShow,
		},
		{
			Name:   "dump",
			Usage:  "Dump managed disks as json",
			Action: diskDump,
		},
		{
			Name:      "partition",
			Usage:     "Partition a disk as public, private or mixed storage",
			ArgsUsage: "disk-id",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "layout",
					Value: "public",
					Usage: "public, private or mixed",
				},
				&cli.IntFlag{
					Name:  "ratio",
					Value: 50, //nolint:gomnd
					Usage: "percent of the disk given to the public volume of a mixed layout",
				},
			},
			Action: diskPartition,
		},
		{
			Name:   "watch",
			Usage:  "Follow hot-plug events and log disk lifecycle events",
			Action: diskWatch,
		},
	},
}

// diskSummary is the json form of a Disk for dump.
type diskSummary struct {
	ID       string          `json:"id"`
	Nickname string          `json:"nickname"`
	DevPath  string          `json:"devPath"`
	SysPath  string          `json:"sysPath"`
	Size     uint64          `json:"size"`
	Label    string          `json:"label"`
	Flags    vold.DiskFlags  `json:"flags"`
	Status   string          `json:"status"`
	Volumes  []volumeSummary `json:"volumes"`
}

type volumeSummary struct {
	ID     string          `json:"id"`
	Type   vold.VolumeType `json:"type"`
	Device string          `json:"device"`
	State  string          `json:"state"`
}

func summarize(d *vold.Disk) diskSummary {
	s := diskSummary{
		ID:       d.ID(),
		Nickname: d.Nickname(),
		DevPath:  d.DevPath(),
		SysPath:  d.SysPath(),
		Size:     d.Size(),
		Label:    d.Label(),
		Flags:    d.Flags(),
		Status:   d.Status().String(),
		Volumes:  []volumeSummary{},
	}

	for _, v := range d.Volumes() {
		s.Volumes = append(s.Volumes, volumeSummary{
			ID:     v.ID(),
			Type:   v.Type(),
			Device: v.Spec().Device.String(),
			State:  v.State().String(),
		})
	}

	return s
}

func diskTable(disks []*vold.Disk) [][]string {
	data := [][]string{{"ID", "Nickname", "Path", "Size", "Label", "Status", "Volumes"}}

	for _, d := range disks {
		vols := []string{}
		for _, v := range d.Volumes() {
			vols = append(vols, fmt.Sprintf("%s(%s)", v.ID(), v.State()))
		}

		data = append(data, []string{
			d.ID(), d.Nickname(), d.DevPath(), humanize.IBytes(d.Size()), d.Label(),
			d.Status().String(), strings.Join(vols, " "),
		})
	}

	return data
}

// scan builds a Manager and feeds it the devices present right now.
func scan(c *cli.Context, notifier vold.Notifier) (*vold.Manager, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	log := logrus.StandardLogger()
	sys := linux.NewSystem(cfg, log)
	mgr := vold.NewManager(cfg, sys, linux.NewVolumeFactory(cfg, sys, log), notifier, log)

	events, err := linux.Coldplug(cfg)
	if err != nil {
		return nil, err
	}

	for _, ev := range events {
		if err := mgr.HandleEvent(ev); err != nil {
			log.Warnf("%s: %v", ev.EventPath, err)
		}
	}

	return mgr, nil
}

func diskShow(c *cli.Context) error {
	mgr, err := scan(c, nil)
	if err != nil {
		return err
	}

	defer mgr.Shutdown() //nolint:errcheck

	disks := mgr.Disks()
	if len(disks) == 0 {
		fmt.Println("no disks matched a disk source")
		return nil
	}

	printTextTable(diskTable(disks))

	return nil
}

func diskDump(c *cli.Context) error {
	mgr, err := scan(c, nil)
	if err != nil {
		return err
	}

	defer mgr.Shutdown() //nolint:errcheck

	out := []diskSummary{}
	for _, d := range mgr.Disks() {
		out = append(out, summarize(d))
	}

	jbytes, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", string(jbytes))

	return nil
}

func diskPartition(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("need a disk id, see 'disk show'")
	}

	mgr, err := scan(c, vold.LogNotifier{Log: logrus.StandardLogger()})
	if err != nil {
		return err
	}

	defer mgr.Shutdown() //nolint:errcheck

	switch layout := c.String("layout"); layout {
	case "public":
		err = mgr.PartitionPublic(id)
	case "private":
		err = mgr.PartitionPrivate(id)
	case "mixed":
		err = mgr.PartitionMixed(id, c.Int("ratio"))
	default:
		return errors.Errorf("unknown layout %q", layout)
	}

	if err != nil {
		return err
	}

	disk, err := mgr.FindDisk(id)
	if err != nil {
		return err
	}

	printTextTable(diskTable([]*vold.Disk{disk}))

	return nil
}

func diskWatch(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	log := logrus.StandardLogger()
	sys := linux.NewSystem(cfg, log)
	mgr := vold.NewManager(cfg, sys, linux.NewVolumeFactory(cfg, sys, log), vold.LogNotifier{Log: log}, log)

	listener, err := linux.Listen(cfg, log)
	if err != nil {
		return err
	}

	existing, err := linux.Coldplug(cfg)
	if err != nil {
		return err
	}

	for _, ev := range existing {
		if err := mgr.HandleEvent(ev); err != nil {
			log.Warnf("%s: %v", ev.EventPath, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	events := make(chan vold.DeviceEvent, len(existing)+1)
	grp, ctx := errgroup.WithContext(ctx)

	grp.Go(func() error { return listener.Run(ctx, events) })
	grp.Go(func() error { return mgr.Run(ctx, events) })

	log.Infof("watching %d disks, interrupt to stop", len(mgr.Disks()))

	return grp.Wait()
}
