package main

import (
	"fmt"
	"log"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"machinerun.io/vold"
	"machinerun.io/vold/ptable"
)

var version string

const defaultImageSize = "1GiB"

func pathExists(d string) bool {
	_, err := os.Stat(d)
	if err != nil && os.IsNotExist(err) {
		return false
	}

	return true
}

func msgf(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
}

type imageOpts struct {
	layout     string
	ratio      int
	size       uint64
	sectorSize uint
	minSize    uint64
	force      bool
}

func (o imageOpts) table(size uint64) (vold.Table, error) {
	switch o.layout {
	case "public":
		return vold.PublicLayout(size, o.sectorSize, o.minSize)
	case "private":
		return vold.PrivateLayout(size, o.sectorSize, o.minSize)
	case "mixed":
		return vold.MixedLayout(size, o.sectorSize, o.ratio, o.minSize)
	}

	return vold.Table{}, errors.Errorf("unknown layout %q", o.layout)
}

// partImage writes the layout to the raw image fname, creating it with
// opts.size when it does not exist. An image that already has a table is
// left alone unless opts.force is set.
func partImage(fname string, opts imageOpts) (vold.Table, error) {
	if !pathExists(fname) {
		msgf("Creating %s as raw image of %s\n", fname, humanize.IBytes(opts.size))

		fp, err := os.Create(fname)
		if err != nil {
			return vold.Table{}, err
		}

		err = fp.Truncate(int64(opts.size))
		fp.Close()

		if err != nil {
			return vold.Table{}, err
		}
	}

	fp, err := os.OpenFile(fname, os.O_RDWR, 0)
	if err != nil {
		return vold.Table{}, err
	}

	defer fp.Close()

	st, err := fp.Stat()
	if err != nil {
		return vold.Table{}, err
	}

	size := uint64(st.Size())

	existing, err := ptable.Read(fp, opts.sectorSize)

	switch {
	case err == nil && !opts.force:
		msgf("%s already has a %s table, use --force to replace it\n", fname, existing.Type)
		return existing, nil
	case err != nil && !errors.Is(err, vold.ErrTableAbsent) && !errors.Is(err, vold.ErrTableCorrupt):
		return vold.Table{}, err
	}

	table, err := opts.table(size)
	if err != nil {
		return vold.Table{}, err
	}

	if err := ptable.Write(fp, size, table); err != nil {
		return vold.Table{}, err
	}

	return table, fp.Sync()
}

func printTable(fname string, table vold.Table) {
	fmt.Printf("%s: %s sector size %d\n", fname, table.Type, table.SectorSize)

	for _, p := range table.Partitions {
		fmt.Printf("  %d  %-10s %12d %12d %10s  %s %s\n", p.Number, p.Name, p.Start, p.Last,
			humanize.IBytes(p.Size()), p.Type, p.ID)
	}
}

func partCreate(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("got %d arguments, need one image file", c.Args().Len())
	}

	size, err := humanize.ParseBytes(c.String("size"))
	if err != nil {
		return errors.Wrap(err, "--size")
	}

	minSize, err := humanize.ParseBytes(c.String("min-size"))
	if err != nil {
		return errors.Wrap(err, "--min-size")
	}

	fname := c.Args().First()

	table, err := partImage(fname, imageOpts{
		layout:     c.String("layout"),
		ratio:      c.Int("ratio"),
		size:       size,
		sectorSize: c.Uint("sector-size"),
		minSize:    minSize,
		force:      c.Bool("force"),
	})
	if err != nil {
		return err
	}

	printTable(fname, table)

	return nil
}

func main() {
	app := &cli.App{
		Name:      "ptimg",
		Usage:     "Lay out a raw disk image as public, private or mixed storage.",
		Version:   version,
		ArgsUsage: "image",
		Action:    partCreate,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "layout",
				Value: "public",
				Usage: "public, private or mixed",
			},
			&cli.IntFlag{
				Name:  "ratio",
				Value: 50, //nolint:gomnd
				Usage: "public percent of a mixed layout",
			},
			&cli.StringFlag{
				Name:  "size",
				Value: defaultImageSize,
				Usage: "size of a newly created image",
			},
			&cli.StringFlag{
				Name:  "min-size",
				Value: humanize.IBytes(vold.DefaultMinPartitionSize),
				Usage: "smallest partition the layout may create",
			},
			&cli.UintFlag{
				Name:  "sector-size",
				Value: vold.SectorSize512,
				Usage: "logical sector size of the image",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "replace an existing partition table",
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
