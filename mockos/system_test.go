package mockos_test

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"machinerun.io/vold"
	"machinerun.io/vold/mockos"
	"machinerun.io/vold/partid"
)

//nolint: funlen, gomnd
func TestSystem(t *testing.T) {
	Convey("testing System Model", t, func() {
		So(func() { mockos.System("unknown") }, ShouldPanic)

		sys := mockos.System("testdata/model_sys.json")
		So(sys, ShouldNotBeNil)

		Convey("DevicePath resolves a known device number", func() {
			p, err := sys.DevicePath(vold.Device{Major: 8, Minor: 0})
			So(err, ShouldBeNil)
			So(p, ShouldEqual, "/dev/sda")
		})

		Convey("DevicePath of an unknown device is unavailable", func() {
			_, err := sys.DevicePath(vold.Device{Major: 8, Minor: 32})
			So(errors.Is(err, vold.ErrDeviceUnavailable), ShouldBeTrue)
		})

		Convey("ReadMetadata returns the model geometry", func() {
			md, err := sys.ReadMetadata(vold.DiskInfo{DevPath: "/dev/mmcblk0"})
			So(err, ShouldBeNil)
			So(md.Size, ShouldEqual, uint64(4*vold.Gibibyte))
			So(md.SectorSize, ShouldEqual, uint(512))
			So(md.Label, ShouldEqual, "Samsung")
		})

		Convey("ReadTable decodes the model GPT", func() {
			table, err := sys.ReadTable("/dev/sda", 0)
			So(err, ShouldBeNil)
			So(table.Type, ShouldEqual, vold.GPT)
			So(len(table.Partitions), ShouldEqual, 2)
			So(table.Partitions[0].Type.Kind(), ShouldEqual, partid.Public)
			So(table.Partitions[1].Type.Kind(), ShouldEqual, partid.Private)
			So(table.Partitions[1].ID.String(), ShouldEqual, "0D9F3C22-7B41-4E0B-A3C8-9F7E2D1B5C02")
			So(sys.Reads("/dev/sda"), ShouldEqual, 1)
		})

		Convey("ReadTable decodes the model MBR", func() {
			table, err := sys.ReadTable("/dev/mmcblk0", 512)
			So(err, ShouldBeNil)
			So(table.Type, ShouldEqual, vold.MBR)
			So(table.Partitions[0].Type.Kind(), ShouldEqual, partid.Public)
		})

		Convey("A blank disk has no table", func() {
			_, err := sys.ReadTable("/dev/sdb", 0)
			So(errors.Is(err, vold.ErrTableAbsent), ShouldBeTrue)
		})

		Convey("WriteTable then ReadTable round trips", func() {
			table, err := vold.PrivateLayout(256*vold.Mebibyte, 512, vold.DefaultMinPartitionSize)
			So(err, ShouldBeNil)
			So(sys.WriteTable("/dev/sdb", 256*vold.Mebibyte, table), ShouldBeNil)
			So(sys.Writes("/dev/sdb"), ShouldEqual, 1)

			found, err := sys.ReadTable("/dev/sdb", 512)
			So(err, ShouldBeNil)
			So(found, ShouldResemble, table)
		})

		Convey("FailWrites fails the write", func() {
			sys.FailWrites("/dev/sdb", errors.New("EIO"))

			table, err := vold.PublicLayout(256*vold.Mebibyte, 512, vold.DefaultMinPartitionSize)
			So(err, ShouldBeNil)

			err = sys.WriteTable("/dev/sdb", 256*vold.Mebibyte, table)
			So(errors.Is(err, vold.ErrWriteFailed), ShouldBeTrue)
			So(sys.Writes("/dev/sdb"), ShouldEqual, 0)
		})

		Convey("Corrupt leaves an unreadable table", func() {
			So(sys.Corrupt("/dev/sda"), ShouldBeNil)

			_, err := sys.ReadTable("/dev/sda", 512)
			So(errors.Is(err, vold.ErrTableCorrupt), ShouldBeTrue)
		})

		Convey("Unplug removes the disk", func() {
			So(sys.Present("/dev/sda"), ShouldBeTrue)
			sys.Unplug("/dev/sda")
			So(sys.Present("/dev/sda"), ShouldBeFalse)

			_, err := sys.ReadMetadata(vold.DiskInfo{DevPath: "/dev/sda"})
			So(errors.Is(err, vold.ErrDeviceUnavailable), ShouldBeTrue)

			Convey("and Replug brings it back", func() {
				sys.Replug("/dev/sda")
				So(sys.Present("/dev/sda"), ShouldBeTrue)

				table, err := sys.ReadTable("/dev/sda", 512)
				So(err, ShouldBeNil)
				So(len(table.Partitions), ShouldEqual, 2)
			})
		})

		Convey("Events reports present disks as adds", func() {
			sys.Unplug("/dev/sdb")

			events := sys.Events()
			So(len(events), ShouldEqual, 2)
			So(events[0], ShouldResemble, vold.DeviceEvent{
				Action: vold.ActionAdd, EventPath: "/devices/mock/block/sda",
				Device: vold.Device{Major: 8}, DevPath: "/dev/sda", DevType: "disk",
			})
			So(events[1].EventPath, ShouldEqual, "/devices/mock/block/mmcblk0")
		})

		Convey("Partitions use consecutive minors", func() {
			dev, err := sys.PartitionDevice(vold.DiskInfo{Device: vold.Device{Major: 8, Minor: 16}}, 2)
			So(err, ShouldBeNil)
			So(dev, ShouldResemble, vold.Device{Major: 8, Minor: 18})
		})
	})
}

func TestVolumeFactory(t *testing.T) {
	Convey("testing the recording volume factory", t, func() {
		f := mockos.NewVolumeFactory()
		spec := vold.VolumeSpec{ID: "public:8,1", Type: vold.VolumePublic, Device: vold.Device{Major: 8, Minor: 1}}

		vol, err := f.NewVolume(spec)
		So(err, ShouldBeNil)
		So(vol.ID(), ShouldEqual, "public:8,1")

		So(vol.Format(""), ShouldBeNil)
		So(f.Volume("public:8,1").FsType(), ShouldEqual, "vfat")

		So(vol.Mount(), ShouldBeNil)
		So(f.Volume("public:8,1").Mounted(), ShouldBeTrue)
		So(vol.Format("exfat"), ShouldNotBeNil)
		So(vol.Unmount(), ShouldBeNil)

		So(f.Calls(), ShouldResemble, []string{
			"create public:8,1", "format public:8,1", "mount public:8,1",
			"format public:8,1", "unmount public:8,1",
		})
		So(f.Count("format", "public:8,1"), ShouldEqual, 2)
	})
}
