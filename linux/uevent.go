//go:build linux

package linux

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mdlayher/kobject"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"machinerun.io/vold"
)

// Listener reads kernel uevents for block devices from netlink.
type Listener struct {
	client  *kobject.Client
	devRoot string
	log     logrus.FieldLogger
}

// Listen opens the uevent netlink socket.
func Listen(cfg vold.Config, log logrus.FieldLogger) (*Listener, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	client, err := kobject.New()
	if err != nil {
		return nil, errors.Wrap(err, "open uevent socket")
	}

	return &Listener{client: client, devRoot: cfg.DevRoot, log: log}, nil
}

// Run sends block device events to out until ctx is done. It closes the
// socket and out when it returns.
func (l *Listener) Run(ctx context.Context, out chan<- vold.DeviceEvent) error {
	defer close(out)

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}

		l.client.Close()
	}()

	for {
		kev, err := l.client.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return errors.Wrap(err, "receive uevent")
		}

		ev, ok := toDeviceEvent(kev, l.devRoot)
		if !ok {
			continue
		}

		l.log.WithFields(logrus.Fields{
			"action": ev.Action,
			"device": ev.Device.String(),
		}).Debugf("uevent %s", ev.EventPath)

		select {
		case out <- ev:
		case <-ctx.Done():
			return nil
		}
	}
}

// toDeviceEvent converts a block subsystem uevent. Events of other
// subsystems and events without a device number are dropped.
func toDeviceEvent(kev *kobject.Event, devRoot string) (vold.DeviceEvent, bool) {
	if kev == nil || kev.Subsystem != "block" {
		return vold.DeviceEvent{}, false
	}

	var action vold.Action

	switch kev.Action {
	case kobject.Add:
		action = vold.ActionAdd
	case kobject.Remove:
		action = vold.ActionRemove
	case kobject.Change:
		action = vold.ActionChange
	default:
		return vold.DeviceEvent{}, false
	}

	dev, ok := eventDevice(kev.Values)
	if !ok {
		return vold.DeviceEvent{}, false
	}

	ev := vold.DeviceEvent{
		Action:    action,
		EventPath: kev.DevicePath,
		Device:    dev,
		DevType:   kev.Values["DEVTYPE"],
	}

	if name := kev.Values["DEVNAME"]; name != "" {
		ev.DevPath = path.Join(devRoot, name)
	}

	return ev, true
}

func eventDevice(values map[string]string) (vold.Device, bool) {
	major, err := strconv.ParseUint(values["MAJOR"], 10, 32)
	if err != nil {
		return vold.Device{}, false
	}

	minor, err := strconv.ParseUint(values["MINOR"], 10, 32)
	if err != nil {
		return vold.Device{}, false
	}

	return vold.Device{Major: uint32(major), Minor: uint32(minor)}, true
}

// Coldplug returns add events for the disks already present under
// sysRoot/block, the way the kernel would have announced them.
func Coldplug(cfg vold.Config) ([]vold.DeviceEvent, error) {
	root := path.Join(cfg.SysRoot, "block")

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", root)
	}

	sysRoot, err := filepath.EvalSymlinks(cfg.SysRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s", cfg.SysRoot)
	}

	result := make([]vold.DeviceEvent, 0, len(entries))

	for _, entry := range entries {
		full, err := filepath.EvalSymlinks(path.Join(root, entry.Name()))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return nil, errors.Wrapf(err, "failed to resolve %s", entry.Name())
		}

		values, err := readUevent(full)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return nil, errors.Wrapf(err, "failed to read uevent of %s", entry.Name())
		}

		ev, ok := toDeviceEvent(&kobject.Event{
			Action:     kobject.Add,
			DevicePath: strings.TrimPrefix(full, sysRoot),
			Subsystem:  "block",
			Values:     values,
		}, cfg.DevRoot)
		if ok {
			result = append(result, ev)
		}
	}

	return result, nil
}
