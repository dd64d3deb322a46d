package vold

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is the presence polling interval of a Monitor.
const DefaultPollInterval = time.Second

// Monitor polls a device node for disks whose controllers do not deliver
// reliable remove events. On the first failed poll it sends a Remove event on
// its removal channel and exits. It never holds a reference to the Disk.
type Monitor struct {
	device   Device
	devPath  string
	present  func(string) bool
	interval time.Duration
	out      chan<- DeviceEvent
	log      logrus.FieldLogger

	cancel context.CancelFunc
	done   chan struct{}
}

// StartMonitor starts polling devPath every interval. present reports
// whether the node still exists; removal events go to out.
func StartMonitor(ctx context.Context, device Device, devPath string, interval time.Duration,
	present func(string) bool, out chan<- DeviceEvent, log logrus.FieldLogger) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	if log == nil {
		log = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(ctx)

	m := &Monitor{
		device:   device,
		devPath:  devPath,
		present:  present,
		interval: interval,
		out:      out,
		log:      log.WithField("device", device.String()),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go m.run(ctx)

	return m
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Debugf("polling %s every %s", m.devPath, m.interval)

	for {
		select {
		case <-ctx.Done():
			m.log.Debug("presence polling stopped")
			return
		case <-ticker.C:
		}

		if m.present(m.devPath) {
			continue
		}

		m.log.Infof("%s disappeared", m.devPath)

		select {
		case m.out <- DeviceEvent{Action: ActionRemove, Device: m.device, DevPath: m.devPath, Monitor: m}:
		case <-ctx.Done():
		}

		return
	}
}

// Stop asks the loop to exit and waits for it. The loop notices within one
// polling interval. Stop must not be called from the removal channel's
// sender side of the same monitor; it is safe to call more than once.
func (m *Monitor) Stop() {
	m.cancel()
	<-m.done
}

// Done is closed once the loop has exited.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}
