package vold

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMonitorReportsRemoval(t *testing.T) {
	defer goleak.VerifyNone(t)

	logger, _ := test.NewNullLogger()

	var polls int32

	present := func(p string) bool {
		assert.Equal(t, "/dev/sdc", p)
		return atomic.AddInt32(&polls, 1) < 3
	}

	out := make(chan DeviceEvent, 1)
	dev := Device{Major: 8, Minor: 32}

	m := StartMonitor(context.Background(), dev, "/dev/sdc", time.Millisecond, present, out, logger)

	select {
	case ev := <-out:
		assert.Equal(t, DeviceEvent{Action: ActionRemove, Device: dev, DevPath: "/dev/sdc", Monitor: m}, ev)
	case <-time.After(time.Second):
		t.Fatal("no removal event")
	}

	<-m.Done()
	assert.Equal(t, int32(3), atomic.LoadInt32(&polls))

	// Stop after the loop exited is fine.
	m.Stop()
	m.Stop()
}

func TestMonitorStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	out := make(chan DeviceEvent)
	m := StartMonitor(context.Background(), Device{Major: 8}, "/dev/sda", time.Millisecond,
		func(string) bool { return true }, out, nil)

	time.Sleep(5 * time.Millisecond)
	m.Stop()

	select {
	case <-m.Done():
	default:
		t.Fatal("monitor still running after Stop")
	}
}

func TestMonitorStopWhileSending(t *testing.T) {
	defer goleak.VerifyNone(t)

	// nobody reads out, Stop must still end the loop
	out := make(chan DeviceEvent)
	m := StartMonitor(context.Background(), Device{Major: 8}, "/dev/sda", time.Millisecond,
		func(string) bool { return false }, out, nil)

	time.Sleep(5 * time.Millisecond)
	m.Stop()
}

func TestMonitorContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	m := StartMonitor(ctx, Device{Major: 8}, "/dev/sda", 0,
		func(string) bool { return true }, make(chan DeviceEvent), nil)

	assert.Equal(t, DefaultPollInterval, m.interval)

	cancel()
	<-m.Done()
}
