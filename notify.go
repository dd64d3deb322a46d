package vold

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// EventCode identifies a lifecycle event. The numbering follows the daemon's
// response codes so transports can forward them unchanged.
type EventCode int

// Event codes.
const (
	DiskCreated        EventCode = 640
	DiskSizeChanged    EventCode = 641
	DiskLabelChanged   EventCode = 642
	DiskScanned        EventCode = 643
	DiskSysPathChanged EventCode = 644
	DiskPartitioned    EventCode = 645
	DiskDestroyed      EventCode = 649

	VolumeCreated      EventCode = 650
	VolumeStateChanged EventCode = 651
	VolumeDestroyed    EventCode = 659
)

//nolint:gochecknoglobals
var eventNames = map[EventCode]string{
	DiskCreated:        "DiskCreated",
	DiskSizeChanged:    "DiskSizeChanged",
	DiskLabelChanged:   "DiskLabelChanged",
	DiskScanned:        "DiskScanned",
	DiskSysPathChanged: "DiskSysPathChanged",
	DiskPartitioned:    "DiskPartitioned",
	DiskDestroyed:      "DiskDestroyed",
	VolumeCreated:      "VolumeCreated",
	VolumeStateChanged: "VolumeStateChanged",
	VolumeDestroyed:    "VolumeDestroyed",
}

func (c EventCode) String() string {
	if s, ok := eventNames[c]; ok {
		return s
	}

	return fmt.Sprintf("EventCode(%d)", int(c))
}

// Event is one notification for the transport.
type Event struct {
	Code EventCode `json:"code"`

	// ID is the disk or volume id the event is about.
	ID string `json:"id"`

	// Value is the optional payload.
	Value string `json:"value,omitempty"`
}

// String formats the event the way it goes on the wire: "code id [value]".
func (e Event) String() string {
	parts := []string{fmt.Sprintf("%d", int(e.Code)), e.ID}
	if e.Value != "" {
		parts = append(parts, e.Value)
	}

	return strings.Join(parts, " ")
}

// Notifier hands events to the transport. Notify must not block.
type Notifier interface {
	Notify(ev Event)
}

// NotifierFunc adapts a function to a Notifier.
type NotifierFunc func(Event)

// Notify calls f(ev).
func (f NotifierFunc) Notify(ev Event) {
	f(ev)
}

// ChanNotifier queues events on a buffered channel. When the channel is full
// the event is dropped and logged.
type ChanNotifier struct {
	events chan Event
	log    logrus.FieldLogger
}

// NewChanNotifier returns a ChanNotifier with room for size events.
func NewChanNotifier(size int, log logrus.FieldLogger) *ChanNotifier {
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &ChanNotifier{events: make(chan Event, size), log: log}
}

// Notify enqueues ev without blocking.
func (n *ChanNotifier) Notify(ev Event) {
	select {
	case n.events <- ev:
	default:
		n.log.WithFields(logrus.Fields{
			"code": ev.Code.String(),
			"id":   ev.ID,
		}).Warn("event queue full, dropping event")
	}
}

// Events is the channel the transport reads from.
func (n *ChanNotifier) Events() <-chan Event {
	return n.events
}

// LogNotifier writes events to a logger. It is the transport used when the
// daemon runs without a client socket.
type LogNotifier struct {
	Log logrus.FieldLogger
}

// Notify logs ev.
func (n LogNotifier) Notify(ev Event) {
	n.Log.WithFields(logrus.Fields{
		"code":  int(ev.Code),
		"event": ev.Code.String(),
		"id":    ev.ID,
		"value": ev.Value,
	}).Info("event")
}

// nopNotifier drops everything.
type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}
