// Package board assembles a CAN node from its configuration: the event
// queue, timers, transport and session, plus the optional telemetry
// publisher and UART bridge.
package board

import (
	"log"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"

	"github.com/robotalks/canlink.go/pkg/can"
	"github.com/robotalks/canlink.go/pkg/can/hw"
	"github.com/robotalks/canlink.go/pkg/canuart"
	"github.com/robotalks/canlink.go/pkg/config"
	"github.com/robotalks/canlink.go/pkg/event"
	"github.com/robotalks/canlink.go/pkg/framework"
	"github.com/robotalks/canlink.go/pkg/softtimer"
	"github.com/robotalks/canlink.go/pkg/telemetry"
)

// Events raised by the session.
const (
	EventCANRx event.ID = iota + 1
	EventCANTx
	EventCANFault
)

// Board is an assembled node.
type Board struct {
	Config    *config.Config
	Queue     *event.Queue
	Timers    *softtimer.Timers
	Transport hw.Transport
	Session   *can.Session

	// Publisher and Bridge are nil unless configured.
	Publisher *telemetry.Publisher
	Bridge    *canuart.Bridge

	// OnFault is called from the loop when the session reports a fault.
	OnFault func(hw.BusStatus)

	mqtt       paho.Client
	bridgeHW   hw.Transport
	faultsLock sync.Mutex
	faults     int
}

// New initializes a board. The session is up when it returns.
func New(conf *config.Config) (*Board, error) {
	b := &Board{
		Config: conf,
		Queue:  event.New(),
		Timers: softtimer.New(),
	}
	if err := b.setup(); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Board) setup() error {
	conf := b.Config
	b.Transport = conf.NewTransport()
	b.Session = can.NewSession(b.Transport, b.Queue, b.Timers)
	if err := b.Session.Init(conf.Settings(EventCANRx, EventCANTx, EventCANFault)); err != nil {
		return err
	}
	for _, id := range conf.Filters {
		if err := b.Session.AddFilter(can.MsgID(id)); err != nil {
			return err
		}
	}
	if conf.MQTTURL != "" {
		if err := b.setupTelemetry(); err != nil {
			return err
		}
	}
	if conf.UARTPort != "" {
		return b.setupBridge()
	}
	return nil
}

// MustNew creates a board and fails on error.
func MustNew(conf *config.Config) *Board {
	b, err := New(conf)
	if err != nil {
		log.Fatalln(err)
	}
	return b
}

func (b *Board) setupTelemetry() error {
	enc, err := telemetry.NewEncoder(b.Config.TelemetryEncoding)
	if err != nil {
		return err
	}
	node := telemetry.NodeID()
	client, prefix, err := telemetry.Dial(b.Config.MQTTURL, node)
	if err != nil {
		return err
	}
	b.mqtt = client
	b.Publisher = telemetry.NewPublisher(client, prefix, node, enc)
	return b.Session.RegisterDefaultRxHandler(b.Publisher.HandleRx)
}

func (b *Board) setupBridge() error {
	port, err := canuart.OpenSerial(b.Config.UARTPort, b.Config.UARTBaud)
	if err != nil {
		return err
	}
	// The bridge sees every frame on the bus, so it gets its own socket.
	b.bridgeHW = b.Config.NewTransport()
	if err := b.bridgeHW.Init(hw.Settings{Bitrate: uint16(b.Config.Bitrate)}); err != nil {
		port.Close()
		return err
	}
	if b.Bridge, err = canuart.NewBridge(b.bridgeHW, port); err != nil {
		port.Close()
		return err
	}
	return nil
}

// Faults returns the number of faults reported.
func (b *Board) Faults() int {
	b.faultsLock.Lock()
	defer b.faultsLock.Unlock()
	return b.faults
}

func (b *Board) onFault(event.Event) {
	st := b.Transport.BusStatus()
	glog.Errorf("can: fault, bus %v", st)
	b.faultsLock.Lock()
	b.faults++
	b.faultsLock.Unlock()
	if fn := b.OnFault; fn != nil {
		fn(st)
	}
}

// AddToLoop implements framework.LoopAdder.
func (b *Board) AddToLoop(l *framework.Loop) {
	l.Handle(
		framework.HandleEventFunc(b.Session.ProcessEvent),
		framework.HandleEventID(EventCANFault, b.onFault),
	)
	if b.Publisher != nil {
		l.AddRunnable(b.Publisher)
	}
	if b.Bridge != nil {
		l.AddRunnable(b.Bridge)
	}
}

// Loop creates the main loop of the board.
func (b *Board) Loop() *framework.Loop {
	return framework.NewLoop(b.Queue).Add(b)
}

// Close shuts everything down.
func (b *Board) Close() error {
	var errs framework.AggregatedError
	if b.Session != nil {
		errs.Add(b.Session.Close())
	}
	if b.bridgeHW != nil {
		errs.Add(b.bridgeHW.Close())
	}
	if b.mqtt != nil {
		b.mqtt.Disconnect(250)
	}
	b.Timers.Close()
	return errs.Aggregate()
}
