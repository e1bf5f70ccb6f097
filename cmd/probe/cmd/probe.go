package cmd

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/OpenTraceLab/OpenTraceProbe/internal/config"
	"github.com/OpenTraceLab/OpenTraceProbe/internal/logging"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/bitbang"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/dapclient"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/probe"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/session"
	"github.com/OpenTraceLab/OpenTraceProbe/pkg/sim"
)

// newEngine builds the protocol engine for c over pins.
func newEngine(c config.Config, pins bitbang.Pins, delay func(time.Duration), logger *log.Entry) *probe.Engine {
	s := session.New(
		session.ClockLimits{Max: c.MaxClock, Min: c.MinClock},
		session.Defaults{
			Clock:     c.DefaultClock,
			Transfer:  session.TransferConfig{WaitRetry: uint16(c.WaitRetry), MatchRetry: session.DefaultDefaults.Transfer.MatchRetry},
			SWD:       session.DefaultDefaults.SWD,
			IRLengths: session.DefaultDefaults.IRLengths,
		},
	)
	ec := probe.DefaultConfig
	ec.Info.Vendor = c.Manufacturer
	ec.Info.Product = c.Product
	ec.Info.Serial = c.Serial
	ec.PacketSize = c.PacketSize
	ec.QueueCapacity = c.QueueCapacity
	ec.MaxResetPulse = c.MaxResetPulse
	ec.Delay = delay
	return probe.NewEngine(ec, pins, s, logger)
}

// simTarget returns the simulated target the --sim and --pins sim modes use.
func simTarget() *sim.Target {
	return sim.New(sim.Config{})
}

// openClient connects to the in-process simulated probe or to a USB probe.
func openClient(useSim bool, vid, pid uint16) (*dapclient.Client, error) {
	if useSim {
		engine := newEngine(cfg, simTarget(), bitbang.NoDelay, logging.For(logger, logging.Probe))
		return dapclient.New(dapclient.NewEngineTransport(engine)), nil
	}
	t, err := dapclient.OpenUSB(vid, pid)
	if err != nil {
		return nil, fmt.Errorf("open probe %04X:%04X: %w", vid, pid, err)
	}
	return dapclient.New(t), nil
}
