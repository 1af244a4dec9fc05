package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/JeanRibes/looper/bus"
	"github.com/JeanRibes/looper/config"
	"github.com/JeanRibes/looper/looper"
	"github.com/JeanRibes/looper/notify"
	"github.com/JeanRibes/looper/port"
	"github.com/JeanRibes/looper/protocol"
	"github.com/JeanRibes/looper/shared"
)

func runLooper(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	in, out, err := openPorts(cfg)
	if err != nil {
		return err
	}

	b := bus.New(logger)
	adapter := port.NewAdapter(in, out, b, logger)
	scheduler := looper.NewScheduler(adapter, logger)
	events := make(chan shared.Message, 64)
	engine := looper.NewEngine(cfg.Session, scheduler, adapter,
		looper.WithLogger(logger),
		looper.WithEvents(events),
	)
	detach := engine.Attach(b)
	monitor(b, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go notify.NewOSC(notify.Dial(cfg.OSC.Host, cfg.OSC.Port), logger).Run(ctx, events)

	if err := adapter.Start(); err != nil {
		scheduler.Close()
		adapter.CloseInput()
		adapter.CloseOutput()
		return err
	}
	logger.Info("ready",
		"ticks per sequence", engine.TicksPerSequence(),
		"measures", cfg.Session.MeasuresPerSequence,
		"signature", fmt.Sprintf("%d/%d", cfg.Session.TimeSignature.Numerator, cfg.Session.TimeSignature.Denominator),
		"source", shared.ChannelName(cfg.Session.SourceChannel),
	)

	<-ctx.Done()
	logger.Info("stopping")

	if err := adapter.CloseInput(); err != nil {
		logger.Warn("closing input", "err", err)
	}
	detach()
	scheduler.Close()
	if cfg.Dump != "" {
		if err := engine.SaveDump(cfg.Dump); err != nil {
			logger.Error("session dump", "file", cfg.Dump, "err", err)
		} else {
			logger.Info("session saved", "file", cfg.Dump)
		}
	}
	if err := adapter.CloseOutput(); err != nil {
		logger.Warn("closing output", "err", err)
	}
	return nil
}

// monitor logs every incoming message except the clock.
func monitor(b *bus.Bus, logger *charmlog.Logger) {
	midiLog := logger.WithPrefix("midi")
	b.Subscribe(protocol.AnyMessage, func(msg protocol.Message) error {
		if msg.Kind() != protocol.SysRealTime {
			midiLog.Debug(msg.Kind().String(), "bytes", fmt.Sprintf("% X", msg.Bytes()))
		}
		return nil
	})
}

// openPorts prefers a serial device, then a port name, then a port index.
// The same serial device is opened once when it serves as both input and output.
func openPorts(cfg config.Config) (port.In, port.Out, error) {
	var in port.In
	var out port.Out

	var serialIn *port.Serial
	if cfg.Input.Serial != "" {
		s, err := port.OpenSerial(cfg.Input.Serial, cfg.Input.Baud)
		if err != nil {
			return nil, nil, err
		}
		in, serialIn = s, s
	} else if cfg.Input.Name != "" {
		d, err := port.OpenInput(cfg.Input.Name)
		if err != nil {
			return nil, nil, err
		}
		in = d
	} else {
		d, err := port.OpenInputIndex(cfg.Input.Index)
		if err != nil {
			return nil, nil, err
		}
		in = d
	}

	var err error
	switch {
	case cfg.Output.Serial != "" && serialIn != nil && cfg.Output.Serial == cfg.Input.Serial:
		out = serialIn
	case cfg.Output.Serial != "":
		var s *port.Serial
		if s, err = port.OpenSerial(cfg.Output.Serial, cfg.Output.Baud); err == nil {
			out = s
		}
	case cfg.Output.Name != "":
		var d *port.DriverOut
		if d, err = port.OpenOutput(cfg.Output.Name); err == nil {
			out = d
		}
	default:
		var d *port.DriverOut
		if d, err = port.OpenOutputIndex(cfg.Output.Index); err == nil {
			out = d
		}
	}
	if err != nil {
		in.Close()
		return nil, nil, err
	}
	return in, out, nil
}
