// Package bringup initializes the gateway hardware and opens both links.
// Every failure here is a located fault: the gateway cannot run without its
// radio or its uplink.
package bringup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"cloudpico-relay/internal/config"
	"cloudpico-relay/internal/fault"
	"cloudpico-relay/internal/radio"
	"cloudpico-relay/internal/serialport"
	"cloudpico-relay/internal/transport"
)

const (
	resetPulse  = 10 * time.Millisecond
	resetSettle = 50 * time.Millisecond
)

// Links holds the opened radio and uplink.
type Links struct {
	Radio  *radio.Radio
	Uplink transport.Link
}

// Close shuts both links down.
func (l *Links) Close() error {
	var errs []error
	if l.Uplink != nil {
		errs = append(errs, l.Uplink.Close())
	}
	if l.Radio != nil {
		errs = append(errs, l.Radio.Close())
	}
	return errors.Join(errs...)
}

// Open resets the radio if a reset pin is configured, opens the radio UART
// and the configured uplink, and starts their readers. Readers stop with ctx.
func Open(ctx context.Context, cfg config.Config, open serialport.Opener, logger *slog.Logger) (*Links, error) {
	if open == nil {
		open = serialport.Open
	}

	if cfg.RadioResetPin != "" {
		if _, err := host.Init(); err != nil {
			return nil, fault.Errorf("host init: %w", err)
		}
		pin, err := lookupPin(cfg.RadioResetPin)
		if err != nil {
			return nil, fault.New(err)
		}
		if err := pulse(pin, resetPulse, resetSettle); err != nil {
			return nil, fault.Errorf("reset radio: %w", err)
		}
		logger.Info("radio reset", "pin", cfg.RadioResetPin)
	}

	rport, err := open(cfg.RadioPort, serialport.PortOptions{BaudRate: cfg.RadioBaud, Parity: cfg.RadioParity})
	if err != nil {
		return nil, fault.Errorf("open radio: %w", err)
	}
	links := &Links{
		Radio: radio.New(rport, radio.Options{FrameGap: cfg.RadioFrameGap, Logger: logger}),
	}
	links.Radio.Start(ctx)
	logger.Info("radio ready", "port", cfg.RadioPort, "baud", cfg.RadioBaud)

	uplink, err := openUplink(ctx, cfg, open, logger)
	if err != nil {
		_ = links.Close()
		return nil, err
	}
	links.Uplink = uplink
	return links, nil
}

func openUplink(ctx context.Context, cfg config.Config, open serialport.Opener, logger *slog.Logger) (transport.Link, error) {
	switch cfg.UplinkTransport {
	case config.TransportSerial:
		port, err := open(cfg.UplinkPort, serialport.PortOptions{BaudRate: cfg.UplinkBaud})
		if err != nil {
			return nil, fault.Errorf("open uplink: %w", err)
		}
		s := transport.NewSerial(port, logger)
		s.Start(ctx)
		logger.Info("uplink ready", "transport", "serial", "port", cfg.UplinkPort, "baud", cfg.UplinkBaud)
		return s, nil

	case config.TransportTCP:
		tl := transport.NewTCP(cfg.UplinkTCPAddr, logger)
		// Sends fail fast until the dial loop reaches the endpoint.
		tl.Start(ctx)
		logger.Info("uplink ready", "transport", "tcp", "addr", cfg.UplinkTCPAddr)
		return tl, nil

	case config.TransportMQTT:
		m, err := transport.NewMQTT(cfg, logger)
		if err != nil {
			return nil, fault.Errorf("open uplink: %w", err)
		}
		// The broker may come up after the gateway; sends fail until it does.
		go func() {
			if err := m.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("mqtt connect failed", "error", err)
			}
		}()
		logger.Info("uplink ready", "transport", "mqtt", "broker", cfg.MQTTBroker, "topic", cfg.MQTTUplinkTopic)
		return m, nil

	default:
		return nil, fault.Errorf("unknown uplink transport %q", cfg.UplinkTransport)
	}
}

func lookupPin(name string) (gpio.PinOut, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio %q not found", name)
	}
	return p, nil
}

// pulse drives the active-low reset line low for width, releases it and
// waits settle for the transceiver to boot.
func pulse(pin gpio.PinOut, width, settle time.Duration) error {
	if err := pin.Out(gpio.Low); err != nil {
		return err
	}
	time.Sleep(width)
	if err := pin.Out(gpio.High); err != nil {
		return err
	}
	time.Sleep(settle)
	return nil
}
