package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"cloudpico-relay/internal/bringup"
	"cloudpico-relay/internal/clock"
	"cloudpico-relay/internal/config"
	"cloudpico-relay/internal/httpapi"
	"cloudpico-relay/internal/packet"
	"cloudpico-relay/internal/poller"
	"cloudpico-relay/internal/relay"
	"cloudpico-relay/internal/serialport"
	"cloudpico-relay/internal/store"
	"cloudpico-relay/internal/types"
)

const shutdownTimeout = 5 * time.Second

// Run brings up the hardware and runs the gateway until ctx is done or the
// control loop fails. Hardware faults are returned as *fault.Fault.
func Run(ctx context.Context, cfg config.Config) error {
	return run(ctx, cfg, serialport.Open, clock.NewSystem())
}

func run(ctx context.Context, cfg config.Config, open serialport.Opener, clk clock.Clock) error {
	slog.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"radioPort", cfg.RadioPort,
		"radioBaud", cfg.RadioBaud,
		"uplinkTransport", cfg.UplinkTransport,
		"nodes", strconv.Itoa(int(cfg.MinNode))+".."+strconv.Itoa(int(cfg.MaxNode)),
		"receiveWindow", cfg.ReceiveWindow,
		"attemptInterval", cfg.AttemptInterval,
		"flushInterval", cfg.FlushInterval,
		"sqlitePath", cfg.SQLitePath,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	links, err := bringup.Open(ctx, cfg, open, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := links.Close(); err != nil {
			slog.Warn("close links", "error", err)
		}
	}()

	rel := relay.New(links.Uplink, clk, relay.Options{
		AckBytes:      cfg.AckBytes,
		FlushInterval: cfg.FlushInterval,
		Logger:        slog.Default(),
	})

	p, err := poller.New(links.Radio, rel, clk, poller.Options{
		MinNode:         packet.NodeID(cfg.MinNode),
		MaxNode:         packet.NodeID(cfg.MaxNode),
		Window:          cfg.ReceiveWindow,
		AttemptInterval: cfg.AttemptInterval,
		QueryTxDelay:    cfg.QueryTxDelay,
		PollInterval:    cfg.PollInterval,
		Logger:          slog.Default(),
	})
	if err != nil {
		return err
	}

	deps := httpapi.Deps{Poller: p, Relay: rel, Started: time.Now()}

	var wg sync.WaitGroup
	if cfg.SQLitePath != "" {
		dbConn, err := store.Open(cfg.SQLitePath)
		if err != nil {
			slog.Error("journal unavailable, continuing without it", "path", cfg.SQLitePath, "error", err)
		} else {
			defer func() {
				if err := store.Close(dbConn); err != nil {
					slog.Error("db close", "error", err)
				}
			}()
			repo := store.NewRepository(dbConn)
			journal := store.NewJournal(repo, 0, slog.Default())
			deps.DB, deps.Readings = dbConn, repo

			p.OnAccepted(func(r poller.Reading) {
				journal.Accepted(toRecord(r))
			})
			rel.OnConfirmed(func(m relay.Message, attempts int) {
				slog.Info("reading delivered", "message_id", m.ID, "node", m.Node, "attempts", attempts)
				journal.Confirmed(m.ID, attempts, time.Now())
			})

			jctx, jcancel := context.WithCancel(context.Background())
			wg.Add(1)
			go func() {
				defer wg.Done()
				journal.Run(jctx)
			}()
			// Runs before the db close above so queued writes land first.
			defer func() {
				jcancel()
				wg.Wait()
			}()
		}
	}

	srv := httpapi.NewServer(cfg.HTTPAddr, httpapi.NewMux(deps))
	httpErr := make(chan error, 1)
	go func() {
		slog.Info("http listening", "addr", cfg.HTTPAddr)
		httpErr <- srv.ListenAndServe()
	}()
	defer func() {
		shutdownCtx, c := context.WithTimeout(context.Background(), shutdownTimeout)
		defer c()
		slog.Info("http shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
	}()

	pollErr := make(chan error, 1)
	go func() { pollErr <- p.Run(ctx) }()

	select {
	case err := <-pollErr:
		return err
	case err := <-httpErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed, gateway continues without it", "error", err)
		}
		return <-pollErr
	}
}

func toRecord(r poller.Reading) types.Reading {
	return types.Reading{
		ID:          r.Message.ID,
		NodeID:      int(r.Node),
		Message:     r.Message.Text,
		Humidity:    widen(r.Packet.Humidity),
		Temperature: widen(r.Packet.Temperature),
		Light:       widen(r.Packet.Light),
		AcceptedAt:  r.AcceptedAt,
	}
}

// widen converts through the shortest decimal form, so 45.6 stays 45.6
// instead of 45.59999847.
func widen(f float32) float64 {
	v, _ := strconv.ParseFloat(strconv.FormatFloat(float64(f), 'g', -1, 32), 64)
	return v
}
