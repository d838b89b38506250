// Package httpapi exposes gateway health, live status and the reading
// journal over HTTP.
package httpapi

import (
	"database/sql"
	"net/http"
	"time"

	"cloudpico-relay/internal/poller"
	"cloudpico-relay/internal/relay"
	"cloudpico-relay/internal/store"
)

type PollerStatus interface {
	Status() poller.Status
}

type RelayStatus interface {
	Snapshot() relay.Snapshot
}

// Deps are the sources the handlers read from. DB and Readings are nil when
// the journal is disabled.
type Deps struct {
	DB       *sql.DB
	Readings store.ReadingRepository
	Poller   PollerStatus
	Relay    RelayStatus
	Started  time.Time
}

func NewMux(d Deps) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, d.DB)
	registerStatus(mux, d)
	registerReadings(mux, d.Readings)
	return mux
}

func NewServer(addr string, mux *http.ServeMux) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           requestLogger(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
