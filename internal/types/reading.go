package types

import "time"

// Reading is a journaled sensor reading and the fate of its uplink message.
type Reading struct {
	ID          string     `json:"id"`
	NodeID      int        `json:"node_id"`
	Message     string     `json:"message"`
	Humidity    float64    `json:"humidity"`
	Temperature float64    `json:"temperature"`
	Light       float64    `json:"light"`
	AcceptedAt  time.Time  `json:"accepted_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	Attempts    int        `json:"attempts"`
}
