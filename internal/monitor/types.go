package monitor

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("subscription not found")

// Spec is the operator-supplied part of a subscription.
type Spec struct {
	PlanCode   string `json:"planCode"`
	ServerName string `json:"serverName,omitempty"`

	// Datacenters narrows watching to these codes; empty watches all.
	Datacenters []string `json:"datacenters,omitempty"`

	NotifyAvailable   bool `json:"notifyAvailable"`
	NotifyUnavailable bool `json:"notifyUnavailable"`

	// AutoOrder enqueues a purchase whenever a watched configuration
	// flips to available.
	AutoOrder bool `json:"autoOrder"`
}

// Subscription is one watched plan with its accumulated polling state.
type Subscription struct {
	Spec

	CreatedAt time.Time `json:"createdAt"`

	// LastStatus maps "datacenter|offerKey" to the last fetched status.
	// An absent key means the configuration has never been observed, so
	// the first observation is itself a transition.
	LastStatus map[string]string `json:"lastStatus,omitempty"`

	History []ChangeEvent `json:"history,omitempty"`
}

const (
	TransitionAvailable   = "available"
	TransitionUnavailable = "unavailable"
)

// ChangeEvent records one availability transition of one configuration in
// one datacenter.
type ChangeEvent struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`

	PlanCode   string `json:"planCode"`
	Datacenter string `json:"datacenter"`
	OfferKey   string `json:"offerKey"`
	Display    string `json:"display,omitempty"`

	Status     string `json:"status"`
	PrevStatus string `json:"prevStatus,omitempty"`

	// Transition is "available" or "unavailable".
	Transition string `json:"transition"`
}

func statusKey(dc, offerKey string) string { return dc + "|" + offerKey }
