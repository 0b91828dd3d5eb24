package catalog

import (
	"context"
	"sort"
	"strings"
)

// StatusUnavailable is the only status string that counts as out of stock.
// Providers report arbitrary concrete statuses ("available", "1H-high",
// "72H", ...); anything that is not "unavailable" is purchasable.
const StatusUnavailable = "unavailable"

// Available reports whether a datacenter status counts as in stock.
func Available(status string) bool {
	return status != "" && status != StatusUnavailable
}

// Offer is one purchasable configuration of a plan: an option-code set plus
// per-datacenter stock status.
type Offer struct {
	// Options are the provider option codes. Empty means the plan's
	// default configuration.
	Options []string `json:"options"`

	// Human descriptors, used in notifications.
	Memory  string `json:"memory,omitempty"`
	Storage string `json:"storage,omitempty"`

	// Datacenters maps datacenter code -> status string.
	Datacenters map[string]string `json:"datacenters"`
}

// Key identifies the offer within a plan ("default" for the default
// configuration). Used as part of monitor status keys.
func (o Offer) Key() string {
	if len(o.Options) == 0 {
		return "default"
	}
	return strings.Join(o.Options, ",")
}

// Display is a short human-readable configuration descriptor.
func (o Offer) Display() string {
	switch {
	case o.Memory != "" && o.Storage != "":
		return o.Memory + " + " + o.Storage
	case o.Memory != "":
		return o.Memory
	case o.Storage != "":
		return o.Storage
	case len(o.Options) > 0:
		return strings.Join(o.Options, ",")
	default:
		return "default"
	}
}

// Plan is the live availability view of one plan code.
type Plan struct {
	PlanCode string  `json:"planCode"`
	Name     string  `json:"name,omitempty"`
	Offers   []Offer `json:"offers"`
}

// AvailableDatacenters returns the sorted set of datacenters where at least
// one offer of the plan is in stock.
func (p Plan) AvailableDatacenters() []string {
	seen := map[string]struct{}{}
	for _, off := range p.Offers {
		for dc, st := range off.Datacenters {
			if Available(st) {
				seen[dc] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for dc := range seen {
		out = append(out, dc)
	}
	sort.Strings(out)
	return out
}

// Summary is one entry of the provider's full plan list, used for new-plan
// detection.
type Summary struct {
	PlanCode  string `json:"planCode"`
	Name      string `json:"name,omitempty"`
	CPU       string `json:"cpu,omitempty"`
	Memory    string `json:"memory,omitempty"`
	Storage   string `json:"storage,omitempty"`
	Bandwidth string `json:"bandwidth,omitempty"`
}

// Provider fetches live availability from the upstream hosting provider.
type Provider interface {
	// GetCatalog returns the availability view for one plan code.
	GetCatalog(ctx context.Context, planCode string) (Plan, error)

	// ListPlans returns the full plan list. Implementations that cannot
	// enumerate plans may return an empty slice.
	ListPlans(ctx context.Context) ([]Summary, error)
}

// PurchaseIntent is the resolved, unambiguous description of one desired
// purchase unit. It is immutable after creation; Quantity is always 1 after
// resolution (fan-out happens during Resolve).
type PurchaseIntent struct {
	PlanCode   string   `json:"planCode"`
	Datacenter string   `json:"datacenter"`
	Options    []string `json:"options"`
	Quantity   int      `json:"quantity"`
}
