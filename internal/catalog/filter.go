package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"snipebot/internal/command"
)

// ErrNoAvailableTarget reports that resolution produced zero purchase
// intents: either the requested datacenter has no stock or the plan is
// sold out everywhere.
var ErrNoAvailableTarget = errors.New("no available purchase target")

// Warning is an out-of-band resolution note (e.g. an explicit option set
// did not match any offer and the default configuration was used instead).
type Warning struct {
	PlanCode   string
	Datacenter string
	Options    []string
	Reason     string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s@%s: %s", w.PlanCode, w.Datacenter, w.Reason)
}

// Resolve expands one raw intent against the live plan availability into
// concrete purchase intents, one per (datacenter, option set, quantity unit).
//
// Resolution never partially fails: an explicit option set with no matching
// in-stock offer falls back to the plan's default configuration and a
// Warning is returned alongside. Zero resolved intents is reported as
// ErrNoAvailableTarget.
func Resolve(raw command.RawIntent, plan Plan) ([]PurchaseIntent, []Warning, error) {
	dcs := targetDatacenters(raw, plan)
	if len(dcs) == 0 {
		return nil, nil, fmt.Errorf("%s (plan %s, datacenter %q): %w",
			"resolve", plan.PlanCode, raw.Datacenter, ErrNoAvailableTarget)
	}

	qty := raw.Quantity
	if qty < 1 {
		qty = 1
	}

	var (
		intents  []PurchaseIntent
		warnings []Warning
	)
	for _, dc := range dcs {
		sets, warn := optionSetsFor(raw, plan, dc)
		if warn != nil {
			warnings = append(warnings, *warn)
		}
		for _, opts := range sets {
			for i := 0; i < qty; i++ {
				intents = append(intents, PurchaseIntent{
					PlanCode:   plan.PlanCode,
					Datacenter: dc,
					Options:    opts,
					Quantity:   1,
				})
			}
		}
	}
	if len(intents) == 0 {
		return nil, warnings, fmt.Errorf("resolve (plan %s): %w", plan.PlanCode, ErrNoAvailableTarget)
	}
	return intents, warnings, nil
}

// targetDatacenters narrows the datacenter set: an explicit datacenter is
// kept only if the plan has stock there; a wildcard expands to every
// datacenter with stock.
func targetDatacenters(raw command.RawIntent, plan Plan) []string {
	avail := plan.AvailableDatacenters()
	if raw.Datacenter == "" {
		return avail
	}
	want := strings.ToLower(raw.Datacenter)
	for _, dc := range avail {
		if dc == want {
			return []string{dc}
		}
	}
	return nil
}

// optionSetsFor picks the option sets to purchase in one datacenter.
// Wildcard options expand to every in-stock offer there; explicit options
// must match an in-stock offer exactly or fall back to the default
// configuration with a warning.
func optionSetsFor(raw command.RawIntent, plan Plan, dc string) ([][]string, *Warning) {
	if raw.OptionsWildcard {
		var sets [][]string
		for _, off := range plan.Offers {
			if Available(off.Datacenters[dc]) {
				sets = append(sets, append([]string(nil), off.Options...))
			}
		}
		if len(sets) == 0 {
			// Datacenter came from AvailableDatacenters, so at least one
			// offer is in stock; defensive empty means default config.
			sets = [][]string{nil}
		}
		return sets, nil
	}

	if len(raw.Options) == 0 {
		// Explicit default-configuration request.
		return [][]string{nil}, nil
	}

	want := normalizeOptions(raw.Options)
	for _, off := range plan.Offers {
		if !Available(off.Datacenters[dc]) {
			continue
		}
		if sameOptions(want, off.Options) {
			return [][]string{append([]string(nil), off.Options...)}, nil
		}
	}

	return [][]string{nil}, &Warning{
		PlanCode:   plan.PlanCode,
		Datacenter: dc,
		Options:    raw.Options,
		Reason:     "requested options not in stock, using default configuration",
	}
}

func normalizeOptions(opts []string) []string {
	out := make([]string, 0, len(opts))
	for _, o := range opts {
		o = strings.ToLower(strings.TrimSpace(o))
		if o != "" {
			out = append(out, o)
		}
	}
	sort.Strings(out)
	return out
}

// sameOptions compares an already-normalized want set against an offer's
// options, ignoring order and case.
func sameOptions(want, have []string) bool {
	if len(want) != len(have) {
		return false
	}
	h := normalizeOptions(have)
	for i := range want {
		if want[i] != h[i] {
			return false
		}
	}
	return true
}
