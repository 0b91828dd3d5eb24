// Package command turns free-form operator order text into raw purchase
// intents. A command line is
//
//	planCode [datacenter] [quantity] [options]
//
// with every field after the plan code optional. Multiple commands are
// separated by newlines or ';'.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedCommand reports a command with no recognizable plan code.
var ErrMalformedCommand = errors.New("malformed command")

// DefaultDatacenters is the built-in known datacenter code set, used to
// disambiguate the token after the plan code.
var DefaultDatacenters = []string{
	"gra", "rbx", "sbg", "bhs", "syd", "sgp", "ynm", "waw",
	"fra", "lon", "par", "eri", "lim", "vin", "hil",
}

// RawIntent is one parsed order command, before catalog resolution.
type RawIntent struct {
	PlanCode string

	// Datacenter is empty for "any datacenter with stock".
	Datacenter string

	Quantity int

	// Options are explicit option codes. OptionsWildcard distinguishes
	// "no options given" (purchase every in-stock configuration) from an
	// explicit empty set (default configuration only, the "-" token).
	Options         []string
	OptionsWildcard bool
}

type Parser struct {
	dcs map[string]struct{}
}

// NewParser builds a parser over the given known datacenter codes; an empty
// list means DefaultDatacenters.
func NewParser(datacenters []string) *Parser {
	if len(datacenters) == 0 {
		datacenters = DefaultDatacenters
	}
	m := make(map[string]struct{}, len(datacenters))
	for _, dc := range datacenters {
		m[strings.ToLower(strings.TrimSpace(dc))] = struct{}{}
	}
	return &Parser{dcs: m}
}

// Parse splits text into commands and parses each one. It fails atomically:
// any malformed command rejects the whole input.
func (p *Parser) Parse(text string) ([]RawIntent, error) {
	lines := splitCommands(text)
	if len(lines) == 0 {
		return nil, fmt.Errorf("empty input: %w", ErrMalformedCommand)
	}

	intents := make([]RawIntent, 0, len(lines))
	for _, line := range lines {
		in, err := p.parseOne(line)
		if err != nil {
			return nil, err
		}
		intents = append(intents, in)
	}
	return intents, nil
}

func (p *Parser) parseOne(line string) (RawIntent, error) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return RawIntent{}, fmt.Errorf("%q: %w", line, ErrMalformedCommand)
	}

	in := RawIntent{
		PlanCode:        strings.ToLower(tokens[0]),
		Quantity:        1,
		OptionsWildcard: true,
	}

	rest := tokens[1:]

	// The token right after the plan code may be a datacenter. Anything
	// that is not a known datacenter code falls through to the
	// quantity/options scan below.
	if len(rest) > 0 {
		if dc := strings.ToLower(rest[0]); p.isDatacenter(dc) {
			in.Datacenter = dc
			rest = rest[1:]
		}
	}

	// Among the remaining tokens the first positive integer is the
	// quantity; everything else is comma-separated option codes.
	qtySet := false
	var optTokens []string
	for _, tok := range rest {
		if !qtySet {
			if n, err := strconv.Atoi(tok); err == nil && n > 0 {
				in.Quantity = n
				qtySet = true
				continue
			}
		}
		optTokens = append(optTokens, tok)
	}

	if len(optTokens) > 0 {
		in.OptionsWildcard = false
		in.Options = splitOptions(optTokens)
	}
	return in, nil
}

func (p *Parser) isDatacenter(tok string) bool {
	_, ok := p.dcs[tok]
	return ok
}

// splitCommands breaks the input on newlines and ';', dropping blanks.
func splitCommands(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		for _, part := range strings.Split(line, ";") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// splitOptions flattens option tokens ("a,b c" -> [a b c]). The lone "-"
// token means the explicit default configuration (empty set).
func splitOptions(tokens []string) []string {
	var opts []string
	for _, tok := range tokens {
		if tok == "-" {
			continue
		}
		for _, o := range strings.Split(tok, ",") {
			o = strings.ToLower(strings.TrimSpace(o))
			if o != "" {
				opts = append(opts, o)
			}
		}
	}
	return opts
}
