package command

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseSingleCommand(t *testing.T) {
	t.Parallel()

	p := NewParser(nil)

	cases := []struct {
		name string
		in   string
		want RawIntent
	}{
		{
			name: "full form",
			in:   "24sk202 rbx 3 ram-64g,softraid-2x450",
			want: RawIntent{
				PlanCode:   "24sk202",
				Datacenter: "rbx",
				Quantity:   3,
				Options:    []string{"ram-64g", "softraid-2x450"},
			},
		},
		{
			name: "plan only is all wildcards",
			in:   "24sk202",
			want: RawIntent{PlanCode: "24sk202", Quantity: 1, OptionsWildcard: true},
		},
		{
			name: "bare integer is quantity not datacenter",
			in:   "24sk202 3",
			want: RawIntent{PlanCode: "24sk202", Quantity: 3, OptionsWildcard: true},
		},
		{
			name: "datacenter without quantity",
			in:   "24sk202 gra",
			want: RawIntent{PlanCode: "24sk202", Datacenter: "gra", Quantity: 1, OptionsWildcard: true},
		},
		{
			name: "options before quantity",
			in:   "24sk202 ram-64g 2",
			want: RawIntent{PlanCode: "24sk202", Quantity: 2, Options: []string{"ram-64g"}},
		},
		{
			name: "unknown token becomes options",
			in:   "24sk202 xyz",
			want: RawIntent{PlanCode: "24sk202", Quantity: 1, Options: []string{"xyz"}},
		},
		{
			name: "dash is explicit default configuration",
			in:   "24sk202 bhs -",
			want: RawIntent{PlanCode: "24sk202", Datacenter: "bhs", Quantity: 1},
		},
		{
			name: "case folded",
			in:   "24SK202 RBX 2 RAM-64G",
			want: RawIntent{PlanCode: "24sk202", Datacenter: "rbx", Quantity: 2, Options: []string{"ram-64g"}},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := p.Parse(tc.in)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tc.in, err)
			}
			if len(got) != 1 {
				t.Fatalf("Parse(%q) = %d intents, want 1", tc.in, len(got))
			}
			if !reflect.DeepEqual(got[0], tc.want) {
				t.Fatalf("Parse(%q)\n got %+v\nwant %+v", tc.in, got[0], tc.want)
			}
		})
	}
}

func TestParseMultipleCommands(t *testing.T) {
	t.Parallel()

	p := NewParser(nil)

	got, err := p.Parse("24sk202 rbx\n25skle01 2; 24sk30 gra 1 ram-32g")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d intents, want 3", len(got))
	}
	if got[0].Datacenter != "rbx" || got[1].Quantity != 2 || got[2].Options[0] != "ram-32g" {
		t.Fatalf("unexpected intents: %+v", got)
	}
}

func TestParseRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	p := NewParser(nil)
	for _, in := range []string{"", "   \n  ", ";;\n;"} {
		if _, err := p.Parse(in); !errors.Is(err, ErrMalformedCommand) {
			t.Fatalf("Parse(%q) err = %v, want ErrMalformedCommand", in, err)
		}
	}
}

func TestParseCustomDatacenters(t *testing.T) {
	t.Parallel()

	p := NewParser([]string{"dc1"})

	got, err := p.Parse("24sk202 dc1 2")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got[0].Datacenter != "dc1" || got[0].Quantity != 2 {
		t.Fatalf("unexpected intent: %+v", got[0])
	}

	// "rbx" is not in the custom set, so it parses as an option code.
	got, err = p.Parse("24sk202 rbx")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got[0].Datacenter != "" || len(got[0].Options) != 1 || got[0].Options[0] != "rbx" {
		t.Fatalf("unexpected intent: %+v", got[0])
	}
}
