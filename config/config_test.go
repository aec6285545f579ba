package config

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	for _, test := range []struct {
		name  string
		input string
		want  Params
	}{
		{"empty", "", nil},
		{"single", "6083=20000", Params{{0x6083, 20000}}},
		{"negative", "60FF=-100000", Params{{0x60FF, -100000}}},
		{"whitespace", "  6083 = 20000  ", Params{{0x6083, 20000}}},
		{"lowercase hex", "60ff=0", Params{{0x60FF, 0}}},
		{"hash comment", "# startup profile\n6083=20000", Params{{0x6083, 20000}}},
		{"slash comment", "6083=20000 // accel\n6084=20000", Params{{0x6083, 20000}, {0x6084, 20000}}},
		{"blank lines", "\n\n6083=20000\n\n", Params{{0x6083, 20000}}},
		{
			"order preserved",
			"60F7=35\n6083=20000\n6084=20000\n60FF=0",
			Params{{0x60F7, 35}, {0x6083, 20000}, {0x6084, 20000}, {0x60FF, 0}},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			got, err := Parse(strings.NewReader(test.input))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("unexpected params (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, test := range []struct {
		name    string
		input   string
		wantSub string
	}{
		{"missing equals", "6083 20000", "line 1: missing '='"},
		{"bad register", "xyz=1", `line 1: bad register index "xyz"`},
		{"register too wide", "16083=1", "line 1: bad register index"},
		{"bad value", "6083=abc", `line 1: bad value "abc"`},
		{"later line", "6083=20000\n6084=", "line 2: bad value"},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(test.input))
			if err == nil {
				t.Fatal("Parse succeeded, want error")
			}
			if !strings.Contains(err.Error(), test.wantSub) {
				t.Errorf("error %q does not contain %q", err, test.wantSub)
			}
		})
	}
}
