package params

import (
	"fmt"
	"testing"
)

func base() ModelParams {
	return ModelParams{
		Specified: map[string]bool{"L": true, "D": true, "BC": true, "Beta": true, "OPDIM": true, "S": true, "M": true},
		L:         4, D: 2, BC: PBC, Beta: 10, M: 100, OPDIM: 2, S: 10,
	}
}

func TestValidateOK(t *testing.T) {
	t.Parallel()
	p := base()
	if err := p.Validate(); err != nil {
		t.Fatalf("%+v", err)
	}
	if p.N() != 16 {
		t.Fatalf("N=%d", p.N())
	}
	if p.NCheckpoints() != 10 {
		t.Fatalf("n=%d", p.NCheckpoints())
	}
	if p.MSF() != 2 {
		t.Fatalf("MSF=%d", p.MSF())
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*ModelParams)
	}{
		{name: "missing L", mutate: func(p *ModelParams) { delete(p.Specified, "L") }},
		{name: "both M and Dtau", mutate: func(p *ModelParams) {
			p.Specified["Dtau"] = true
			p.Dtau = 0.1
		}},
		{name: "neither M nor Dtau", mutate: func(p *ModelParams) { delete(p.Specified, "M") }},
		{name: "S does not divide M", mutate: func(p *ModelParams) { p.S = 7 }},
		{name: "M/S < 2", mutate: func(p *ModelParams) { p.S = 100 }},
		{name: "bad OPDIM", mutate: func(p *ModelParams) { p.OPDIM = 5 }},
		{name: "bad BC", mutate: func(p *ModelParams) { p.BC = "diagonal" }},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%s", test.name), func(t *testing.T) {
			t.Parallel()
			p := base()
			test.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestComplexGreen(t *testing.T) {
	t.Parallel()
	tests := []struct {
		opdim     int
		weakZFlux bool
		want      bool
	}{
		{opdim: 1, weakZFlux: false, want: false},
		{opdim: 1, weakZFlux: true, want: true},
		{opdim: 2, weakZFlux: false, want: true},
		{opdim: 3, weakZFlux: false, want: true},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d,%v", test.opdim, test.weakZFlux), func(t *testing.T) {
			t.Parallel()
			p := ModelParams{OPDIM: test.opdim, WeakZFlux: test.weakZFlux}
			if got := p.ComplexGreen(); got != test.want {
				t.Fatalf("%v, expected %v", got, test.want)
			}
		})
	}
}
