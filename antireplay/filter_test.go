package antireplay

import (
	"testing"

	"github.com/malcolmseyd/dhtunnel/crypto"
)

func iv(n byte) crypto.IV {
	return crypto.IV{n, n ^ 0xff, 7}
}

func TestFilter(t *testing.T) {
	f := NewFilter(4)
	f.testCheck(t, iv(0), true)
	f.testCheck(t, iv(0), false)
	f.testCheck(t, iv(1), true)
	f.testCheck(t, iv(1), false)
	f.testCheck(t, iv(0), false)
	f.testCheck(t, iv(3), true)
	f.testCheck(t, iv(2), true)
	f.testCheck(t, iv(2), false)
	f.testCheck(t, iv(3), false)

	// window is full, 0 is the oldest and is pushed out
	f.testCheck(t, iv(4), true)
	f.testCheck(t, iv(0), true)
	f.testCheck(t, iv(1), true)
	f.testCheck(t, iv(4), false)
	f.testCheck(t, iv(2), false)
	f.testCheck(t, iv(3), true)

	f.Reset()
	f.testCheck(t, iv(0), true)
	f.testCheck(t, iv(1), true)
	f.testCheck(t, iv(4), true)
	f.testCheck(t, iv(4), false)
}

func TestFilterDefaultSize(t *testing.T) {
	if s := NewFilter(0).Size(); s != DefaultSize {
		t.Fatal("expected default size, got", s)
	}
	if s := NewFilter(-3).Size(); s != DefaultSize {
		t.Fatal("expected default size, got", s)
	}
}

func TestFilterRandomIVs(t *testing.T) {
	f := NewFilter(64)
	seen := make([]crypto.IV, 0, 64)
	for i := 0; i < 64; i++ {
		v, err := crypto.NewIV()
		if err != nil {
			t.Fatal(err)
		}
		f.testCheck(t, *v, true)
		seen = append(seen, *v)
	}
	for _, v := range seen {
		f.testCheck(t, v, false)
	}
}

func (f *Filter) testCheck(t *testing.T, v crypto.IV, expected bool) {
	result := f.Check(v)
	t.Log(v[0], "->", result)
	if result != expected {
		t.FailNow()
	}
}
