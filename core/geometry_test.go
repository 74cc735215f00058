package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/cluster-patrol-sim/model"
)

func TestPolarOffset(t *testing.T) {
	c := model.Vector{X: 10, Y: 10, Z: 5}
	got := polarOffset(c, 2, math.Pi/2)
	if !got.ApproxEqual(model.Vector{X: 10, Y: 12}, 1e-12) {
		t.Fatalf("polarOffset = %+v, want (10, 12, 0)", got)
	}
}

func TestWithinRangeIsInclusive(t *testing.T) {
	a := model.Vector{}
	b := model.Vector{X: 300}
	if !withinRange(a, b, 300) {
		t.Errorf("points exactly maxRange apart should be connected")
	}
	if withinRange(a, model.Vector{X: 300.001}, 300) {
		t.Errorf("points beyond maxRange should not be connected")
	}
}
