package util

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFloorToStep(t *testing.T) {
	tests := []struct {
		name string
		x    string
		step string
		want string
	}{
		{"lot precision", "0.06789", "0.001", "0.067"},
		{"exact multiple", "0.067", "0.001", "0.067"},
		{"whole contracts", "66.67", "1", "66"},
		{"zero step passes through", "1.2345", "0", "1.2345"},
		{"coarse tick", "50312.4", "0.1", "50312.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := decimal.RequireFromString(tt.x)
			step := decimal.RequireFromString(tt.step)
			got := FloorToStep(x, step)
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("FloorToStep(%s, %s) = %s, want %s", tt.x, tt.step, got, tt.want)
			}
		})
	}
}

func TestCeilToStep(t *testing.T) {
	x := decimal.RequireFromString("0.0601")
	step := decimal.RequireFromString("0.01")
	got := CeilToStep(x, step)
	if !got.Equal(decimal.RequireFromString("0.07")) {
		t.Errorf("CeilToStep = %s, want 0.07", got)
	}
}

func TestClampInt(t *testing.T) {
	if got := ClampInt(25, 1, 20); got != 20 {
		t.Errorf("ClampInt(25,1,20) = %d, want 20", got)
	}
	if got := ClampInt(0, 1, 20); got != 1 {
		t.Errorf("ClampInt(0,1,20) = %d, want 1", got)
	}
	if got := ClampInt(7, 1, 20); got != 7 {
		t.Errorf("ClampInt(7,1,20) = %d, want 7", got)
	}
}
