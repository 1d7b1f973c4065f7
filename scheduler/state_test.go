package scheduler

import (
	"testing"
	"time"
)

func TestTransferState_Percent(t *testing.T) {
	tests := []struct {
		name  string
		state TransferState
		want  float64
	}{
		{"nothing known", TransferState{JobCount: 2}, 0},
		{"no jobs", TransferState{BytesMax: 10, BytesTransferred: 5}, 0},
		{"half of one", TransferState{JobCount: 1, BytesMaxCount: 1, BytesMax: 100, BytesTransferred: 50}, 50},
		{"weighted by known sizes", TransferState{JobCount: 4, BytesMaxCount: 2, BytesMax: 100, BytesTransferred: 100}, 50},
		{"clamped", TransferState{JobCount: 1, BytesMaxCount: 1, BytesMax: 10, BytesTransferred: 20}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Percent(); got != tt.want {
				t.Errorf("Percent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransferState_ShouldRender(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		last float64
		at   time.Time
		pct  float64
		want bool
	}{
		{"below one point", 10, now.Add(-time.Hour), 10.5, false},
		{"small step too soon", 10, now.Add(-100 * time.Millisecond), 12, false},
		{"small step after a second", 10, now.Add(-time.Second), 12, true},
		{"large step", 10, now, 15, true},
		{"first render", 0, time.Time{}, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := TransferState{LastProgress: tt.last, LastUpdate: tt.at}
			if got := s.shouldRender(tt.pct, now); got != tt.want {
				t.Errorf("shouldRender(%v) = %v, want %v", tt.pct, got, tt.want)
			}
		})
	}
}
