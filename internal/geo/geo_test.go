package geo

import (
	"math"
	"testing"
)

func TestHaversineKm(t *testing.T) {
	// London (51.5074, -0.1278) to Paris (48.8566, 2.3522) ~ 340-350 km
	d := HaversineKm(51.5074, -0.1278, 48.8566, 2.3522)
	if d < 330 || d > 360 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestValidCoordinate(t *testing.T) {
	if !ValidCoordinate(51.5, -0.12) {
		t.Fatalf("expected valid coordinate")
	}
	if ValidCoordinate(math.NaN(), 0) {
		t.Fatalf("expected NaN lat rejected")
	}
	if ValidCoordinate(0, math.Inf(1)) {
		t.Fatalf("expected infinite lng rejected")
	}
	if ValidCoordinate(91, 0) {
		t.Fatalf("expected out-of-range lat rejected")
	}
	if ValidCoordinate(0, -181) {
		t.Fatalf("expected out-of-range lng rejected")
	}
}
