package services

import (
	"testing"

	"github.com/jmmfcoutinho/idealista-web-scraper/models"
)

func TestSegmentNext(t *testing.T) {
	base := Segment{
		LocationSlug: "cascais",
		Operation:    models.OperationBuy,
		PropertyType: "casas",
	}

	t.Run("no lowest price means no follow-up", func(t *testing.T) {
		if _, ok := base.Next(nil); ok {
			t.Fatal("expected no follow-up segment")
		}
	})

	t.Run("derives price-bounded follow-up", func(t *testing.T) {
		next, ok := base.Next(intp(450000))
		if !ok {
			t.Fatal("expected a follow-up segment")
		}
		if next.MaxPrice == nil || *next.MaxPrice != 450000 {
			t.Errorf("MaxPrice = %v, want 450000", next.MaxPrice)
		}
		if next.MinPrice != nil {
			t.Errorf("MinPrice = %v, want nil (inherited)", next.MinPrice)
		}
		if next.LocationSlug != base.LocationSlug || next.Operation != base.Operation || next.PropertyType != base.PropertyType {
			t.Errorf("follow-up changed identity: %+v", next)
		}
	})

	t.Run("inherits the floor", func(t *testing.T) {
		parent := base
		parent.MinPrice = intp(100000)
		parent.MaxPrice = intp(800000)

		next, ok := parent.Next(intp(450000))
		if !ok {
			t.Fatal("expected a follow-up segment")
		}
		if next.MinPrice == nil || *next.MinPrice != 100000 {
			t.Errorf("MinPrice = %v, want 100000", next.MinPrice)
		}
		if next.MaxPrice == nil || *next.MaxPrice != 450000 {
			t.Errorf("MaxPrice = %v, want 450000", next.MaxPrice)
		}
	})

	t.Run("halts at the floor", func(t *testing.T) {
		parent := base
		parent.MinPrice = intp(450000)

		if _, ok := parent.Next(intp(450000)); ok {
			t.Fatal("expected halt when next max price equals the floor")
		}
		if _, ok := parent.Next(intp(300000)); ok {
			t.Fatal("expected halt when next max price is below the floor")
		}
	})

	t.Run("monotonic refinement terminates", func(t *testing.T) {
		seg := base
		lowest := []int{900000, 700000, 400000}
		for i, price := range lowest {
			next, ok := seg.Next(intp(price))
			if !ok {
				t.Fatalf("step %d: expected follow-up", i)
			}
			if seg.MaxPrice != nil && *next.MaxPrice >= *seg.MaxPrice {
				t.Fatalf("step %d: bound did not shrink: %d -> %d", i, *seg.MaxPrice, *next.MaxPrice)
			}
			seg = next
		}
		if _, ok := seg.Next(nil); ok {
			t.Fatal("expected termination once coverage is complete")
		}
	})
}

func TestSegmentString(t *testing.T) {
	seg := Segment{
		LocationSlug: "cascais",
		Operation:    models.OperationBuy,
		PropertyType: "casas",
		MaxPrice:     intp(450000),
	}
	want := "cascais/comprar/casas [0€ - 450000€]"
	if got := seg.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func intp(v int) *int { return &v }
