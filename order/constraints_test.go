package order

import "testing"

func TestConstraintsValidate(t *testing.T) {
	c := Constraints{
		MaxPrice: 1_000_000,
		SizeStep: 10,
		MinSize:  10,
		MaxSize:  1000,
	}
	if err := c.Validate(10001, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Validate(0, 100); err == nil {
		t.Fatalf("expected zero price error")
	}
	if err := c.Validate(1_000_001, 100); err == nil {
		t.Fatalf("expected max price error")
	}
	if err := c.Validate(10001, 15); err == nil {
		t.Fatalf("expected step error")
	}
	if err := c.Validate(10001, 0); err == nil {
		t.Fatalf("expected zero size error")
	}
	if err := c.Validate(10001, 1010); err == nil {
		t.Fatalf("expected max size error")
	}
	if err := (Constraints{}).Validate(1, 1); err != nil {
		t.Fatalf("zero constraints should accept anything positive: %v", err)
	}
}
