package raknet

import "testing"

func TestSeq24Circular(t *testing.T) {
	cases := []struct {
		a, b Seq24
	}{
		{0, 1},
		{NewSeq24(seq24Mask), 0},
		{100, 200},
		{NewSeq24(seq24Mask - 5), NewSeq24(3)},
	}
	for _, c := range cases {
		lt := c.a.Less(c.b)
		gt := c.a.Greater(c.b)
		eq := c.a == c.b
		count := 0
		if lt {
			count++
		}
		if gt {
			count++
		}
		if eq {
			count++
		}
		if count != 1 {
			t.Fatalf("a=%v b=%v: expected exactly one of lt/gt/eq, got lt=%v gt=%v eq=%v", c.a, c.b, lt, gt, eq)
		}
	}
}

func TestSeq24Wraparound(t *testing.T) {
	max := NewSeq24(seq24Mask)
	if !max.Less(max.Next()) {
		t.Fatalf("expected wraparound 2^24-1 -> 0 to compare as less")
	}
	if max.Next() != 0 {
		t.Fatalf("expected wraparound to 0, got %v", max.Next())
	}
}

func TestSeq24Distance(t *testing.T) {
	a, b := NewSeq24(10), NewSeq24(15)
	if a.Distance(b) != 5 {
		t.Fatalf("expected distance 5, got %d", a.Distance(b))
	}
}
