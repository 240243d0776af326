package codec

import "testing"

func TestSerializeDeserializeFixed(t *testing.T) {
	cases := []Value{
		{Type: Int, I32: -42},
		{Type: UInt, U32: 42},
		{Type: Int64, I64: 1 << 40},
		{Type: Double, F64: 3.14159},
		{Type: Decimal, Dec: DecimalValue{Unscaled: 12345, Scale: 2}},
		{Type: ObjectID, Obj: ObjectIDValue{PageID: 7, AreaID: 3}},
	}

	for _, v := range cases {
		size, err := SizeOf(v)
		if err != nil {
			t.Fatalf("SizeOf(%v): %v", v.Type, err)
		}
		buf := make([]byte, size)
		n, err := Serialize(buf, v)
		if err != nil {
			t.Fatalf("Serialize(%v): %v", v.Type, err)
		}
		if n != size {
			t.Fatalf("Serialize(%v) wrote %d bytes, want %d", v.Type, n, size)
		}
		got, consumed, err := Deserialize(buf, v.Type)
		if err != nil {
			t.Fatalf("Deserialize(%v): %v", v.Type, err)
		}
		if consumed != size {
			t.Fatalf("Deserialize(%v) consumed %d bytes, want %d", v.Type, consumed, size)
		}
		if CompareValues(v, got) != 0 {
			t.Fatalf("round trip mismatch for %v: got %+v", v.Type, got)
		}
	}
}

func TestVariableLengthRoundTrip(t *testing.T) {
	v := Value{Type: CharString, Str: "hello"}
	size, err := SizeOf(v)
	if err != nil {
		t.Fatal(err)
	}
	if size != 2+len("hello") {
		t.Fatalf("SizeOf = %d, want %d", size, 2+len("hello"))
	}
	buf := make([]byte, size)
	if _, err := Serialize(buf, v); err != nil {
		t.Fatal(err)
	}
	sz, err := SizeAt(buf, CharString)
	if err != nil {
		t.Fatal(err)
	}
	if sz != size {
		t.Fatalf("SizeAt = %d, want %d", sz, size)
	}
	got, _, err := Deserialize(buf, CharString)
	if err != nil {
		t.Fatal(err)
	}
	if got.Str != "hello" {
		t.Fatalf("got %q, want %q", got.Str, "hello")
	}
}

func TestCompareOrdering(t *testing.T) {
	a := Value{Type: UInt, U32: 1}
	b := Value{Type: UInt, U32: 2}
	if CompareValues(a, b) >= 0 {
		t.Fatal("expected a < b")
	}
	if CompareValues(b, a) <= 0 {
		t.Fatal("expected b > a")
	}
	if CompareValues(a, a) != 0 {
		t.Fatal("expected a == a")
	}
}

func TestCompareEntriesComposite(t *testing.T) {
	c := NewCompare([]Type{UInt, CharString}, true)

	encode := func(n uint32, s string) []byte {
		vals := []Value{{Type: UInt, U32: n}, {Type: CharString, Str: s}}
		var buf []byte
		for _, v := range vals {
			sz, _ := SizeOf(v)
			b := make([]byte, sz)
			Serialize(b, v)
			buf = append(buf, b...)
		}
		return buf
	}

	a := encode(1, "apple")
	b := encode(1, "banana")
	r, err := c.CompareEntries(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if r >= 0 {
		t.Fatalf("expected a < b, got %d", r)
	}

	same := encode(1, "apple")
	r, err = c.CompareEntries(a, same)
	if err != nil {
		t.Fatal(err)
	}
	if r != 0 {
		t.Fatalf("expected equal, got %d", r)
	}
}

func TestLikeMatch(t *testing.T) {
	pattern := Value{Type: CharString, Str: "a%c_"}
	yes := Value{Type: CharString, Str: "abcXc9"}
	no := Value{Type: CharString, Str: "xyz"}

	ok, err := Like(pattern, yes, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("expected %q to match %q", yes.Str, pattern.Str)
	}

	ok, err = Like(pattern, no, 0)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("did not expect %q to match %q", no.Str, pattern.Str)
	}
}
