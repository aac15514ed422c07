package bytesize

import "testing"

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in   string
		want ByteSize
	}{
		// The forms config files actually use.
		{"10Gi", 10 * GiB},
		{"256Mi", 256 * MiB},
		{"5GiB", 5 * GiB},
		{"100MB", 100 * MB},
		{"50KB", 50 * KB},
		{"1Ti", TiB},
		{"4096", 4096},
		{"0", 0},
		{"512B", 512},
		// Case and whitespace are forgiven.
		{"1gib", GiB},
		{"  2 Mi  ", 2 * MiB},
		{"1.5Gi", ByteSize(1.5 * float64(GiB))},
	}
	for _, c := range cases {
		got, err := ParseByteSize(c.in)
		if err != nil {
			t.Errorf("ParseByteSize(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseByteSizeRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "   ", "lots", "12Q", "-5", "Gi", "1..5Gi"} {
		if _, err := ParseByteSize(in); err == nil {
			t.Errorf("ParseByteSize(%q) accepted", in)
		}
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	if err := b.UnmarshalText([]byte("64Mi")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if b != 64*MiB {
		t.Fatalf("got %d, want %d", b, 64*MiB)
	}
	if err := b.UnmarshalText([]byte("nope")); err == nil {
		t.Fatal("bad value accepted")
	}
}

func TestString(t *testing.T) {
	cases := []struct {
		in   ByteSize
		want string
	}{
		{512, "512B"},
		{2 * KiB, "2.00KiB"},
		{10 * GiB, "10.00GiB"},
		{3 * TiB, "3.00TiB"},
	}
	for _, c := range cases {
		if got := c.in.String(); got != c.want {
			t.Errorf("(%d).String() = %q, want %q", uint64(c.in), got, c.want)
		}
	}
}
