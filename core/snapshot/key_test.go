package snapshot

import "testing"

func TestKeyHasPrefix(t *testing.T) {
	cases := []struct {
		key, prefix Key
		want        bool
	}{
		{K("orders", "A"), K("orders"), true},
		{K("orders", "A"), K("orders", "A"), true},
		{K("orders", "A"), K(), true},
		{K("orders", "A"), K("orders", "B"), false},
		{K("orders", "AB"), K("orders", "A"), false},
		{K("orders"), K("orders", "A"), false},
		{K("users", "u1", "orders"), K("orders"), false},
	}
	for _, c := range cases {
		if got := c.key.HasPrefix(c.prefix); got != c.want {
			t.Errorf("%s.HasPrefix(%s) = %v, want %v", c.key, c.prefix, got, c.want)
		}
	}
}

func TestKeyAppendDoesNotAlias(t *testing.T) {
	base := make(Key, 1, 4)
	base[0] = "routes"
	a := base.Append("d1")
	b := base.Append("d2")
	if a[1] != "d1" || b[1] != "d2" {
		t.Fatalf("append aliased: %v %v", a, b)
	}
	if !a.Equal(K("routes", "d1")) || a.Equal(b) {
		t.Fatalf("unexpected equality")
	}
	if K().Resource() != "" || a.Resource() != "routes" {
		t.Fatalf("unexpected resource")
	}
}
