package phone

import "testing"

func TestNormalizeE164(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"06 12 34 56 78", "+33612345678", true},
		{"+33 6 12 34 56 78", "+33612345678", true},
		{"  ", "", true},
		{"12", "", false},
		{"not a number", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeE164(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("NormalizeE164(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
