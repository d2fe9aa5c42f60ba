package textutil

import "testing"

func TestSanitizeFileName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"My Song: Remix", "My Song- Remix"},
		{"a/b\\c", "a-b-c"},
		{`what?"<>|`, "what"},
		{"  spaced  ", "spaced"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := SanitizeFileName(tc.in); got != tc.want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeToken(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Chat#4821", "chat_4821"},
		{"user@example.com", "user_example_com"},
		{"___", "unknown"},
		{"", "unknown"},
		{"plain-token", "plain-token"},
	}
	for _, tc := range cases {
		if got := SanitizeToken(tc.in); got != tc.want {
			t.Errorf("SanitizeToken(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
