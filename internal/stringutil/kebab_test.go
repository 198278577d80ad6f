package stringutil

import "testing"

func TestKebab(t *testing.T) {
	tests := map[string]string{
		"getUserById":   "get-user-by-id",
		"List Users":    "list-users",
		"already-kebab": "already-kebab",
		"Users":         "users",
		"":              "",
		"CreateUserV2":  "create-user-v2",
	}
	for in, want := range tests {
		if got := Kebab(in); got != want {
			t.Errorf("Kebab(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestKebabTagEmptyIsDefault(t *testing.T) {
	if got := KebabTag(""); got != "default" {
		t.Errorf("KebabTag(\"\") = %q, want default", got)
	}
}
