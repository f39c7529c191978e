package proto

import (
	"strings"
	"testing"
)

func TestValidLogin(t *testing.T) {
	tests := []struct {
		name  string
		login string
		want  bool
	}{
		{"empty", "", false},
		{"single char", "a", true},
		{"plain", "maxim", true},
		{"email shaped", "m@x.ru", true},
		{"space", "ma xim", false},
		{"tab", "ma\txim", false},
		{"ampersand", "a&b", false},
		{"equals", "a=b", false},
		{"control", "a\x01b", false},
		{"too long", strings.Repeat("a", MaxLoginLength+1), false},
		{"max length", strings.Repeat("a", MaxLoginLength), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidLogin(tt.login); got != tt.want {
				t.Errorf("ValidLogin(%q) = %v, want %v", tt.login, got, tt.want)
			}
		})
	}
}

func TestValidEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
		want  bool
	}{
		{"empty", "", false},
		{"plain", "m@x.ru", true},
		{"subdomain", "a@mail.example.com", true},
		{"no at", "mx.ru", false},
		{"no local", "@x.ru", false},
		{"no domain", "m@", false},
		{"no dot", "m@xru", false},
		{"dot first", "m@.ru", false},
		{"dot last", "m@x.", false},
		{"two ats", "m@@x.ru", false},
		{"space", "m @x.ru", false},
		{"ampersand", "m&a@x.ru", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidEmail(tt.email); got != tt.want {
				t.Errorf("ValidEmail(%q) = %v, want %v", tt.email, got, tt.want)
			}
		})
	}
}
