package textutil

import "testing"

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"  Grace Abounds  ", "Grace Abounds"},
		{`What "is" truth?`, "What is truth"},
		{"John 3:16 / Part 1", "John 3-16 - Part 1"},
		{"tab\tand\nnewline", "tabandnewline"},
	}
	for _, tt := range tests {
		if got := SanitizeFileName(tt.in); got != tt.want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFoldASCII(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Über Gnade", "Uber Gnade"},
		{"Café crème", "Cafe creme"},
		{"plain", "plain"},
		{"日本", ""},
	}
	for _, tt := range tests {
		if got := FoldASCII(tt.in); got != tt.want {
			t.Errorf("FoldASCII(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestContentDisposition(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"", `inline; filename="untitled.mp3"`},
		{"   ", `inline; filename="untitled.mp3"`},
		{"Grace Abounds", `inline; filename="Grace Abounds.mp3"`},
		{`The "Good" Shepherd`, `inline; filename="The Good Shepherd.mp3"`},
		{"Über Gnade", `inline; filename="Uber Gnade.mp3"; filename*=UTF-8''%C3%9Cber%20Gnade.mp3`},
		{"日本", `inline; filename="untitled.mp3"; filename*=UTF-8''%E6%97%A5%E6%9C%AC.mp3`},
	}
	for _, tt := range tests {
		if got := ContentDisposition(tt.title); got != tt.want {
			t.Errorf("ContentDisposition(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}
