package facematch

import "testing"

func TestRemoveDiacritics(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Ana", "Ana"},
		{"João", "Joao"},
		{"Conceição", "Conceicao"},
		{"naïve", "naive"},
		{"hello", "hello"},
		{"Ângela Mônica", "Angela Monica"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := RemoveDiacritics(tt.input)
			if result != tt.expected {
				t.Errorf("RemoveDiacritics(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNormalizeIdentityName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Maria Conceição", "maria conceicao"},
		{"maria-conceicao", "maria conceicao"},
		{"maria_conceicao", "maria conceicao"},
		{"JOHN DOE", "john doe"},
		{"  joão   silva ", "joao silva"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := NormalizeIdentityName(tt.input)
			if result != tt.expected {
				t.Errorf("NormalizeIdentityName(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
