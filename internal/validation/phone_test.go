package validation

import "testing"

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		want  string
		valid bool
	}{
		{
			name:  "local with leading zero",
			raw:   "0901234567",
			want:  "+84901234567",
			valid: true,
		},
		{
			name:  "already canonical",
			raw:   "+84901234567",
			want:  "+84901234567",
			valid: true,
		},
		{
			name:  "country code without plus",
			raw:   "84901234567",
			want:  "+84901234567",
			valid: true,
		},
		{
			name:  "spaces and dashes",
			raw:   " 090-123 4567 ",
			want:  "+84901234567",
			valid: true,
		},
		{
			name:  "bare national number",
			raw:   "901234567",
			want:  "+84901234567",
			valid: true,
		},
		{
			name:  "foreign country code",
			raw:   "+14155550100",
			valid: false,
		},
		{
			name:  "letters",
			raw:   "09012abc67",
			valid: false,
		},
		{
			name:  "too short",
			raw:   "0901",
			valid: false,
		},
		{
			name:  "empty string",
			raw:   "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizePhone(tt.raw)
			if ok != tt.valid {
				t.Fatalf("NormalizePhone(%q) valid = %v, want %v", tt.raw, ok, tt.valid)
			}
			if ok && got != tt.want {
				t.Fatalf("NormalizePhone(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
