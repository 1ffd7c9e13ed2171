package utils

import "testing"

func TestParseEvery(t *testing.T) {
	tests := []struct {
		in        string
		wantValue float64
		wantUnit  string
		wantErr   bool
	}{
		{"5m", 5, "m", false},
		{"1.5 hours", 1.5, "hours", false},
		{" 90s ", 90, "s", false},
		{"2 Days", 2, "Days", false},
		{"0m", 0, "", true},
		{"m", 0, "", true},
		{"5", 0, "", true},
		{"-5m", 0, "", true},
		{"five minutes", 0, "", true},
		{"", 0, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			value, unit, err := ParseEvery(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEvery(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if value != tt.wantValue || unit != tt.wantUnit {
				t.Errorf("ParseEvery(%q) = %v %q, want %v %q", tt.in, value, unit, tt.wantValue, tt.wantUnit)
			}
		})
	}
}

func TestParseEveryErrorHasSuggestion(t *testing.T) {
	_, _, err := ParseEvery("soon")
	e, ok := err.(*ErrorWithSuggestion)
	if !ok {
		t.Fatalf("error type = %T, want *ErrorWithSuggestion", err)
	}
	if e.GetSuggestion() == "" {
		t.Error("missing suggestion")
	}
}
