package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{name: "nil stays nil", input: nil, want: nil},
		{name: "empty stays empty", input: []string{}, want: []string{}},
		{
			name:  "trims each element",
			input: []string{"  kafka-1:9092  ", "kafka-2:9092 "},
			want:  []string{"kafka-1:9092", "kafka-2:9092"},
		},
		{
			name:  "drops empties and repeats, keeps first-seen order",
			input: []string{" a ", "", "b", "a", "  ", "b"},
			want:  []string{"a", "b"},
		},
		{
			name:  "case is significant",
			input: []string{"Enrich", "enrich"},
			want:  []string{"Enrich", "enrich"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeAndTrim(tt.input))
		})
	}
}

func TestDedupeAndTrimLower(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{name: "nil stays nil", input: nil, want: nil},
		{
			name:  "folds case before deduplicating",
			input: []string{"Enrich", "enrich", "ENRICH"},
			want:  []string{"enrich"},
		},
		{
			name:  "trims and folds together",
			input: []string{"  ADMIN ", "enrich", "Admin"},
			want:  []string{"admin", "enrich"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeAndTrimLower(tt.input))
		})
	}
}
