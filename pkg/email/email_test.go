package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitName(t *testing.T) {
	tests := []struct {
		addr   string
		given  string
		family string
	}{
		{"ada.lovelace@acme.dev", "Ada", "Lovelace"},
		{"ada@acme.dev", "Ada", ""},
		{"ada_lovelace@acme.dev", "Ada", "Lovelace"},
		{"ada-b-lovelace@acme.dev", "Ada", "Lovelace"},
		{"ada+crm@acme.dev", "Ada", "Crm"},
		{"ada.lovelace", "Ada", "Lovelace"},
		{"@acme.dev", "", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			given, family := SplitName(tt.addr)
			assert.Equal(t, tt.given, given)
			assert.Equal(t, tt.family, family)
		})
	}
}
