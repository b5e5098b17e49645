package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampPage_LimitesDePagina(t *testing.T) {
	tests := []struct {
		name                  string
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{"sin límite usa el default", 0, 0, 50, 0},
		{"límite negativo usa el default", -5, 10, 50, 10},
		{"límite válido se respeta", 120, 40, 120, 40},
		{"límite en el máximo", 200, 0, 200, 0},
		{"límite sobre el máximo se recorta", 500, 0, 200, 0},
		{"offset negativo pasa a cero", 10, -3, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, offset := clampPage(tt.limit, tt.offset)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}
