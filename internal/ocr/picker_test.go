package ocr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPickPrice(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   float64
		wantOK bool
	}{
		{name: "was and now", text: "de R$ 199,90 por R$ 149,90", want: 149.90, wantOK: true},
		{name: "now before was", text: "POR R$ 149,90\nDE R$ 199,90", want: 149.90, wantOK: true},
		{name: "single amount", text: "Oferta imperdível R$ 89,99 no pix", want: 89.99, wantOK: true},
		{name: "thousands", text: "de R$ 2.499,00 por R$ 1.999,00", want: 1999.00, wantOK: true},
		{name: "ambiguous picks smallest", text: "R$ 59,90 R$ 79,90", want: 59.90, wantOK: true},
		{name: "uncued beats was", text: "antes R$ 20,00 R$ 35,00", want: 35.00, wantOK: true},
		{name: "only was", text: "era R$ 120,00", want: 120.00, wantOK: true},
		{name: "ocr spacing", text: "apenas R $ 1 299,90", want: 1299.90, wantOK: true},
		{name: "no currency", text: "Fone Bluetooth 5.0 com 40h de bateria", wantOK: false},
		{name: "out of range dropped", text: "R$ 0,00", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PickPrice(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.InDelta(t, tt.want, got, 0.001)
			}
		})
	}
}

func TestPickPrice_SeparatorShapes(t *testing.T) {
	got, ok := PickPrice("por R$ 1999,00")
	assert.True(t, ok)
	assert.InDelta(t, 1999.00, got, 0.001)

	got, ok = PickPrice("por R$ 49.90")
	assert.True(t, ok)
	assert.InDelta(t, 49.90, got, 0.001)
}
