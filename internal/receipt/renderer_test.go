package receipt

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, 10, 18, 12, 30, 0, 0, time.UTC)

func newTestRenderer() *Renderer {
	return NewRenderer(Options{
		Store: Store{
			Name:          "Lanchonete Central",
			AddressLines:  []string{"Av. Brasil, 100 - Centro"},
			Phone:         "(11) 5555-0000",
			Document:      "12.345.678/0001-90",
			FooterMessage: "Obrigado pela preferencia!",
		},
		Location: time.UTC,
		Now:      func() time.Time { return fixedNow },
	})
}

func deliveryOrder() Order {
	return Order{
		Code:         "1042",
		CreatedAt:    fixedNow.Add(-5 * time.Minute),
		DeliveryType: DeliveryTypeDelivery,
		Customer:     Customer{Name: "Maria Souza", Phone: "(11) 99999-0000"},
		Address: &Address{
			Street:       "Rua A",
			Number:       "10",
			Complement:   "apto 3",
			Neighborhood: "Vila Nova",
			City:         "Campinas",
			Reference:    "perto da padaria",
		},
		Items: []Item{
			{Quantity: 2, Name: "X-Burger", Price: 20, Observation: "sem cebola",
				Addons: []Addon{{Quantity: 1, Name: "Bacon", Price: 5}}},
			{Quantity: 1, Name: "Refrigerante lata", Price: 6},
		},
		DeliveryFee:   7,
		PaymentMethod: "cash",
		ChangeFor:     100,
		Note:          "Tocar a campainha",
	}
}

func mustRender(t *testing.T, r *Renderer, tmpl string, o Order, cut bool) []byte {
	t.Helper()
	out, err := r.Render(tmpl, o, cut)
	if err != nil {
		t.Fatalf("Render(%s) error: %v", tmpl, err)
	}
	return out
}

func assertContains(t *testing.T, out []byte, fragments ...string) {
	t.Helper()
	for _, f := range fragments {
		if !bytes.Contains(out, []byte(f)) {
			t.Errorf("output does not contain %q", f)
		}
	}
}

var fullCut = []byte{0x0a, 0x0a, 0x0a, 0x0a, 0x1d, 0x56, 0x00}

func TestKitchenTemplate(t *testing.T) {
	t.Parallel()

	out := mustRender(t, newTestRenderer(), "kitchen", deliveryOrder(), true)

	if !bytes.HasPrefix(out, []byte{0x1b, 0x40, 0x1b, 0x74, 2}) {
		t.Errorf("stream does not start with initialize: % x", out[:5])
	}
	if !bytes.HasSuffix(out, fullCut) {
		t.Errorf("stream does not end with a full cut")
	}
	assertContains(t, out,
		"COZINHA",
		"PEDIDO #1042",
		"\x1dB\x01\x1bE\x01 ENTREGA ",
		"2x X-Burger",
		"   + 1x Bacon",
		"   OBS: sem cebola",
		"Tocar a campainha",
		"Impresso em 18/10/2026 12:30",
	)
	if bytes.Contains(out, []byte("R$")) {
		t.Errorf("kitchen ticket should not print prices")
	}
}

func TestCashierDelivery(t *testing.T) {
	t.Parallel()

	out := mustRender(t, newTestRenderer(), "cashier", deliveryOrder(), true)

	assertContains(t, out,
		"Lanchonete Central",
		"Tel: (11) 5555-0000",
		"CNPJ: 12.345.678/0001-90",
		"PEDIDO #1042",
		"18/10/2026 12:25",
		"Cliente: Maria Souza",
		"Rua A, 10 - apto 3",
		"Vila Nova - Campinas",
		"Ref.: perto da padaria",
		"   + 1x Bacon (R$ 5,00)",
		"Taxa de entrega",
		"R$ 63,00",
		"Troco para",
		"R$ 37,00",
		"Obrigado pela preferencia!",
	)

	line := "2x X-Burger" + strings.Repeat(" ", 48-len("2x X-Burger")-len("R$ 50,00")) + "R$ 50,00\n"
	assertContains(t, out, line)

	if bytes.Contains(out, []byte(" RETIRADA ")) {
		t.Errorf("delivery receipt printed the pickup banner")
	}
	if !bytes.HasSuffix(out, fullCut) {
		t.Errorf("stream does not end with a full cut")
	}
}

func TestCashierPickupBanner(t *testing.T) {
	t.Parallel()

	o := deliveryOrder()
	o.DeliveryType = "balcao"
	o.Address = nil
	out := mustRender(t, newTestRenderer(), "cashier", o, true)

	assertContains(t, out, "\x1dB\x01\x1bE\x01 RETIRADA ")
	if !bytes.Contains(out, []byte("Taxa")) {
		t.Errorf("delivery fee line missing")
	}
}

func TestCashierDineIn(t *testing.T) {
	t.Parallel()

	o := deliveryOrder()
	o.DeliveryType = DeliveryTypeDineIn
	o.Table = "7"
	o.DeliveryFee = 0
	out := mustRender(t, newTestRenderer(), "cashier", o, false)

	assertContains(t, out, " MESA 7 ")
	if bytes.Contains(out, []byte("Taxa de entrega")) {
		t.Errorf("zero delivery fee should be omitted")
	}
}

func TestRenderWithoutCut(t *testing.T) {
	t.Parallel()

	for _, tmpl := range []string{"kitchen", "cashier"} {
		out := mustRender(t, newTestRenderer(), tmpl, deliveryOrder(), false)
		if bytes.Contains(out, []byte{0x1d, 0x56}) {
			t.Errorf("%s: cut command present with cut=false", tmpl)
		}
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	t.Parallel()

	if _, err := newTestRenderer().Render("label", deliveryOrder(), true); err == nil {
		t.Fatal("expected an error for an unknown template")
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	t.Parallel()

	r := newTestRenderer()
	a := mustRender(t, r, "cashier", deliveryOrder(), true)
	b := mustRender(t, r, "cashier", deliveryOrder(), true)
	if !bytes.Equal(a, b) {
		t.Error("rendering the same order twice produced different bytes")
	}
}

func TestAccentsUseCodePage(t *testing.T) {
	t.Parallel()

	o := deliveryOrder()
	o.Note = "não"
	out := mustRender(t, newTestRenderer(), "kitchen", o, false)
	// "não" in CP850.
	assertContains(t, out, "n\xc6o\n")
}

func TestSampleOrderRenders(t *testing.T) {
	t.Parallel()

	o := SampleOrder(fixedNow)
	if err := o.Validate(); err != nil {
		t.Fatalf("sample order invalid: %v", err)
	}
	out := mustRender(t, newTestRenderer(), "cashier", o, true)
	assertContains(t, out, "PEDIDO #TESTE", "PIX", " RETIRADA ")
}

func TestFormatMoney(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float64
		want string
	}{
		{0, "R$ 0,00"},
		{5, "R$ 5,00"},
		{9.9, "R$ 9,90"},
		{0.05, "R$ 0,05"},
		{1234.56, "R$ 1.234,56"},
		{1234567.891, "R$ 1.234.567,89"},
		{-5, "-R$ 5,00"},
		{-0.001, "R$ 0,00"},
	}
	for _, tt := range tests {
		if got := FormatMoney(tt.in); got != tt.want {
			t.Errorf("FormatMoney(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTotals(t *testing.T) {
	t.Parallel()

	o := deliveryOrder()
	sub, total := o.Totals()
	if sub != 56 || total != 63 {
		t.Errorf("Totals() = %v, %v, want 56, 63", sub, total)
	}

	o.Subtotal, o.Total, o.Discount = 50, 0, 10
	sub, total = o.Totals()
	if sub != 50 || total != 47 {
		t.Errorf("Totals() = %v, %v, want 50, 47", sub, total)
	}

	o.Total = 99
	if _, total = o.Totals(); total != 99 {
		t.Errorf("explicit total overwritten: %v", total)
	}
}

func TestOrderValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(o *Order)
		wantErr bool
	}{
		{"valid", func(o *Order) {}, false},
		{"no items", func(o *Order) { o.Items = nil }, true},
		{"zero quantity", func(o *Order) { o.Items[0].Quantity = 0 }, true},
		{"blank name", func(o *Order) { o.Items[1].Name = "  " }, true},
		{"negative price", func(o *Order) { o.Items[1].Price = -1 }, true},
		{"negative fee", func(o *Order) { o.DeliveryFee = -2 }, true},
		{"addon without name", func(o *Order) { o.Items[0].Addons[0].Name = "" }, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			o := deliveryOrder()
			tt.mutate(&o)
			err := o.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidOrder) {
				t.Errorf("error %v does not wrap ErrInvalidOrder", err)
			}
		})
	}
}
