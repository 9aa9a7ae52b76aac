// Package receipt turns an Order into ESC/POS bytes using one of the fixed
// receipt layouts.
package receipt

import (
	"fmt"
	"strings"
	"time"

	"github.com/orrn/receiptd/internal/escpos"
)

type Template string

const (
	TemplateKitchen Template = "kitchen"
	TemplateCashier Template = "cashier"
)

func (t Template) Valid() bool {
	return t == TemplateKitchen || t == TemplateCashier
}

// Store is the header and footer printed on cashier receipts.
type Store struct {
	Name          string
	AddressLines  []string
	Phone         string
	Document      string
	FooterMessage string
}

type Options struct {
	Store    Store
	CodePage string
	Location *time.Location
	Now      func() time.Time
}

type Renderer struct {
	store    Store
	codePage string
	loc      *time.Location
	now      func() time.Time
}

func NewRenderer(opts Options) *Renderer {
	r := &Renderer{
		store:    opts.Store,
		codePage: opts.CodePage,
		loc:      opts.Location,
		now:      opts.Now,
	}
	if r.codePage == "" {
		r.codePage = escpos.DefaultCodePage
	}
	if r.loc == nil {
		r.loc = time.Local
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Render encodes order with the named template. The stream ends with a full
// cut unless cut is false.
func (r *Renderer) Render(template string, order Order, cut bool) ([]byte, error) {
	e := escpos.NewEncoder(escpos.WithCodePage(r.codePage))
	e.Initialize()

	switch Template(template) {
	case TemplateKitchen:
		r.kitchen(e, order)
	case TemplateCashier:
		r.cashier(e, order)
	default:
		return nil, fmt.Errorf("unknown template %q", template)
	}

	if cut {
		e.Cut(false)
	}
	return e.Build(), nil
}

func (r *Renderer) kitchen(e *escpos.Encoder, o Order) {
	e.Align(escpos.AlignCenter).
		SetBold(true).
		SetTextSize(2, 2).
		Text("COZINHA").
		SetTextSize(1, 1).
		SetBold(false).
		DoubleSeparator()

	e.SetTextSize(2, 2).
		SetBold(true).
		WrapText("PEDIDO #"+o.Code, 0).
		SetBold(false).
		SetTextSize(1, 1)

	e.SetInverse(true).
		SetBold(true).
		Text(" " + deliveryTag(o) + " ").
		SetBold(false).
		SetInverse(false)

	e.Align(escpos.AlignLeft).Separator('-')

	for _, item := range o.Items {
		e.SetBold(true).
			SetTextSize(1, 2).
			WrapText(fmt.Sprintf("%dx %s", item.Quantity, item.Name), 0).
			SetTextSize(1, 1).
			SetBold(false)
		for _, a := range item.Addons {
			indented(e, "   + ", fmt.Sprintf("%dx %s", addonQuantity(a), a.Name))
		}
		if obs := strings.TrimSpace(item.Observation); obs != "" {
			indented(e, "   OBS: ", obs)
		}
	}
	e.Separator('-')

	if note := strings.TrimSpace(o.Note); note != "" {
		e.SetBold(true).Text("OBSERVAÇÕES DO PEDIDO").SetBold(false)
		e.WrapText(note, 0)
		e.Separator('-')
	}

	e.Align(escpos.AlignCenter).
		Text("Impresso em " + FormatTime(r.now(), r.loc)).
		Align(escpos.AlignLeft)
}

func (r *Renderer) cashier(e *escpos.Encoder, o Order) {
	e.Align(escpos.AlignCenter)
	if r.store.Name != "" {
		e.SetBold(true).SetTextSize(1, 2).WrapText(r.store.Name, 0).SetTextSize(1, 1).SetBold(false)
	}
	for _, line := range r.store.AddressLines {
		e.WrapText(line, 0)
	}
	if r.store.Phone != "" {
		e.Text("Tel: " + r.store.Phone)
	}
	if r.store.Document != "" {
		e.Text("CNPJ: " + r.store.Document)
	}
	e.DoubleSeparator()

	created := o.CreatedAt
	if created.IsZero() {
		created = r.now()
	}
	e.SetBold(true).
		SetTextSize(2, 2).
		WrapText("PEDIDO #"+o.Code, 0).
		SetTextSize(1, 1).
		SetBold(false).
		Text(FormatTime(created, r.loc)).
		Align(escpos.AlignLeft).
		Separator('-')

	if o.Customer.Name != "" {
		e.WrapText("Cliente: "+o.Customer.Name, 0)
	}
	if o.Customer.Phone != "" {
		e.Text("Telefone: " + o.Customer.Phone)
	}

	switch o.Kind() {
	case DeliveryTypeDelivery:
		e.SetBold(true).Text("ENDEREÇO DE ENTREGA").SetBold(false)
		for _, line := range addressLines(o.Address) {
			e.WrapText(line, 0)
		}
	default:
		e.Align(escpos.AlignCenter).
			SetInverse(true).
			SetBold(true).
			Text(" " + deliveryTag(o) + " ").
			SetBold(false).
			SetInverse(false).
			Align(escpos.AlignLeft)
	}
	e.Separator('-')

	for _, item := range o.Items {
		e.Columns(fmt.Sprintf("%dx %s", item.Quantity, item.Name), FormatMoney(item.LineTotal()), ' ')
		for _, a := range item.Addons {
			indented(e, "   + ", fmt.Sprintf("%dx %s (%s)", addonQuantity(a), a.Name, FormatMoney(a.Price)))
		}
		if obs := strings.TrimSpace(item.Observation); obs != "" {
			indented(e, "   Obs: ", obs)
		}
	}
	e.Separator('-')

	subtotal, total := o.Totals()
	e.Columns("Subtotal", FormatMoney(subtotal), ' ')
	if o.DeliveryFee > 0 {
		e.Columns("Taxa de entrega", FormatMoney(o.DeliveryFee), ' ')
	}
	if o.Discount > 0 {
		e.Columns("Desconto", "-"+FormatMoney(o.Discount), ' ')
	}
	e.SetBold(true).
		SetTextSize(2, 2).
		Columns("TOTAL", FormatMoney(total), ' ').
		SetTextSize(1, 1).
		SetBold(false).
		Separator('-')

	e.Columns("Pagamento", paymentLabel(o.PaymentMethod), ' ')
	if o.PaysCash() && o.ChangeFor > 0 {
		e.Columns("Troco para", FormatMoney(o.ChangeFor), ' ')
		if change := o.ChangeFor - total; change > 0 {
			e.SetBold(true).Columns("Troco", FormatMoney(change), ' ').SetBold(false)
		}
	}

	if note := strings.TrimSpace(o.Note); note != "" {
		e.Separator('-')
		e.SetBold(true).Text("Observações").SetBold(false)
		e.WrapText(note, 0)
	}

	footer := o.FooterMessage
	if footer == "" {
		footer = r.store.FooterMessage
	}
	if footer != "" {
		e.NewLine(1).Align(escpos.AlignCenter).WrapText(footer, 0).Align(escpos.AlignLeft)
	}
}

// indented wraps text so that every line starts under the first character
// after prefix.
func indented(e *escpos.Encoder, prefix, text string) {
	pad := strings.Repeat(" ", len([]rune(prefix)))
	for i, line := range escpos.Wrap(text, escpos.Columns-len([]rune(prefix))) {
		if i == 0 {
			e.Text(prefix + line)
			continue
		}
		e.Text(pad + line)
	}
}
