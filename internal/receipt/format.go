package receipt

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const timeLayout = "02/01/2006 15:04"

// FormatMoney renders v as Brazilian reais, e.g. "R$ 1.234,56".
func FormatMoney(v float64) string {
	cents := int64(math.Round(math.Abs(v) * 100))
	whole := strconv.FormatInt(cents/100, 10)

	var b strings.Builder
	if v < 0 && cents > 0 {
		b.WriteByte('-')
	}
	b.WriteString("R$ ")
	for i, d := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(d)
	}
	frac := cents % 100
	b.WriteByte(',')
	if frac < 10 {
		b.WriteByte('0')
	}
	b.WriteString(strconv.FormatInt(frac, 10))
	return b.String()
}

func FormatTime(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(timeLayout)
}

func paymentLabel(method string) string {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "":
		return "Não informado"
	case "cash", "dinheiro":
		return "Dinheiro"
	case "credit_card", "credit":
		return "Cartão de crédito"
	case "debit_card", "debit":
		return "Cartão de débito"
	case "pix":
		return "PIX"
	default:
		return method
	}
}

func deliveryTag(o Order) string {
	switch o.Kind() {
	case DeliveryTypeDelivery:
		return "ENTREGA"
	case DeliveryTypeDineIn:
		if o.Table != "" {
			return "MESA " + o.Table
		}
		return "CONSUMO NO LOCAL"
	default:
		return "RETIRADA"
	}
}

func addressLines(a *Address) []string {
	if a == nil {
		return nil
	}
	var lines []string
	street := joinNonEmpty(", ", a.Street, a.Number)
	if a.Complement != "" {
		street = joinNonEmpty(" - ", street, a.Complement)
	}
	if street != "" {
		lines = append(lines, street)
	}
	if l := joinNonEmpty(" - ", a.Neighborhood, a.City); l != "" {
		lines = append(lines, l)
	}
	if a.Reference != "" {
		lines = append(lines, "Ref.: "+a.Reference)
	}
	return lines
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
