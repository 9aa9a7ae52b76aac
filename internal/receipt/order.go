package receipt

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type DeliveryType string

const (
	DeliveryTypeDelivery DeliveryType = "delivery"
	DeliveryTypePickup   DeliveryType = "pickup"
	DeliveryTypeDineIn   DeliveryType = "dine_in"
)

// Order is the document both templates render. Money values are in reais.
type Order struct {
	Code          string       `json:"code"`
	CreatedAt     time.Time    `json:"createdAt,omitempty"`
	DeliveryType  DeliveryType `json:"deliveryType,omitempty"`
	Table         string       `json:"table,omitempty"`
	Customer      Customer     `json:"customer"`
	Address       *Address     `json:"address,omitempty"`
	Items         []Item       `json:"items"`
	Subtotal      float64      `json:"subtotal,omitempty"`
	DeliveryFee   float64      `json:"deliveryFee,omitempty"`
	Discount      float64      `json:"discount,omitempty"`
	Total         float64      `json:"total,omitempty"`
	PaymentMethod string       `json:"paymentMethod,omitempty"`
	ChangeFor     float64      `json:"changeFor,omitempty"`
	Note          string       `json:"note,omitempty"`
	FooterMessage string       `json:"footerMessage,omitempty"`
}

type Customer struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type Address struct {
	Street       string `json:"street,omitempty"`
	Number       string `json:"number,omitempty"`
	Complement   string `json:"complement,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty"`
	City         string `json:"city,omitempty"`
	Reference    string `json:"reference,omitempty"`
}

type Item struct {
	Quantity    int     `json:"quantity"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Observation string  `json:"observation,omitempty"`
	Addons      []Addon `json:"addons,omitempty"`
}

type Addon struct {
	Quantity int     `json:"quantity"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
}

var ErrInvalidOrder = errors.New("invalid order")

func (o Order) Validate() error {
	if len(o.Items) == 0 {
		return fmt.Errorf("%w: order has no items", ErrInvalidOrder)
	}
	for i, item := range o.Items {
		if strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("%w: item %d has no name", ErrInvalidOrder, i+1)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: item %d quantity must be at least 1, got %d", ErrInvalidOrder, i+1, item.Quantity)
		}
		if item.Price < 0 {
			return fmt.Errorf("%w: item %d has a negative price", ErrInvalidOrder, i+1)
		}
		for _, addon := range item.Addons {
			if strings.TrimSpace(addon.Name) == "" {
				return fmt.Errorf("%w: item %d has an add-on without a name", ErrInvalidOrder, i+1)
			}
		}
	}
	if o.DeliveryFee < 0 || o.Discount < 0 || o.ChangeFor < 0 {
		return fmt.Errorf("%w: fees, discount and change must not be negative", ErrInvalidOrder)
	}
	return nil
}

// Kind normalizes the delivery type. Anything unknown prints as pickup.
func (o Order) Kind() DeliveryType {
	switch DeliveryType(strings.ToLower(strings.TrimSpace(string(o.DeliveryType)))) {
	case DeliveryTypeDelivery:
		return DeliveryTypeDelivery
	case DeliveryTypeDineIn:
		return DeliveryTypeDineIn
	default:
		return DeliveryTypePickup
	}
}

// LineTotal is the price of one line including add-ons. Add-on quantities
// are per unit of the item.
func (it Item) LineTotal() float64 {
	unit := it.Price
	for _, a := range it.Addons {
		unit += float64(addonQuantity(a)) * a.Price
	}
	return float64(it.Quantity) * unit
}

func (o Order) ItemsTotal() float64 {
	var sum float64
	for _, it := range o.Items {
		sum += it.LineTotal()
	}
	return sum
}

// Totals fills in a zero subtotal or total from the items.
func (o Order) Totals() (subtotal, total float64) {
	subtotal = o.Subtotal
	if subtotal == 0 {
		subtotal = o.ItemsTotal()
	}
	total = o.Total
	if total == 0 {
		total = subtotal + o.DeliveryFee - o.Discount
		if total < 0 {
			total = 0
		}
	}
	return subtotal, total
}

func (o Order) PaysCash() bool {
	switch strings.ToLower(strings.TrimSpace(o.PaymentMethod)) {
	case "cash", "dinheiro":
		return true
	}
	return false
}

func addonQuantity(a Addon) int {
	if a.Quantity < 1 {
		return 1
	}
	return a.Quantity
}

// SampleOrder is the fixed document printed by printer test pages.
func SampleOrder(now time.Time) Order {
	return Order{
		Code:         "TESTE",
		CreatedAt:    now,
		DeliveryType: DeliveryTypePickup,
		Customer:     Customer{Name: "Teste de impressão"},
		Items: []Item{
			{Quantity: 1, Name: "Pão de queijo", Price: 4.5, Observation: "Acentuação: áéíóú âêô ãõ ç"},
			{Quantity: 2, Name: "Café com leite", Price: 6, Addons: []Addon{{Quantity: 1, Name: "Açúcar", Price: 0}}},
		},
		PaymentMethod: "pix",
		Note:          "Se este texto aparece sem caracteres estranhos, a página de código está correta.",
	}
}
