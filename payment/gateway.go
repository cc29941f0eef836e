package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
)

const Currency = "INR"

var ErrInvalidAmount = errors.New("payment: amount must be greater than zero")

// GatewayOrder is the descriptor the client needs to open the gateway checkout.
type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type Gateway interface {
	// CreateOrder registers a payable order of amount (major units) with the gateway.
	CreateOrder(ctx context.Context, amount float64) (*GatewayOrder, error)
	// FetchOrder returns the gateway's record of a previously created order.
	FetchOrder(ctx context.Context, id string) (*GatewayOrder, error)
	// KeyID is the public key the client passes to the gateway checkout.
	KeyID() string
}

type ordersAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Fetch(orderID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type RazorpayGateway struct {
	keyID  string
	orders ordersAPI
	now    func() time.Time
}

func NewRazorpayGateway(keyID, secret string) *RazorpayGateway {
	client := razorpay.NewClient(keyID, secret)
	return &RazorpayGateway{keyID: keyID, orders: client.Order, now: time.Now}
}

func (g *RazorpayGateway) KeyID() string {
	return g.keyID
}

func (g *RazorpayGateway) CreateOrder(ctx context.Context, amount float64) (*GatewayOrder, error) {
	minor := ToMinorUnits(amount)
	if minor <= 0 {
		return nil, ErrInvalidAmount
	}

	receipt := "receipt_" + strconv.FormatInt(g.now().UnixNano(), 10)
	data := map[string]interface{}{
		"amount":   minor,
		"currency": Currency,
		"receipt":  receipt,
	}

	body, err := call(ctx, func() (map[string]interface{}, error) {
		return g.orders.Create(data, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("create gateway order: %w", err)
	}
	order, err := parseOrder(body, minor, receipt)
	if err != nil {
		return nil, fmt.Errorf("create gateway order: %w", err)
	}
	return order, nil
}

func (g *RazorpayGateway) FetchOrder(ctx context.Context, id string) (*GatewayOrder, error) {
	if id == "" {
		return nil, errors.New("fetch gateway order: empty id")
	}

	body, err := call(ctx, func() (map[string]interface{}, error) {
		return g.orders.Fetch(id, nil, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch gateway order %s: %w", id, err)
	}
	order, err := parseOrder(body, 0, "")
	if err != nil {
		return nil, fmt.Errorf("fetch gateway order %s: %w", id, err)
	}
	if order.Amount <= 0 {
		return nil, fmt.Errorf("fetch gateway order %s: response has no amount", id)
	}
	return order, nil
}

// call runs fn, which takes no context, and gives up when ctx is done. The
// buffered channel lets an abandoned call finish.
func call(ctx context.Context, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	type result struct {
		body map[string]interface{}
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := fn()
		done <- result{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.body, res.err
	}
}

func parseOrder(body map[string]interface{}, minor int64, receipt string) (*GatewayOrder, error) {
	id, _ := body["id"].(string)
	if id == "" {
		return nil, errors.New("response has no id")
	}

	order := &GatewayOrder{ID: id, Amount: minor, Currency: Currency, Receipt: receipt}
	if v, ok := body["amount"].(float64); ok {
		order.Amount = int64(v)
	}
	if v, ok := body["currency"].(string); ok && v != "" {
		order.Currency = v
	}
	if v, ok := body["receipt"].(string); ok && v != "" {
		order.Receipt = v
	}
	order.Status, _ = body["status"].(string)
	return order, nil
}

// ToMinorUnits converts a major-unit amount to paise.
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
