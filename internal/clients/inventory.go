package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/andreasstove999/order-fulfillment/internal/inventory"
	"github.com/andreasstove999/order-fulfillment/internal/resilience"
)

type InventoryClient struct {
	c      *Client
	policy *resilience.Policy
}

func NewInventoryClient(c *Client, policy *resilience.Policy) *InventoryClient {
	return &InventoryClient{c: c, policy: policy}
}

// CheckStock falls back to false when inventory is unreachable.
func (ic *InventoryClient) CheckStock(ctx context.Context, productID string, qty int) (resilience.Result[bool], error) {
	return resilience.Execute(ctx, ic.policy, false, func(ctx context.Context) (bool, error) {
		var available bool
		err := ic.c.Do(ctx, http.MethodGet, stockPath(productID, "check"), quantity(qty), nil, &available)
		return available, inventoryError(err)
	})
}

func (ic *InventoryClient) ReserveStock(ctx context.Context, productID string, qty int) (resilience.Result[bool], error) {
	return ic.mutate(ctx, productID, "reserve", qty)
}

func (ic *InventoryClient) ReleaseStock(ctx context.Context, productID string, qty int) (resilience.Result[bool], error) {
	return ic.mutate(ctx, productID, "release", qty)
}

func (ic *InventoryClient) mutate(ctx context.Context, productID, action string, qty int) (resilience.Result[bool], error) {
	return resilience.Execute(ctx, ic.policy, false, func(ctx context.Context) (bool, error) {
		err := ic.c.Do(ctx, http.MethodPost, stockPath(productID, action), quantity(qty), nil, nil)
		if err != nil {
			return false, inventoryError(err)
		}
		return true, nil
	})
}

func stockPath(productID, action string) string {
	return "/api/inventory/" + url.PathEscape(productID) + "/" + action
}

func quantity(qty int) url.Values {
	return url.Values{"quantity": []string{strconv.Itoa(qty)}}
}

// inventoryError maps business answers onto the inventory sentinels.
func inventoryError(err error) error {
	var se *StatusError
	if !errors.As(err, &se) {
		return err
	}
	var sentinel error
	switch se.StatusCode {
	case http.StatusNotFound:
		sentinel = inventory.ErrNotFound
	case http.StatusConflict:
		if strings.HasPrefix(se.Message, inventory.ErrInvalidState.Error()) {
			sentinel = inventory.ErrInvalidState
		} else {
			sentinel = inventory.ErrInsufficientStock
		}
	case http.StatusBadRequest:
		sentinel = inventory.ErrInvalidQuantity
	default:
		return err
	}
	return resilience.Permanent(fmt.Errorf("%w: %s", sentinel, se.Message))
}
