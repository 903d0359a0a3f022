package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/petiteboutique/shop-api/internal/domain/payment"
)

var webhookEvents = func() metric.Int64Counter {
	c, err := otel.Meter("github.com/petiteboutique/shop-api/internal/handler").
		Int64Counter("payment.webhook.events",
			metric.WithDescription("Payment provider webhook deliveries by event and outcome"))
	if err != nil {
		panic(err)
	}
	return c
}()

// Webhook event names sent by the payment provider.
const (
	eventOrderCompleted     = "order.completed"
	eventOrderStatusChanged = "order.status.changed"
	eventOrderRefundCreated = "order.refund.created"
	eventShippingRatesFetch = "shippingrates.fetch"
)

// paymentWebhook is the single ingress for provider events. The shared
// token is verified before anything is decoded; unknown events are
// acknowledged so the provider does not retry them forever.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	lg := zctx.From(r.Context())

	if !h.security.VerifyWebhookToken(r.Header.Get(webhookTokenHeader)) {
		lg.Warn("Webhook delivery with missing or invalid token")
		writeError(w, http.StatusUnauthorized, "invalid webhook token")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}

	eventName, content, err := decodeEnvelope(body)
	if err != nil {
		lg.Warn("Malformed webhook payload", zap.Error(err))
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	lg.Info("Webhook event received", zap.String("event", eventName))
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("webhook.event", eventName),
	)

	switch eventName {
	case eventOrderCompleted:
		ext, err := decodeProviderOrder(content)
		if err == nil {
			err = h.reconciler.OrderCompleted(r.Context(), ext)
		}
		h.finishWebhook(w, r, eventName, err)

	case eventOrderStatusChanged:
		invoiceNumber, status, err := decodeStatusChange(content)
		if err == nil {
			err = h.reconciler.OrderStatusChanged(r.Context(), invoiceNumber, status)
		}
		h.finishWebhook(w, r, eventName, err)

	case eventOrderRefundCreated:
		orderToken, amount, err := decodeRefund(content)
		if err == nil {
			err = h.reconciler.OrderRefunded(r.Context(), orderToken, amount)
		}
		h.finishWebhook(w, r, eventName, err)

	case eventShippingRatesFetch:
		h.shippingRatesFetch(w, r, content)

	default:
		lg.Info("Unhandled webhook event", zap.String("event", eventName))
		webhookEvents.Add(r.Context(), 1, metric.WithAttributes(
			attribute.String("event", eventName),
			attribute.String("outcome", "ignored"),
		))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	}
}

func (h *Handler) finishWebhook(w http.ResponseWriter, r *http.Request, eventName string, err error) {
	outcome := "processed"
	if err != nil {
		outcome = "failed"
	}
	webhookEvents.Add(r.Context(), 1, metric.WithAttributes(
		attribute.String("event", eventName),
		attribute.String("outcome", outcome),
	))

	if err != nil {
		zctx.From(r.Context()).Error("Webhook processing failed",
			zap.String("event", eventName),
			zap.Error(err),
		)
		// Non-2xx makes the provider redeliver; every reconciler path is
		// idempotent, so redelivery is safe.
		writeError(w, http.StatusInternalServerError, "webhook processing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

// shippingRatesFetch answers the provider's synchronous rate query with
// the delivery options for the cart subtotal.
func (h *Handler) shippingRatesFetch(w http.ResponseWriter, r *http.Request, content jx.Raw) {
	subtotal := decimal.Zero

	d := jx.DecodeBytes(content)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "subtotal" {
			return d.Skip()
		}
		v, err := decodeDecimal(d)
		if err != nil {
			return err
		}
		subtotal = v
		return nil
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	type rate struct {
		Cost                     float64 `json:"cost"`
		Description              string  `json:"description"`
		GuaranteedDaysToDelivery int     `json:"guaranteedDaysToDelivery"`
	}
	options := h.shipping.Options(subtotal)
	rates := make([]rate, len(options))
	for i, opt := range options {
		rates[i] = rate{
			Cost:                     opt.Cost.InexactFloat64(),
			Description:              opt.Description,
			GuaranteedDaysToDelivery: opt.GuaranteedDays,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rates": rates})
}

// decodeEnvelope splits a webhook delivery into its event name and raw
// content payload.
func decodeEnvelope(body []byte) (eventName string, content jx.Raw, err error) {
	d := jx.DecodeBytes(body)
	err = d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "eventName":
			v, err := d.Str()
			if err != nil {
				return err
			}
			eventName = v
			return nil
		case "content":
			raw, err := d.Raw()
			if err != nil {
				return err
			}
			content = raw
			return nil
		default:
			return d.Skip()
		}
	})
	return eventName, content, err
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(n.String())
}

// decodeProviderOrder parses an order.completed payload. The provider
// flattens address fields into the order object.
func decodeProviderOrder(content jx.Raw) (*payment.ExternalOrder, error) {
	var ext payment.ExternalOrder

	str := func(d *jx.Decoder, dst *string) error {
		v, err := d.Str()
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
	num := func(d *jx.Decoder, dst *decimal.Decimal) error {
		v, err := decodeDecimal(d)
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}

	d := jx.DecodeBytes(content)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "invoiceNumber":
			return str(d, &ext.InvoiceNumber)
		case "token":
			return str(d, &ext.Token)
		case "email":
			return str(d, &ext.Email)
		case "itemsTotal":
			return num(d, &ext.ItemsTotal)
		case "taxesTotal":
			return num(d, &ext.TaxesTotal)
		case "shippingInformationAmount":
			return num(d, &ext.ShippingTotal)
		case "finalGrandTotal":
			return num(d, &ext.GrandTotal)

		case "shippingAddressName":
			return str(d, &ext.ShippingAddress.FullName)
		case "shippingAddressAddress1":
			return str(d, &ext.ShippingAddress.Street)
		case "shippingAddressCity":
			return str(d, &ext.ShippingAddress.City)
		case "shippingAddressPostalCode":
			return str(d, &ext.ShippingAddress.PostalCode)
		case "shippingAddressCountry":
			return str(d, &ext.ShippingAddress.Country)
		case "shippingAddressPhone":
			return str(d, &ext.ShippingAddress.Phone)

		case "billingAddressName":
			return str(d, &ext.BillingAddress.FullName)
		case "billingAddressAddress1":
			return str(d, &ext.BillingAddress.Street)
		case "billingAddressCity":
			return str(d, &ext.BillingAddress.City)
		case "billingAddressPostalCode":
			return str(d, &ext.BillingAddress.PostalCode)
		case "billingAddressCountry":
			return str(d, &ext.BillingAddress.Country)

		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				var item payment.ExternalItem
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					switch key {
					case "id":
						return str(d, &item.SKU)
					case "name":
						return str(d, &item.Name)
					case "price":
						return num(d, &item.Price)
					case "quantity":
						v, err := d.Int()
						if err != nil {
							return err
						}
						item.Quantity = v
						return nil
					default:
						return d.Skip()
					}
				}); err != nil {
					return err
				}
				ext.Items = append(ext.Items, item)
				return nil
			})

		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	return &ext, nil
}

func decodeStatusChange(content jx.Raw) (invoiceNumber, status string, err error) {
	d := jx.DecodeBytes(content)
	err = d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "invoiceNumber":
			v, err := d.Str()
			if err != nil {
				return err
			}
			invoiceNumber = v
			return nil
		case "status":
			v, err := d.Str()
			if err != nil {
				return err
			}
			status = v
			return nil
		default:
			return d.Skip()
		}
	})
	return invoiceNumber, status, err
}

func decodeRefund(content jx.Raw) (orderToken string, amount decimal.Decimal, err error) {
	d := jx.DecodeBytes(content)
	err = d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "orderToken":
			v, err := d.Str()
			if err != nil {
				return err
			}
			orderToken = v
			return nil
		case "amount":
			v, err := decodeDecimal(d)
			if err != nil {
				return err
			}
			amount = v
			return nil
		default:
			return d.Skip()
		}
	})
	return orderToken, amount, err
}
