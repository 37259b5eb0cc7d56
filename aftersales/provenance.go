package aftersales

import (
	"context"
	"strings"
)

// Resolver infers where a shipment or order came from. It never writes.
type Resolver struct {
	lookup ProvenanceLookup
}

func NewResolver(lookup ProvenanceLookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// trackingTier returns (nil, nil) when it has nothing to say about the tracking number.
type trackingTier struct {
	name    string
	resolve func(ctx context.Context, trackingNo string) (*ProvenanceResult, error)
}

// Tiers are checked in order. Shipments carry an explicit source flag and win over request items.
func (r *Resolver) trackingTiers() []trackingTier {
	return []trackingTier{
		{name: "shipment", resolve: r.byShipmentTracking},
		{name: "ecommerce_request_item", resolve: r.byEcommerceItemTracking},
	}
}

func (r *Resolver) ResolveByTrackingNumber(ctx context.Context, trackingNo string) (ProvenanceResult, error) {
	trackingNo = strings.TrimSpace(trackingNo)
	if trackingNo == "" {
		return UnknownProvenance(), NewValidationError("trackingNumber", "tracking number is required")
	}
	for _, tier := range r.trackingTiers() {
		res, err := tier.resolve(ctx, trackingNo)
		if err != nil {
			return UnknownProvenance(), infraError("resolve provenance ("+tier.name+")", err)
		}
		if res != nil {
			return *res, nil
		}
	}
	return UnknownProvenance(), nil
}

// ResolveByOrder is the fallback used when no tracking number is supplied.
func (r *Resolver) ResolveByOrder(ctx context.Context, orderId string) (ProvenanceResult, error) {
	orderId = strings.TrimSpace(orderId)
	if orderId == "" {
		return UnknownProvenance(), NewValidationError("orderId", "order id is required")
	}

	shipment, err := r.lookup.FindLatestShipmentByOrderId(ctx, orderId)
	if err != nil {
		return UnknownProvenance(), infraError("find latest shipment by order", err)
	}
	if shipment != nil {
		res, err := r.fromShipment(ctx, shipment)
		if err != nil {
			return UnknownProvenance(), err
		}
		return res, nil
	}

	rfq, err := r.lookup.FindOrderRequestLink(ctx, orderId)
	if err != nil {
		return UnknownProvenance(), infraError("find order request link", err)
	}
	if rfq == nil {
		return UnknownProvenance(), nil
	}
	ecommerce, err := r.lookup.RequestHasEcommerceTracking(ctx, rfq.ID)
	if err != nil {
		return UnknownProvenance(), infraError("check ecommerce items", err)
	}
	if !ecommerce {
		return UnknownProvenance(), nil
	}

	res := ProvenanceResult{
		Channel: ChannelEcommerce,
		OrderId: stringPtr(orderId),
		RfqId:   stringPtr(rfq.ID),
	}
	order, err := r.lookup.FindOrderById(ctx, orderId)
	if err != nil {
		return UnknownProvenance(), infraError("find order", err)
	}
	res.StoreId = preferStore(order, rfq)
	return res, nil
}

func (r *Resolver) ResolveByShipmentId(ctx context.Context, shipmentId string) (ProvenanceResult, error) {
	shipment, err := r.lookup.FindShipmentById(ctx, strings.TrimSpace(shipmentId))
	if err != nil {
		return UnknownProvenance(), infraError("find shipment", err)
	}
	if shipment == nil {
		return UnknownProvenance(), nil
	}
	return r.fromShipment(ctx, shipment)
}

func (r *Resolver) byShipmentTracking(ctx context.Context, trackingNo string) (*ProvenanceResult, error) {
	shipment, err := r.lookup.FindShipmentByTrackingNo(ctx, trackingNo)
	if err != nil || shipment == nil {
		return nil, err
	}
	res, err := r.fromShipment(ctx, shipment)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *Resolver) byEcommerceItemTracking(ctx context.Context, trackingNo string) (*ProvenanceResult, error) {
	item, err := r.lookup.FindRequestItemByTrackingNo(ctx, trackingNo, ChannelEcommerce)
	if err != nil || item == nil {
		return nil, err
	}
	// e-commerce purchases never carry a supplier
	res := ProvenanceResult{Channel: ChannelEcommerce}
	if err := r.attachRequest(ctx, &res, item.RfqId, nil); err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *Resolver) fromShipment(ctx context.Context, s *Shipment) (ProvenanceResult, error) {
	res := ProvenanceResult{
		Channel:    normalizeChannel(s.Source),
		ShipmentId: stringPtr(s.ID),
	}
	if res.Channel == ChannelSupplier && nonEmpty(s.SupplierId) {
		res.SupplierId = cloneString(s.SupplierId)
	}

	var order *Order
	if nonEmpty(s.OrderId) {
		o, err := r.lookup.FindOrderById(ctx, *s.OrderId)
		if err != nil {
			return UnknownProvenance(), infraError("find order", err)
		}
		res.OrderId = cloneString(s.OrderId)
		order = o
	}

	if nonEmpty(s.RfqItemId) {
		item, err := r.lookup.FindRequestItemById(ctx, *s.RfqItemId)
		if err != nil {
			return UnknownProvenance(), infraError("find request item", err)
		}
		if item != nil {
			if err := r.attachRequest(ctx, &res, item.RfqId, order); err != nil {
				return UnknownProvenance(), err
			}
			return res, nil
		}
	}

	res.StoreId = preferStore(order, nil)
	return res, nil
}

// attachRequest fills order, store and request id from a request-for-quote.
// A direct order (already on res) is kept; otherwise the first linked order is used.
func (r *Resolver) attachRequest(ctx context.Context, res *ProvenanceResult, rfqId string, order *Order) error {
	if strings.TrimSpace(rfqId) == "" {
		res.StoreId = preferStore(order, nil)
		return nil
	}
	rfq, err := r.lookup.FindRequestById(ctx, rfqId)
	if err != nil {
		return infraError("find request", err)
	}
	if rfq == nil {
		res.StoreId = preferStore(order, nil)
		return nil
	}
	res.RfqId = stringPtr(rfq.ID)

	if res.OrderId == nil {
		orders, err := r.lookup.FindOrdersByRequestId(ctx, rfq.ID)
		if err != nil {
			return infraError("find request orders", err)
		}
		if len(orders) > 0 {
			first := orders[0]
			res.OrderId = stringPtr(first.ID)
			order = &first
		}
	}
	res.StoreId = preferStore(order, rfq)
	return nil
}

// preferStore picks the order's store over the request's.
func preferStore(order *Order, rfq *Rfq) *string {
	if order != nil && nonEmpty(order.StoreId) {
		return cloneString(order.StoreId)
	}
	if rfq != nil && nonEmpty(rfq.StoreId) {
		return cloneString(rfq.StoreId)
	}
	return nil
}

func normalizeChannel(c Channel) Channel {
	switch c {
	case ChannelSupplier, ChannelEcommerce:
		return c
	}
	return ChannelUnknown
}
