package aftersales_test

import (
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver() (*aftersales.Resolver, *memstore.Store) {
	s := memstore.New()
	seed(s)
	return aftersales.NewResolver(s), s
}

func TestResolveByTrackingNumber_SupplierShipment(t *testing.T) {
	r, _ := newResolver()

	res, err := r.ResolveByTrackingNumber(ctxBase, "  SF123 ")
	require.NoError(t, err)

	assert.Equal(t, aftersales.ChannelSupplier, res.Channel)
	assert.Equal(t, str("sup-1"), res.SupplierId)
	assert.Equal(t, str("sh-1"), res.ShipmentId)
	assert.Equal(t, str("order-1"), res.OrderId)
	assert.Equal(t, str("rfq-1"), res.RfqId)
	// the order's store wins over the request's store-2
	assert.Equal(t, str("store-1"), res.StoreId)
}

func TestResolveByTrackingNumber_EcommerceRequestItem(t *testing.T) {
	r, _ := newResolver()

	res, err := r.ResolveByTrackingNumber(ctxBase, "EC-777")
	require.NoError(t, err)

	assert.Equal(t, aftersales.ChannelEcommerce, res.Channel)
	assert.Nil(t, res.SupplierId)
	assert.Nil(t, res.ShipmentId)
	assert.Equal(t, str("rfq-2"), res.RfqId)
	assert.Equal(t, str("order-2"), res.OrderId)
	assert.Equal(t, str("store-1"), res.StoreId)
}

func TestResolveByTrackingNumber_ShipmentTierWinsOverRequestItem(t *testing.T) {
	r, s := newResolver()
	s.AddShipment(aftersales.Shipment{
		ID:             "sh-2",
		TrackingNumber: "EC-777",
		Source:         aftersales.ChannelSupplier,
		SupplierId:     str("sup-2"),
		CreatedAt:      t0,
	})

	res, err := r.ResolveByTrackingNumber(ctxBase, "EC-777")
	require.NoError(t, err)
	assert.Equal(t, aftersales.ChannelSupplier, res.Channel)
	assert.Equal(t, str("sup-2"), res.SupplierId)
	assert.Equal(t, str("sh-2"), res.ShipmentId)
}

func TestResolveByTrackingNumber_SupplierOnlyOnSupplierChannel(t *testing.T) {
	r, s := newResolver()
	s.AddShipment(aftersales.Shipment{
		ID:             "sh-3",
		TrackingNumber: "MIX-1",
		Source:         aftersales.ChannelEcommerce,
		SupplierId:     str("sup-2"),
		OrderId:        str("order-3"),
		CreatedAt:      t0,
	})

	res, err := r.ResolveByTrackingNumber(ctxBase, "MIX-1")
	require.NoError(t, err)
	assert.Equal(t, aftersales.ChannelEcommerce, res.Channel)
	assert.Nil(t, res.SupplierId)
	assert.Equal(t, str("order-3"), res.OrderId)
	assert.Equal(t, str("store-2"), res.StoreId)
}

func TestResolveByTrackingNumber_SupplierSourcedRequestItemIsNotATier(t *testing.T) {
	r, _ := newResolver()

	res, err := r.ResolveByTrackingNumber(ctxBase, "SUP-333")
	require.NoError(t, err)
	assert.Equal(t, aftersales.UnknownProvenance(), res)
}

func TestResolveByTrackingNumber_Unknown(t *testing.T) {
	r, _ := newResolver()

	res, err := r.ResolveByTrackingNumber(ctxBase, "NOPE-1")
	require.NoError(t, err)
	assert.Equal(t, aftersales.ChannelUnknown, res.Channel)
	assert.Nil(t, res.SupplierId)
	assert.Nil(t, res.OrderId)
	assert.Nil(t, res.StoreId)
	assert.Nil(t, res.ShipmentId)
}

func TestResolveByTrackingNumber_EmptyIsValidationError(t *testing.T) {
	r, _ := newResolver()

	_, err := r.ResolveByTrackingNumber(ctxBase, "   ")
	require.ErrorIs(t, err, aftersales.ErrValidation)
}

func TestResolveByTrackingNumber_LookupFailureIsInfrastructure(t *testing.T) {
	r, s := newResolver()
	s.FailNext("FindShipmentByTrackingNo", errors.New("connection reset"))

	res, err := r.ResolveByTrackingNumber(ctxBase, "SF123")
	require.ErrorIs(t, err, aftersales.ErrInfrastructure)
	assert.Equal(t, aftersales.ChannelUnknown, res.Channel)
}

func TestResolveByTrackingNumber_IsPure(t *testing.T) {
	r, s := newResolver()

	first, err := r.ResolveByTrackingNumber(ctxBase, "SF123")
	require.NoError(t, err)
	second, err := r.ResolveByTrackingNumber(ctxBase, "SF123")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// results are fresh values, not shared with the store
	*first.SupplierId = "tampered"
	third, err := r.ResolveByTrackingNumber(ctxBase, "SF123")
	require.NoError(t, err)
	assert.Equal(t, str("sup-1"), third.SupplierId)

	cases, total, err := s.ListByFilters(ctxBase, aftersales.CaseFilter{})
	require.NoError(t, err)
	assert.Empty(t, cases)
	assert.Zero(t, total)
}

func TestResolveByOrder_LatestShipment(t *testing.T) {
	r, s := newResolver()
	s.AddShipment(aftersales.Shipment{
		ID:             "sh-late",
		TrackingNumber: "SF999",
		Source:         aftersales.ChannelSupplier,
		SupplierId:     str("sup-2"),
		OrderId:        str("order-1"),
		CreatedAt:      t0.Add(-time.Hour),
	})

	res, err := r.ResolveByOrder(ctxBase, "order-1")
	require.NoError(t, err)
	assert.Equal(t, aftersales.ChannelSupplier, res.Channel)
	assert.Equal(t, str("sh-late"), res.ShipmentId)
	assert.Equal(t, str("sup-2"), res.SupplierId)
	assert.Equal(t, str("store-1"), res.StoreId)
}

func TestResolveByOrder_IgnoresReplacementShipments(t *testing.T) {
	r, s := newResolver()
	s.AddShipment(aftersales.Shipment{
		ID:             "sh-repl",
		TrackingNumber: "RPL-1",
		Source:         aftersales.ChannelEcommerce,
		OrderId:        str("order-1"),
		CaseId:         str("case-x"),
		CreatedAt:      t0,
	})

	res, err := r.ResolveByOrder(ctxBase, "order-1")
	require.NoError(t, err)
	assert.Equal(t, str("sh-1"), res.ShipmentId)
}

func TestResolveByTrackingNumber_IgnoresReplacementShipments(t *testing.T) {
	r, s := newResolver()
	s.AddShipment(aftersales.Shipment{
		ID:             "sh-repl",
		TrackingNumber: "RPL-9",
		Source:         aftersales.ChannelSupplier,
		SupplierId:     str("sup-1"),
		CaseId:         str("case-x"),
		CreatedAt:      t0,
	})

	res, err := r.ResolveByTrackingNumber(ctxBase, "RPL-9")
	require.NoError(t, err)
	assert.Equal(t, aftersales.UnknownProvenance(), res)
}

func TestResolveByOrder_EcommerceRequestLink(t *testing.T) {
	r, _ := newResolver()

	res, err := r.ResolveByOrder(ctxBase, "order-2")
	require.NoError(t, err)
	assert.Equal(t, aftersales.ChannelEcommerce, res.Channel)
	assert.Equal(t, str("order-2"), res.OrderId)
	assert.Equal(t, str("rfq-2"), res.RfqId)
	assert.Equal(t, str("store-1"), res.StoreId)
	assert.Nil(t, res.SupplierId)
}

func TestResolveByOrder_RequestWithoutEcommerceTrackingIsUnknown(t *testing.T) {
	r, _ := newResolver()

	res, err := r.ResolveByOrder(ctxBase, "order-3")
	require.NoError(t, err)
	assert.Equal(t, aftersales.UnknownProvenance(), res)
}

func TestResolveByOrder_UnlinkedOrderIsUnknown(t *testing.T) {
	r, s := newResolver()
	s.AddOrder(aftersales.Order{ID: "order-lonely"})

	res, err := r.ResolveByOrder(ctxBase, "order-lonely")
	require.NoError(t, err)
	assert.Equal(t, aftersales.ChannelUnknown, res.Channel)
}
