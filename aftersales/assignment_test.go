package aftersales_test

import (
	"context"
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales/memstore"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAssigner() (*aftersales.Assigner, *memstore.Store, *logtest.Hook) {
	s := memstore.New()
	seed(s)
	logger, hook := logtest.NewNullLogger()
	return aftersales.NewAssigner(s, s, logger), s, hook
}

func TestResolveAssignment_SupplierChannel(t *testing.T) {
	a, _, _ := newAssigner()

	d := a.ResolveAssignment(ctxBase, aftersales.ProvenanceResult{
		Channel:    aftersales.ChannelSupplier,
		SupplierId: str("sup-1"),
	})
	assert.Equal(t, aftersales.RouteAutoSupplier, d.Route)
	assert.Equal(t, str("sup-1"), d.ActorId)
	assert.Empty(t, d.Warning)
}

func TestResolveAssignment_SupplierChannelWithoutSupplierIsManual(t *testing.T) {
	a, _, _ := newAssigner()

	d := a.ResolveAssignment(ctxBase, aftersales.ProvenanceResult{Channel: aftersales.ChannelSupplier})
	assert.Equal(t, aftersales.RouteManual, d.Route)
	assert.Nil(t, d.ActorId)
	assert.NotEmpty(t, d.Warning)
}

func TestResolveAssignment_EcommerceBuyerRequester(t *testing.T) {
	a, _, _ := newAssigner()

	d := a.ResolveAssignment(ctxBase, aftersales.ProvenanceResult{
		Channel: aftersales.ChannelEcommerce,
		RfqId:   str("rfq-1"),
	})
	assert.Equal(t, aftersales.RouteAutoBuyer, d.Route)
	assert.Equal(t, str("buyer-2"), d.ActorId)
}

func TestResolveAssignment_EcommerceOrderLinkedRequest(t *testing.T) {
	a, _, _ := newAssigner()

	d := a.ResolveAssignment(ctxBase, aftersales.ProvenanceResult{
		Channel: aftersales.ChannelEcommerce,
		OrderId: str("order-1"),
	})
	assert.Equal(t, aftersales.RouteAutoBuyer, d.Route)
	assert.Equal(t, str("buyer-2"), d.ActorId)
}

func TestResolveAssignment_AdminRequesterFallsBackToFirstActiveBuyer(t *testing.T) {
	a, _, _ := newAssigner()

	d := a.ResolveAssignment(ctxBase, aftersales.ProvenanceResult{
		Channel: aftersales.ChannelEcommerce,
		RfqId:   str("rfq-2"),
	})
	assert.Equal(t, aftersales.RouteAutoBuyer, d.Route)
	// buyer-3 is older but inactive
	assert.Equal(t, str("buyer-1"), d.ActorId)
}

func TestResolveAssignment_InactiveRequesterFallsBackToFirstActiveBuyer(t *testing.T) {
	a, _, _ := newAssigner()

	d := a.ResolveAssignment(ctxBase, aftersales.ProvenanceResult{
		Channel: aftersales.ChannelEcommerce,
		RfqId:   str("rfq-3"),
	})
	assert.Equal(t, aftersales.RouteAutoBuyer, d.Route)
	assert.Equal(t, str("buyer-1"), d.ActorId)
}

func TestResolveAssignment_NoActiveBuyerIsManualWithWarning(t *testing.T) {
	a, s, _ := newAssigner()
	s.SetUserActive("buyer-1", false)
	s.SetUserActive("buyer-2", false)

	d := a.ResolveAssignment(ctxBase, aftersales.ProvenanceResult{
		Channel: aftersales.ChannelEcommerce,
		RfqId:   str("rfq-2"),
	})
	assert.Equal(t, aftersales.RouteManual, d.Route)
	assert.Nil(t, d.ActorId)
	assert.Contains(t, d.Warning, "no active buyer")
}

func TestResolveAssignment_UnknownIsManual(t *testing.T) {
	a, _, _ := newAssigner()

	d := a.ResolveAssignment(ctxBase, aftersales.UnknownProvenance())
	assert.Equal(t, aftersales.RouteManual, d.Route)
	assert.Nil(t, d.ActorId)
}

func TestResolveAssignment_LookupErrorDegradesToManual(t *testing.T) {
	a, s, hook := newAssigner()
	s.FailNext("FindRequestById", errors.New("deadlock"))

	d := a.ResolveAssignment(ctxBase, aftersales.ProvenanceResult{
		Channel: aftersales.ChannelEcommerce,
		RfqId:   str("rfq-1"),
	})
	assert.Equal(t, aftersales.RouteManual, d.Route)
	assert.Contains(t, d.Warning, "deadlock")
	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "falling back to manual")
}

type panickingDirectory struct{}

func (panickingDirectory) FindById(context.Context, string) (*aftersales.User, error) {
	panic("directory offline")
}

func (panickingDirectory) FindActiveUsersByRole(context.Context, aftersales.Role) ([]aftersales.User, error) {
	panic("directory offline")
}

func TestResolveAssignment_PanicDegradesToManual(t *testing.T) {
	s := memstore.New()
	seed(s)
	logger, hook := logtest.NewNullLogger()
	a := aftersales.NewAssigner(s, panickingDirectory{}, logger)

	d := a.ResolveAssignment(ctxBase, aftersales.ProvenanceResult{
		Channel: aftersales.ChannelEcommerce,
		RfqId:   str("rfq-1"),
	})
	assert.Equal(t, aftersales.RouteManual, d.Route)
	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "panicked")
}
