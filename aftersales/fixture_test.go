package aftersales_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales/memstore"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

var (
	admin   = aftersales.Actor{ID: "admin-1", Role: aftersales.RoleAdmin}
	buyer1  = aftersales.Actor{ID: "buyer-1", Role: aftersales.RoleBuyer}
	buyer2  = aftersales.Actor{ID: "buyer-2", Role: aftersales.RoleBuyer}
	supp1   = aftersales.Actor{ID: "sup-1", Role: aftersales.RoleSupplier}
	supp2   = aftersales.Actor{ID: "sup-2", Role: aftersales.RoleSupplier}
	ctxBase = context.Background()
)

// stepClock advances one second per reading so log entries have distinct times.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeThumbnailer struct {
	err error
}

func (f fakeThumbnailer) Thumbnail(data []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("thumb"), nil
}

type fixture struct {
	store    *memstore.Store
	notifier *memstore.Notifier
	audit    *memstore.Audit
	logs     *logtest.Hook
	svc      *aftersales.Service
}

func newFixture(t *testing.T, opts ...aftersales.Option) *fixture {
	t.Helper()
	store := memstore.New()
	seed(store)

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	f := &fixture{
		store:    store,
		notifier: &memstore.Notifier{},
		audit:    &memstore.Audit{},
		logs:     hook,
	}
	deps := store.Deps()
	deps.Notifier = f.notifier
	deps.Audit = f.audit
	deps.Thumbnailer = fakeThumbnailer{}
	deps.Logger = logger

	clock := &stepClock{now: t0}
	all := append([]aftersales.Option{aftersales.WithClock(clock.Now)}, opts...)
	f.svc = aftersales.NewService(deps, all...)
	t.Cleanup(f.svc.WaitForSideEffects)
	return f
}

// seed builds a small procurement graph:
//
//	SF123   shipment from supplier sup-1 for order-1 (request rfq-1, requested by buyer-2)
//	EC-777  e-commerce request item on rfq-2 (requested by admin-1), linked to order-2
//	order-3 linked to rfq-3 whose only item is a supplier item, requested by inactive buyer-3
func seed(s *memstore.Store) {
	s.AddStore("store-1", "Yangon Main")
	s.AddStore("store-2", "Mandalay")

	s.AddUser(aftersales.User{ID: "admin-1", Name: "Admin", Role: aftersales.RoleAdmin, IsActive: true, CreatedAt: t0.Add(-72 * time.Hour)})
	s.AddUser(aftersales.User{ID: "buyer-1", Name: "Buyer One", Role: aftersales.RoleBuyer, IsActive: true, CreatedAt: t0.Add(-48 * time.Hour)})
	s.AddUser(aftersales.User{ID: "buyer-2", Name: "Buyer Two", Role: aftersales.RoleBuyer, IsActive: true, CreatedAt: t0.Add(-24 * time.Hour)})
	s.AddUser(aftersales.User{ID: "buyer-3", Name: "Buyer Three", Role: aftersales.RoleBuyer, IsActive: false, CreatedAt: t0.Add(-96 * time.Hour)})
	s.AddUser(aftersales.User{ID: "sup-1", Name: "Golden Supply", Role: aftersales.RoleSupplier, IsActive: true, CreatedAt: t0.Add(-96 * time.Hour)})
	s.AddUser(aftersales.User{ID: "sup-2", Name: "Delta Trading", Role: aftersales.RoleSupplier, IsActive: true, CreatedAt: t0.Add(-96 * time.Hour)})
	s.AddUser(aftersales.User{ID: "sup-9", Name: "Dormant Co", Role: aftersales.RoleSupplier, IsActive: false, CreatedAt: t0.Add(-96 * time.Hour)})

	s.AddOrder(aftersales.Order{ID: "order-1", StoreId: str("store-1")})
	s.AddOrder(aftersales.Order{ID: "order-2", StoreId: str("store-1")})
	s.AddOrder(aftersales.Order{ID: "order-3", StoreId: str("store-2")})

	s.AddRfq(aftersales.Rfq{ID: "rfq-1", RequesterId: str("buyer-2"), StoreId: str("store-2")})
	s.AddRfq(aftersales.Rfq{ID: "rfq-2", RequesterId: str("admin-1"), StoreId: str("store-2")})
	s.AddRfq(aftersales.Rfq{ID: "rfq-3", RequesterId: str("buyer-3"), StoreId: str("store-2")})
	s.LinkOrderRequest("order-1", "rfq-1")
	s.LinkOrderRequest("order-2", "rfq-2")
	s.LinkOrderRequest("order-3", "rfq-3")

	s.AddRfqItem(aftersales.RfqItem{ID: "item-1", RfqId: "rfq-1", Source: aftersales.ChannelSupplier})
	s.AddRfqItem(aftersales.RfqItem{ID: "item-2", RfqId: "rfq-2", TrackingNumber: str("EC-777"), Source: aftersales.ChannelEcommerce})
	s.AddRfqItem(aftersales.RfqItem{ID: "item-3", RfqId: "rfq-3", TrackingNumber: str("SUP-333"), Source: aftersales.ChannelSupplier})

	s.AddShipment(aftersales.Shipment{
		ID:             "sh-1",
		TrackingNumber: "SF123",
		Source:         aftersales.ChannelSupplier,
		SupplierId:     str("sup-1"),
		OrderId:        str("order-1"),
		RfqItemId:      str("item-1"),
		CreatedAt:      t0.Add(-240 * time.Hour),
	})
}

func str(s string) *string { return &s }

func openInput(tracking string, issue aftersales.IssueType) aftersales.OpenCaseInput {
	return aftersales.OpenCaseInput{
		TrackingNumber: tracking,
		IssueType:      string(issue),
		Priority:       string(aftersales.PriorityHigh),
		Description:    "carton arrived crushed",
	}
}

// openSupplierCase opens a case on SF123, which auto-dispatches to sup-1.
func (f *fixture) openSupplierCase(t *testing.T, issue aftersales.IssueType) *aftersales.Case {
	t.Helper()
	c, err := f.svc.OpenCase(ctxBase, admin, openInput("SF123", issue))
	require.NoError(t, err)
	require.Equal(t, aftersales.StatusExecuting, c.Status)
	return c
}

// inspectingCase returns a supplier case with a submitted resolution.
func (f *fixture) inspectingCase(t *testing.T) *aftersales.Case {
	t.Helper()
	c := f.openSupplierCase(t, aftersales.IssueTypeDamaged)
	c, err := f.svc.SubmitResolution(ctxBase, supp1, c.ID, "credit note for two units")
	require.NoError(t, err)
	require.Equal(t, aftersales.StatusInspecting, c.Status)
	return c
}

func (f *fixture) logActions(t *testing.T, caseId string) []string {
	t.Helper()
	logs, err := f.svc.ListCaseLogs(ctxBase, admin, caseId)
	require.NoError(t, err)
	out := make([]string, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.Action)
	}
	return out
}

func (f *fixture) reload(t *testing.T, caseId string) *aftersales.Case {
	t.Helper()
	c, err := f.svc.GetCase(ctxBase, admin, caseId)
	require.NoError(t, err)
	return c
}

func (f *fixture) warnings() []string {
	var out []string
	for _, e := range f.logs.AllEntries() {
		if e.Level == logrus.WarnLevel {
			out = append(out, e.Message)
		}
	}
	return out
}
