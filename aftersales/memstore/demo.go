package memstore

import (
	"time"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
)

// Demo records loaded by SeedDemo.
const (
	DemoStoreId           = "demo-store"
	DemoAdminId           = "demo-admin"
	DemoBuyerId           = "demo-buyer"
	DemoSupplierId        = "demo-supplier"
	DemoSupplierTracking  = "DEMO-SUP-001"
	DemoEcommerceTracking = "DEMO-EC-001"
	DemoSupplierOrderId   = "demo-order-1"
	DemoEcommerceOrderId  = "demo-order-2"
)

// SeedDemo loads one user per role, a supplier shipment and an e-commerce
// request so both dispatch routes can be tried against APP_STORAGE=memory.
func SeedDemo(s *Store, now time.Time) {
	storeId := DemoStoreId
	s.AddStore(storeId, "Demo Store")
	s.AddUser(aftersales.User{ID: DemoAdminId, Name: "Demo Admin", Role: aftersales.RoleAdmin, IsActive: true, CreatedAt: now})
	s.AddUser(aftersales.User{ID: DemoBuyerId, Name: "Demo Buyer", Role: aftersales.RoleBuyer, IsActive: true, CreatedAt: now})
	s.AddUser(aftersales.User{ID: DemoSupplierId, Name: "Demo Supplier", Role: aftersales.RoleSupplier, IsActive: true, CreatedAt: now})

	requester := DemoBuyerId
	supplierId := DemoSupplierId
	supplierOrder := DemoSupplierOrderId
	supplierItem := "demo-item-1"
	s.AddOrder(aftersales.Order{ID: supplierOrder, StoreId: &storeId})
	s.AddRfq(aftersales.Rfq{ID: "demo-rfq-1", RequesterId: &requester, StoreId: &storeId})
	s.LinkOrderRequest(supplierOrder, "demo-rfq-1")
	s.AddRfqItem(aftersales.RfqItem{ID: supplierItem, RfqId: "demo-rfq-1", Source: aftersales.ChannelSupplier})
	s.AddShipment(aftersales.Shipment{
		ID:             "demo-shipment-1",
		TrackingNumber: DemoSupplierTracking,
		Source:         aftersales.ChannelSupplier,
		SupplierId:     &supplierId,
		OrderId:        &supplierOrder,
		RfqItemId:      &supplierItem,
		CreatedAt:      now.Add(-48 * time.Hour),
	})

	ecTracking := DemoEcommerceTracking
	s.AddOrder(aftersales.Order{ID: DemoEcommerceOrderId, StoreId: &storeId})
	s.AddRfq(aftersales.Rfq{ID: "demo-rfq-2", RequesterId: &requester, StoreId: &storeId})
	s.LinkOrderRequest(DemoEcommerceOrderId, "demo-rfq-2")
	s.AddRfqItem(aftersales.RfqItem{ID: "demo-item-2", RfqId: "demo-rfq-2", TrackingNumber: &ecTracking, Source: aftersales.ChannelEcommerce})
}
