// Package memstore is an in-process implementation of the after-sales ports.
// It backs unit tests and APP_STORAGE=memory local runs.
package memstore

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
	"github.com/google/uuid"
)

type Store struct {
	mu sync.Mutex

	cases       map[string]*aftersales.Case
	logs        map[string][]aftersales.CaseLogEntry
	attachments map[string]*aftersales.Attachment
	attachOrder []string

	shipments  map[string]*aftersales.Shipment
	shipOrder  []string
	rfqs       map[string]*aftersales.Rfq
	rfqItems   []*aftersales.RfqItem
	orders     map[string]*aftersales.Order
	orderLinks []orderLink
	stores     map[string]string
	users      map[string]*aftersales.User

	blobs       map[string][]byte
	dailySeq    map[string]int
	numberQueue []string

	failures map[string]error
	barrier  *readBarrier
}

type orderLink struct {
	orderId string
	rfqId   string
}

func New() *Store {
	return &Store{
		cases:       map[string]*aftersales.Case{},
		logs:        map[string][]aftersales.CaseLogEntry{},
		attachments: map[string]*aftersales.Attachment{},
		shipments:   map[string]*aftersales.Shipment{},
		rfqs:        map[string]*aftersales.Rfq{},
		orders:      map[string]*aftersales.Order{},
		stores:      map[string]string{},
		users:       map[string]*aftersales.User{},
		blobs:       map[string][]byte{},
		dailySeq:    map[string]int{},
		failures:    map[string]error{},
	}
}

// Deps wires every port the store implements. Notifier and Audit are left to the caller.
func (s *Store) Deps() aftersales.Deps {
	return aftersales.Deps{
		Cases:       s,
		Attachments: AttachmentRepo{s},
		Lookup:      s,
		Users:       s,
		Numbers:     s,
		Blobs:       s,
	}
}

// FailNext makes the next call of op return err.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *Store) fail(op string) error {
	if err, ok := s.failures[op]; ok {
		delete(s.failures, op)
		return err
	}
	return nil
}

// readBarrier holds GetById callers until n of them have read.
type readBarrier struct {
	n       int
	arrived int
	release chan struct{}
}

// SetReadBarrier makes the next n case reads wait for each other, so that
// n concurrent operations all observe the same version before any writes.
func (s *Store) SetReadBarrier(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.barrier = &readBarrier{n: n, release: make(chan struct{})}
}

// Seeding.

func (s *Store) AddStore(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores[id] = name
}

func (s *Store) AddUser(u aftersales.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := u
	s.users[u.ID] = &v
}

func (s *Store) SetUserActive(id string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.IsActive = active
	}
}

func (s *Store) AddOrder(o aftersales.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := o
	s.orders[o.ID] = &v
}

func (s *Store) AddRfq(r aftersales.Rfq) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := r
	s.rfqs[r.ID] = &v
}

func (s *Store) AddRfqItem(item aftersales.RfqItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := item
	s.rfqItems = append(s.rfqItems, &v)
}

func (s *Store) LinkOrderRequest(orderId, rfqId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orderLinks = append(s.orderLinks, orderLink{orderId: orderId, rfqId: rfqId})
}

func (s *Store) AddShipment(sh aftersales.Shipment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := sh
	s.addShipment(&v)
}

func (s *Store) addShipment(sh *aftersales.Shipment) {
	if _, ok := s.shipments[sh.ID]; !ok {
		s.shipOrder = append(s.shipOrder, sh.ID)
	}
	s.shipments[sh.ID] = sh
}

// PutCase stores a case as-is, bypassing the engine.
func (s *Store) PutCase(c *aftersales.Case) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[c.ID] = c.Clone()
}

// Shipment returns a copy of the stored shipment.
func (s *Store) Shipment(id string) (*aftersales.Shipment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shipments[id]
	if !ok {
		return nil, false
	}
	v := *sh
	return &v, true
}

func (s *Store) Blob(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[key]
	return b, ok
}

// SetCaseNumbers queues numbers that Next hands out before its own sequence.
func (s *Store) SetCaseNumbers(numbers ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.numberQueue = append(s.numberQueue, numbers...)
}

// CaseRepository

func (s *Store) Create(ctx context.Context, c *aftersales.Case, entry aftersales.CaseLogEntry) (*aftersales.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("Create"); err != nil {
		return nil, err
	}
	for _, existing := range s.cases {
		if existing.CaseNumber == c.CaseNumber {
			return nil, aftersales.ErrDuplicateCaseNumber
		}
	}
	if _, ok := s.cases[c.ID]; ok {
		return nil, fmt.Errorf("case %s already exists", c.ID)
	}
	stored := c.Clone()
	s.cases[c.ID] = stored
	s.logs[c.ID] = append(s.logs[c.ID], entry)
	return stored.Clone(), nil
}

func (s *Store) GetById(ctx context.Context, id string) (*aftersales.Case, error) {
	s.mu.Lock()
	if err := s.fail("GetById"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	var out *aftersales.Case
	if c, ok := s.cases[id]; ok {
		out = c.Clone()
	}
	b := s.barrier
	var wait chan struct{}
	if b != nil {
		b.arrived++
		wait = b.release
		if b.arrived >= b.n {
			close(b.release)
			s.barrier = nil
		}
	}
	s.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, id string, patch aftersales.CasePatch, expect aftersales.Expectation, entry aftersales.CaseLogEntry) (*aftersales.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("Update"); err != nil {
		return nil, err
	}
	c, ok := s.cases[id]
	if !ok || c.Status != expect.Status || c.Version != expect.Version {
		return nil, aftersales.ErrVersionConflict
	}

	next := c.Clone()
	if patch.Status != nil {
		next.Status = *patch.Status
	}
	if patch.SupplierId != nil {
		next.SupplierId = stringPtr(*patch.SupplierId)
	}
	if patch.HandlerId != nil {
		next.HandlerId = stringPtr(*patch.HandlerId)
	}
	if patch.Resolution != nil {
		next.Resolution = stringPtr(*patch.Resolution)
	}
	if patch.ResolutionSubmittedAt != nil {
		v := *patch.ResolutionSubmittedAt
		next.ResolutionSubmittedAt = &v
	}
	if patch.ResolvedAt != nil {
		v := *patch.ResolvedAt
		next.ResolvedAt = &v
	}
	if sh := patch.ReplacementShipment; sh != nil {
		for _, existing := range s.shipments {
			if existing.TrackingNumber == sh.TrackingNumber {
				return nil, fmt.Errorf("shipment with tracking number %s already exists", sh.TrackingNumber)
			}
		}
		v := *sh
		s.addShipment(&v)
		next.ReplacementShipmentId = stringPtr(sh.ID)
	}
	next.Version++
	next.UpdatedAt = entry.CreatedAt

	s.cases[id] = next
	s.logs[id] = append(s.logs[id], entry)
	return next.Clone(), nil
}

func (s *Store) ListByFilters(ctx context.Context, f aftersales.CaseFilter) ([]*aftersales.Case, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListByFilters"); err != nil {
		return nil, 0, err
	}
	matched := s.filter(f)
	if f.OverdueBefore != nil {
		sort.Slice(matched, func(i, j int) bool {
			if matched[i].SlaDeadline.Equal(matched[j].SlaDeadline) {
				return matched[i].ID < matched[j].ID
			}
			return matched[i].SlaDeadline.Before(matched[j].SlaDeadline)
		})
	} else {
		sort.Slice(matched, func(i, j int) bool {
			if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
				return matched[i].CaseNumber > matched[j].CaseNumber
			}
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		})
	}
	total := int64(len(matched))

	start := f.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if f.Limit > 0 && start+f.Limit < end {
		end = start + f.Limit
	}
	out := make([]*aftersales.Case, 0, end-start)
	for _, c := range matched[start:end] {
		out = append(out, c.Clone())
	}
	return out, total, nil
}

func (s *Store) CountByStatus(ctx context.Context, f aftersales.CaseFilter) ([]aftersales.StatusCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CountByStatus"); err != nil {
		return nil, err
	}
	counts := map[aftersales.Status]int64{}
	for _, c := range s.filter(f) {
		counts[c.Status]++
	}
	out := make([]aftersales.StatusCount, 0, len(counts))
	for st, n := range counts {
		out = append(out, aftersales.StatusCount{Status: st, Count: n})
	}
	return out, nil
}

func (s *Store) filter(f aftersales.CaseFilter) []*aftersales.Case {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	var out []*aftersales.Case
	for _, c := range s.cases {
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, c.Status) {
			continue
		}
		if f.IssueType != nil && c.IssueType != *f.IssueType {
			continue
		}
		if f.Priority != nil && c.Priority != *f.Priority {
			continue
		}
		if f.Channel != nil && c.Channel != *f.Channel {
			continue
		}
		if f.SupplierId != nil && !equalPtr(c.SupplierId, *f.SupplierId) {
			continue
		}
		if f.HandlerId != nil && !equalPtr(c.HandlerId, *f.HandlerId) {
			continue
		}
		if f.StoreId != nil && !equalPtr(c.StoreId, *f.StoreId) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(c.CaseNumber), search) &&
			!strings.Contains(strings.ToLower(c.Description), search) {
			continue
		}
		if f.CreatedFrom != nil && c.CreatedAt.Before(*f.CreatedFrom) {
			continue
		}
		if f.CreatedTo != nil && c.CreatedAt.After(*f.CreatedTo) {
			continue
		}
		if f.OverdueBefore != nil && !c.SlaDeadline.Before(*f.OverdueBefore) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (s *Store) ListLogs(ctx context.Context, caseId string) ([]aftersales.CaseLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListLogs"); err != nil {
		return nil, err
	}
	logs := s.logs[caseId]
	out := make([]aftersales.CaseLogEntry, len(logs))
	copy(out, logs)
	return out, nil
}

// ProvenanceLookup

func (s *Store) FindShipmentByTrackingNo(ctx context.Context, trackingNo string) (*aftersales.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FindShipmentByTrackingNo"); err != nil {
		return nil, err
	}
	for _, id := range s.shipOrder {
		if sh := s.shipments[id]; sh.TrackingNumber == trackingNo && sh.CaseId == nil {
			v := *sh
			return &v, nil
		}
	}
	return nil, nil
}

func (s *Store) ShipmentTrackingExists(ctx context.Context, trackingNo string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ShipmentTrackingExists"); err != nil {
		return false, err
	}
	for _, sh := range s.shipments {
		if sh.TrackingNumber == trackingNo {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) FindShipmentById(ctx context.Context, id string) (*aftersales.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FindShipmentById"); err != nil {
		return nil, err
	}
	if sh, ok := s.shipments[id]; ok {
		v := *sh
		return &v, nil
	}
	return nil, nil
}

// FindLatestShipmentByOrderId ignores replacement shipments recorded against a case.
func (s *Store) FindLatestShipmentByOrderId(ctx context.Context, orderId string) (*aftersales.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FindLatestShipmentByOrderId"); err != nil {
		return nil, err
	}
	var latest *aftersales.Shipment
	for _, id := range s.shipOrder {
		sh := s.shipments[id]
		if !equalPtr(sh.OrderId, orderId) || sh.CaseId != nil {
			continue
		}
		if latest == nil || !sh.CreatedAt.Before(latest.CreatedAt) {
			latest = sh
		}
	}
	if latest == nil {
		return nil, nil
	}
	v := *latest
	return &v, nil
}

func (s *Store) FindRequestItemById(ctx context.Context, id string) (*aftersales.RfqItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FindRequestItemById"); err != nil {
		return nil, err
	}
	for _, item := range s.rfqItems {
		if item.ID == id {
			v := *item
			return &v, nil
		}
	}
	return nil, nil
}

func (s *Store) FindRequestItemByTrackingNo(ctx context.Context, trackingNo string, source aftersales.Channel) (*aftersales.RfqItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FindRequestItemByTrackingNo"); err != nil {
		return nil, err
	}
	for _, item := range s.rfqItems {
		if item.Source == source && equalPtr(item.TrackingNumber, trackingNo) {
			v := *item
			return &v, nil
		}
	}
	return nil, nil
}

func (s *Store) FindRequestById(ctx context.Context, id string) (*aftersales.Rfq, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FindRequestById"); err != nil {
		return nil, err
	}
	if r, ok := s.rfqs[id]; ok {
		v := *r
		return &v, nil
	}
	return nil, nil
}

func (s *Store) FindOrderRequestLink(ctx context.Context, orderId string) (*aftersales.Rfq, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FindOrderRequestLink"); err != nil {
		return nil, err
	}
	for _, l := range s.orderLinks {
		if l.orderId != orderId {
			continue
		}
		if r, ok := s.rfqs[l.rfqId]; ok {
			v := *r
			return &v, nil
		}
	}
	return nil, nil
}

func (s *Store) FindOrdersByRequestId(ctx context.Context, rfqId string) ([]aftersales.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FindOrdersByRequestId"); err != nil {
		return nil, err
	}
	var out []aftersales.Order
	for _, l := range s.orderLinks {
		if l.rfqId != rfqId {
			continue
		}
		if o, ok := s.orders[l.orderId]; ok {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *Store) FindOrderById(ctx context.Context, id string) (*aftersales.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FindOrderById"); err != nil {
		return nil, err
	}
	if o, ok := s.orders[id]; ok {
		v := *o
		return &v, nil
	}
	return nil, nil
}

func (s *Store) RequestHasEcommerceTracking(ctx context.Context, rfqId string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("RequestHasEcommerceTracking"); err != nil {
		return false, err
	}
	for _, item := range s.rfqItems {
		if item.RfqId == rfqId && item.Source == aftersales.ChannelEcommerce &&
			item.TrackingNumber != nil && strings.TrimSpace(*item.TrackingNumber) != "" {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) StoreExists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("StoreExists"); err != nil {
		return false, err
	}
	_, ok := s.stores[id]
	return ok, nil
}

// StoreNames returns names for the ids that exist.
func (s *Store) StoreNames(ctx context.Context, ids []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for _, id := range ids {
		if name, ok := s.stores[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

// UserDirectory

func (s *Store) FindById(ctx context.Context, id string) (*aftersales.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FindById"); err != nil {
		return nil, err
	}
	if u, ok := s.users[id]; ok {
		v := *u
		return &v, nil
	}
	return nil, nil
}

func (s *Store) FindActiveUsersByRole(ctx context.Context, role aftersales.Role) ([]aftersales.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FindActiveUsersByRole"); err != nil {
		return nil, err
	}
	var out []aftersales.User
	for _, u := range s.users {
		if u.Role == role && u.IsActive {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UserNames returns display names for the ids that exist.
func (s *Store) UserNames(ctx context.Context, ids []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out[id] = u.Name
		}
	}
	return out, nil
}

// CaseNumberGenerator

func (s *Store) Next(ctx context.Context, at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("Next"); err != nil {
		return "", err
	}
	if len(s.numberQueue) > 0 {
		n := s.numberQueue[0]
		s.numberQueue = s.numberQueue[1:]
		return n, nil
	}
	day := at.UTC().Format("20060102")
	s.dailySeq[day]++
	return fmt.Sprintf("AS-%s-%04d", day, s.dailySeq[day]), nil
}

// BlobStore

func (s *Store) Put(ctx context.Context, data []byte, meta aftersales.BlobMeta) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("Put"); err != nil {
		return "", err
	}
	key := path.Join(meta.Prefix, uuid.NewString()+strings.ToLower(filepath.Ext(meta.Filename)))
	b := make([]byte, len(data))
	copy(b, data)
	s.blobs[key] = b
	return key, nil
}

func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SignedURL"); err != nil {
		return "", err
	}
	if _, ok := s.blobs[key]; !ok {
		return "", fmt.Errorf("object %s not found", key)
	}
	return fmt.Sprintf("memory://%s?ttl=%d", key, int64(ttl.Seconds())), nil
}

// AttachmentRepo adapts the store to AttachmentRepository; Create and GetById
// would otherwise collide with the case repository methods.
type AttachmentRepo struct {
	s *Store
}

func (r AttachmentRepo) Create(ctx context.Context, a *aftersales.Attachment) (*aftersales.Attachment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("CreateAttachment"); err != nil {
		return nil, err
	}
	v := *a
	r.s.attachments[a.ID] = &v
	r.s.attachOrder = append(r.s.attachOrder, a.ID)
	out := v
	return &out, nil
}

func (r AttachmentRepo) GetById(ctx context.Context, id string) (*aftersales.Attachment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a, ok := r.s.attachments[id]; ok {
		v := *a
		return &v, nil
	}
	return nil, nil
}

func (r AttachmentRepo) ListByCase(ctx context.Context, caseId string) ([]*aftersales.Attachment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*aftersales.Attachment{}
	for _, id := range r.s.attachOrder {
		if a := r.s.attachments[id]; a.CaseId == caseId {
			v := *a
			out = append(out, &v)
		}
	}
	return out, nil
}

func hasStatus(set []aftersales.Status, s aftersales.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func equalPtr(p *string, v string) bool {
	return p != nil && *p == v
}

func stringPtr(s string) *string {
	return &s
}
