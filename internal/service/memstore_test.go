package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/bagstore/internal/model"
	"github.com/mmeshcher/bagstore/internal/repository"
)

// memStore хранит данные в памяти и повторяет семантику PostgresRepository:
// уникальность номера заказа, CAS по статусу и каскад статуса на позиции.
type memStore struct {
	mu sync.Mutex

	nextID        int64
	orders        map[int64]*model.Order
	receipts      map[string]*model.Receipt
	points        map[int64]int64
	activity      []model.Activity
	disabled      map[int64]bool
	notifications []model.Notification
	reviews       []model.Review

	createErr  error
	awardErr   error
	notifyErr  error
	updateErr  error
	transition int
}

func newMemStore() *memStore {
	return &memStore{
		orders:   make(map[int64]*model.Order),
		receipts: make(map[string]*model.Receipt),
		points:   make(map[int64]int64),
		disabled: make(map[int64]bool),
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) Close() error { return nil }

func (m *memStore) CreateOrder(_ context.Context, o *model.Order) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return 0, m.createErr
	}
	for _, existing := range m.orders {
		if existing.UserID == o.UserID && existing.Number == o.Number {
			return 0, repository.ErrOrderExists
		}
	}

	cp := *o
	cp.ID = m.id()
	cp.Items = append([]model.OrderItem(nil), o.Items...)
	for i := range cp.Items {
		cp.Items[i].ID = m.id()
		cp.Items[i].OrderID = cp.ID
	}
	m.orders[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memStore) FindOrder(_ context.Context, userID, orderID int64) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok || o.UserID != userID {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	cp.Items = append([]model.OrderItem(nil), o.Items...)
	return &cp, nil
}

func (m *memStore) FindOrderIDByNumber(_ context.Context, userID int64, number string) (*int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.orders {
		if o.UserID == userID && o.Number == number {
			id := o.ID
			return &id, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListOrders(_ context.Context, userID int64) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			cp := *o
			cp.Items = append([]model.OrderItem(nil), o.Items...)
			res = append(res, cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

func (m *memStore) ListTransitionCandidates(_ context.Context, shipCutoff, deliverCutoff time.Time, limit int) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Order
	for _, o := range m.orders {
		switch {
		case o.Status == model.OrderStatusProcessing && !o.CreatedAt.After(shipCutoff):
			res = append(res, *o)
		case o.Status == model.OrderStatusShipped && o.ShippedAt != nil && !o.ShippedAt.After(deliverCutoff):
			res = append(res, *o)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (m *memStore) TransitionOrder(_ context.Context, t model.Transition, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return false, m.updateErr
	}

	o, ok := m.orders[t.OrderID]
	if !ok || o.Status != t.From || (t.UserID != 0 && o.UserID != t.UserID) {
		return false, nil
	}

	o.Status = t.To
	o.StatusUpdatedAt = now
	switch t.To {
	case model.OrderStatusShipped:
		at := now
		o.ShippedAt = &at
	case model.OrderStatusDelivered:
		at := now
		o.DeliveredAt = &at
	}
	for i := range o.Items {
		o.Items[i].Status = t.To
	}
	m.transition++
	return true, nil
}

func receiptKey(userID int64, number string) string {
	return fmt.Sprintf("%d/%s", userID, number)
}

func (m *memStore) FindReceipt(_ context.Context, userID int64, orderNumber string) (*model.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rc, ok := m.receipts[receiptKey(userID, orderNumber)]
	if !ok {
		return nil, repository.ErrReceiptNotFound
	}
	cp := *rc
	return &cp, nil
}

func (m *memStore) InsertReceipt(_ context.Context, rc *model.Receipt) (*model.Receipt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := receiptKey(rc.UserID, rc.OrderNumber)
	if existing, ok := m.receipts[key]; ok {
		cp := *existing
		return &cp, true, nil
	}
	cp := *rc
	cp.ID = m.id()
	m.receipts[key] = &cp
	out := cp
	return &out, false, nil
}

func (m *memStore) AwardPoints(_ context.Context, userID int64, points int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.awardErr != nil {
		return m.awardErr
	}
	m.points[userID] += points
	return nil
}

func (m *memStore) GetPoints(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.points[userID], nil
}

func (m *memStore) AppendActivity(_ context.Context, a model.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a.ID = m.id()
	m.activity = append(m.activity, a)
	return nil
}

func (m *memStore) ListActivity(_ context.Context, userID int64, limit int) ([]model.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Activity
	for i := len(m.activity) - 1; i >= 0 && len(res) < limit; i-- {
		if m.activity[i].UserID == userID {
			res = append(res, m.activity[i])
		}
	}
	return res, nil
}

func (m *memStore) CreateReview(_ context.Context, rv model.Review) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rv.ID = m.id()
	m.reviews = append(m.reviews, rv)
	return rv.ID, nil
}

func (m *memStore) IsNotificationEnabled(_ context.Context, userID int64, _ model.NotificationType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.disabled[userID], nil
}

func (m *memStore) CreateNotification(_ context.Context, n model.Notification) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.notifyErr != nil {
		return 0, m.notifyErr
	}
	n.ID = m.id()
	m.notifications = append(m.notifications, n)
	return n.ID, nil
}

func (m *memStore) ListNotifications(_ context.Context, userID int64, limit int) ([]model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Notification
	for i := len(m.notifications) - 1; i >= 0 && len(res) < limit; i-- {
		if m.notifications[i].UserID == userID {
			res = append(res, m.notifications[i])
		}
	}
	return res, nil
}

// deleteOrder имитирует удаление заказа, после которого чек остаётся без ссылки.
func (m *memStore) deleteOrder(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders, id)
}

func (m *memStore) order(id int64) model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.orders[id]
	cp.Items = append([]model.OrderItem(nil), m.orders[id].Items...)
	return cp
}

var errStorage = errors.New("storage unavailable")
