package backend

import (
	"context"
	"errors"
	"time"
)

// ErrRecordNotFound is returned by stores when a single-row lookup matches nothing.
var ErrRecordNotFound = errors.New("record not found")

// ActivityFilter selects a page of sensor activities. Start and End are
// inclusive bounds on the creation time.
type ActivityFilter struct {
	Start *time.Time
	End   *time.Time
	Skip  int
	Limit int
}

// Page is an offset/limit window.
type Page struct {
	Skip  int
	Limit int
}

// DeviceStore persists devices.
type DeviceStore interface {
	Create(ctx context.Context, device *Device) error
	Update(ctx context.Context, device *Device) error
	// Get returns ErrRecordNotFound when mac is unknown.
	Get(ctx context.Context, mac string) (*Device, error)
	// List returns every device ordered by name.
	List(ctx context.Context) ([]Device, error)
	// Ensure inserts a device named name if mac is unknown, then returns the
	// stored row locked for the rest of the transaction.
	Ensure(ctx context.Context, mac, name string) (*Device, error)
}

// SensorActivityStore persists sensor activities.
type SensorActivityStore interface {
	Create(ctx context.Context, activity *SensorActivity) error
	// List returns activities newest first.
	List(ctx context.Context, filter ActivityFilter) ([]SensorActivity, error)
	// Get returns ErrRecordNotFound when id is unknown.
	Get(ctx context.Context, id uint) (*SensorActivity, error)
	// LatestByDevice returns ErrRecordNotFound when the device has no activity.
	LatestByDevice(ctx context.Context, mac string) (*SensorActivity, error)
	// LatestPerDevice returns the newest activity of every device that has
	// one, with Device loaded, newest first.
	LatestPerDevice(ctx context.Context) ([]SensorActivity, error)
}

// NotificationStore persists notifications.
type NotificationStore interface {
	Create(ctx context.Context, notification *Notification) error
	// Unread returns unread notifications newest first.
	Unread(ctx context.Context, limit int) ([]Notification, error)
	List(ctx context.Context, page Page) ([]Notification, error)
	ListByDevice(ctx context.Context, mac string, page Page) ([]Notification, error)
	// SetRead returns ErrRecordNotFound when id is unknown.
	SetRead(ctx context.Context, id uint, isRead bool) (*Notification, error)
}

// Stores groups the stores bound to one unit of work.
type Stores struct {
	Devices          DeviceStore
	SensorActivities SensorActivityStore
	Notifications    NotificationStore
}

// Transactor runs fn against stores that share a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(stores Stores) error) error
}
