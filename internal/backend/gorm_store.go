package backend

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"agrosensorhub.dev/hub/pkg/metrics"
)

// ErrDuplicateKey is returned by stores when an insert violates a unique key.
var ErrDuplicateKey = errors.New("duplicate key")

// gormStore is embedded by every gorm-backed store.
type gormStore struct {
	db      *gorm.DB
	metrics *metrics.BackendMetrics // Optional metrics
}

// track starts timing a database operation. The returned func records the outcome.
func (s gormStore) track(operation, table string) func(err error) {
	if s.metrics == nil {
		return func(error) {}
	}

	timer := prometheus.NewTimer(s.metrics.DBOperationDuration.WithLabelValues(operation, table))
	return func(err error) {
		timer.ObserveDuration()
		status := "success"
		if err != nil && !errors.Is(err, ErrRecordNotFound) {
			status = "error"
		}
		s.metrics.DBOperationsTotal.WithLabelValues(operation, table, status).Inc()
	}
}

// translate maps gorm sentinel errors onto the store contract.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrRecordNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateKey
	default:
		return err
	}
}

// NewGormStores returns stores backed by db.
func NewGormStores(db *gorm.DB, m *metrics.BackendMetrics) Stores {
	base := gormStore{db: db, metrics: m}
	return Stores{
		Devices:          &GormDeviceStore{gormStore: base},
		SensorActivities: &GormSensorActivityStore{gormStore: base},
		Notifications:    &GormNotificationStore{gormStore: base},
	}
}

// GormTransactor runs units of work inside a gorm transaction.
type GormTransactor struct {
	db      *gorm.DB
	metrics *metrics.BackendMetrics
}

// NewGormTransactor creates a Transactor over db.
func NewGormTransactor(db *gorm.DB, m *metrics.BackendMetrics) *GormTransactor {
	return &GormTransactor{db: db, metrics: m}
}

// WithinTx implements Transactor.
func (t *GormTransactor) WithinTx(ctx context.Context, fn func(stores Stores) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewGormStores(tx, t.metrics))
	})
}
