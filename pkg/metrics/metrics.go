package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

var (
	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "userstore_database_operations_total",
			Help: "Toplam veritabanı operasyonu sayısı",
		},
		[]string{"operation", "entity", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "userstore_database_operation_duration_seconds",
			Help:    "Veritabanı operasyon süresi (saniye)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "entity"},
	)

	DuplicateUsernameRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "userstore_duplicate_username_total",
			Help: "Kullanıcı adı çakışması nedeniyle reddedilen güncellemeler",
		},
	)

	UsernameLockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "userstore_username_lock_contention_total",
			Help: "Kilit alınamadığı için reddedilen kullanıcı adı işlemleri",
		},
	)
)

func RecordDatabaseOperation(operation, entity string, duration time.Duration, err error) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	DatabaseOperationsTotal.WithLabelValues(operation, entity, status).Inc()
	DatabaseOperationDuration.WithLabelValues(operation, entity).Observe(duration.Seconds())
}

func RecordDuplicateUsername() {
	DuplicateUsernameRejections.Inc()
}

func RecordLockContention() {
	UsernameLockContention.Inc()
}
