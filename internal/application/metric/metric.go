package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP метрики - количество запросов
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Общее количество HTTP запросов",
		},
		[]string{"method", "endpoint", "status"},
	)

	// HTTP метрики - время обработки запросов
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Время обработки HTTP запросов в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	// HTTP метрики - количество ошибок
	httpErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Общее количество HTTP ошибок",
		},
		[]string{"method", "endpoint", "status"},
	)

	// WS метрики - количество активных соединений
	wsActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Количество активных WebSocket соединений",
		},
	)

	roomDeltasTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "room_deltas_total",
			Help: "Количество выпущенных (сервер) или примененных (клиент) дельт",
		},
		[]string{"kind"},
	)

	roomGapBackfillsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "room_gap_backfills_total",
			Help: "Количество дозапросов пропущенных дельт",
		},
		[]string{"result"},
	)

	negotiationStepFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "negotiation_step_failures_total",
			Help: "Количество неудачных шагов SDP/ICE",
		},
		[]string{"step"},
	)

	negotiationGlareDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "negotiation_glare_dropped_total",
			Help: "Количество офферов, отброшенных impolite стороной",
		},
	)

	rtpPacketsReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rtp_packets_received_total",
			Help: "Количество RTP пакетов, вычитанных из удаленных треков",
		},
	)
)

// RecordHTTPMetrics записывает метрики HTTP запроса
func RecordHTTPMetrics(method, endpoint string, status int, duration time.Duration) {
	strStatus := strconv.Itoa(status)

	httpRequestsTotal.WithLabelValues(method, endpoint, strStatus).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, strStatus).Observe(duration.Seconds())

	// Записываем ошибки (статус >= 400)
	if status >= 400 {
		httpErrorsTotal.WithLabelValues(method, endpoint, strStatus).Inc()
	}
}

func IncrementWSActiveConnections() {
	wsActiveConnections.Inc()
}

func DecrementWSActiveConnections() {
	wsActiveConnections.Dec()
}

func RecordDelta(kind string) {
	roomDeltasTotal.WithLabelValues(kind).Inc()
}

func RecordBackfill(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}

	roomGapBackfillsTotal.WithLabelValues(result).Inc()
}

func RecordNegotiationFailure(step string) {
	negotiationStepFailuresTotal.WithLabelValues(step).Inc()
}

func RecordGlareDropped() {
	negotiationGlareDroppedTotal.Inc()
}

func RecordRTPReceived() {
	rtpPacketsReceivedTotal.Inc()
}
