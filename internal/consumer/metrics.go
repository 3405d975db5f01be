package consumer

import "github.com/prometheus/client_golang/prometheus"

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coaching_service",
		Subsystem: "consumer",
		Name:      "events_processed_total",
		Help:      "Number of trigger events successfully handled and committed.",
	}, []string{"event_type"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coaching_service",
		Subsystem: "consumer",
		Name:      "handler_errors_total",
		Help:      "Number of handler failures; the message is redelivered.",
	}, []string{"event_type"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coaching_service",
		Subsystem: "consumer",
		Name:      "decode_errors_total",
		Help:      "Number of messages that could not be decoded and were skipped.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(processedCounter, handlerErrorCounter, decodeErrorCounter)
}

func recordProcessed(msg Message) {
	processedCounter.WithLabelValues(msg.EventType).Inc()
}

func recordHandlerError(msg Message) {
	handlerErrorCounter.WithLabelValues(msg.EventType).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}
