package server

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusHandler struct {
	App               *AccessApplication
	ClientsRegistered prometheus.Counter
	CodesIssued       prometheus.Counter
	TokensIssued      prometheus.Counter
	TokensRefreshed   prometheus.Counter
	ClientCnt         prometheus.GaugeFunc
}

var (
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "goAccess_http_duration_seconds",
		Help: "Duration of HTTP requests.",
	}, []string{"path"})
)

func PrometheusHttpMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := mux.CurrentRoute(r)
		path, _ := route.GetPathTemplate()
		timer := prometheus.NewTimer(httpDuration.WithLabelValues(path))
		next.ServeHTTP(w, r)
		timer.ObserveDuration()
	})
}

func (aa *AccessApplication) InitializePrometheus() {
	prometheusHandler := PrometheusHandler{
		App: aa,
		ClientsRegistered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "goAccess",
				Subsystem: "protocol",
				Name:      "clients_registered",
				Help:      "Clients registered",
			}),
		CodesIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "goAccess",
				Subsystem: "protocol",
				Name:      "codes_issued",
				Help:      "Authorization codes issued",
			}),
		TokensIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "goAccess",
				Subsystem: "protocol",
				Name:      "tokens_issued",
				Help:      "Access token pairs issued",
			}),
		TokensRefreshed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "goAccess",
				Subsystem: "protocol",
				Name:      "tokens_refreshed",
				Help:      "Access tokens replaced via refresh",
			}),
		ClientCnt: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "goAccess",
				Subsystem: "protocol",
				Name:      "clients_cnt",
				Help:      "Number of registered clients",
			},
			func() float64 {
				clients, err := aa.Provider.ListClients(context.Background())
				if err != nil {
					return 0
				}
				return float64(len(clients))
			}),
	}
	registerCollector(prometheusHandler.ClientsRegistered)
	registerCollector(prometheusHandler.CodesIssued)
	registerCollector(prometheusHandler.TokensIssued)
	registerCollector(prometheusHandler.TokensRefreshed)
	registerCollector(prometheusHandler.ClientCnt)

	aa.Stats = &prometheusHandler
}

func registerCollector(collector prometheus.Collector) {
	err := prometheus.Register(collector)
	if err != nil {
		log.Println("WARNING: instrumentation error:" + err.Error())
	}
}
