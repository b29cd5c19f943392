package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Route struct {
	Name        string
	Method      string
	Pattern     string
	HandlerFunc http.HandlerFunc
}

type Routes []Route

type Router struct {
	router *mux.Router
}

func NewRouter(aa *AccessApplication) *Router {
	routes := Routes{
		Route{"CreateUser", http.MethodPost, "/register", aa.CreateUser},
		Route{"Login", http.MethodPost, "/login", aa.Login},
		Route{"Logout", http.MethodPost, "/logout", aa.Logout},

		Route{"RegisterClient", http.MethodPost, "/clients", aa.RegisterClient},
		Route{"ListClients", http.MethodGet, "/clients", aa.ListClients},
		Route{"ExposeClient", http.MethodPost, "/clients/{id}/exposed", aa.ExposeClient},

		Route{"Authorize", http.MethodPost, "/authorize", aa.Authorize},
		Route{"Token", http.MethodPost, "/token", aa.Token},

		Route{"JwksJson", http.MethodGet, "/jwks.json", aa.JwksJson},
		Route{"JwksJsonIssuer", http.MethodGet, "/jwks/{issuer}", aa.JwksJsonIssuer},

		Route{"GetSubject", http.MethodGet, "/subjects/{id}", aa.GetSubject},
		Route{"SearchSubjects", http.MethodPost, "/subjects/search", aa.SearchSubjects},
		Route{"BulkUpdateSubjects", http.MethodPut, "/subjects", aa.BulkUpdateSubjects},
		Route{"DeleteSubject", http.MethodDelete, "/subjects/{id}", aa.DeleteSubject},

		Route{"SetReaders", http.MethodPut, "/subjects/{id}/accessPolicy/readers", aa.SetReaders},
		Route{"SetUpdaters", http.MethodPut, "/subjects/{id}/accessPolicy/updaters", aa.SetUpdaters},
		Route{"SetDeleters", http.MethodPut, "/subjects/{id}/accessPolicy/deleters", aa.SetDeleters},
		Route{"SetAllReaders", http.MethodPut, "/subjects/{id}/accessPolicy/allReaders", aa.SetAllReaders},
		Route{"SetAllUpdaters", http.MethodPut, "/subjects/{id}/accessPolicy/allUpdaters", aa.SetAllUpdaters},

		Route{"HealthCheck", http.MethodGet, "/health", aa.Health},
	}

	muxRouter := mux.NewRouter().StrictSlash(true)
	muxRouter.Use(PrometheusHttpMiddleware)
	for _, route := range routes {
		muxRouter.
			Methods(route.Method).
			Path(route.Pattern).
			Name(route.Name).
			Handler(route.HandlerFunc)
	}

	muxRouter.Path("/metrics").Handler(promhttp.Handler())

	return &Router{router: muxRouter}
}
