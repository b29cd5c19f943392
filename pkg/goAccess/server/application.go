package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"

	"github.com/i2-open/i2goAccess/config"
	"github.com/i2-open/i2goAccess/internal/authFlow"
	"github.com/i2-open/i2goAccess/internal/authUtil"
	"github.com/i2-open/i2goAccess/internal/providers/dbProviders"
	"github.com/i2-open/i2goAccess/internal/subjectAccess"
)

var serverLog = log.New(os.Stdout, "SERVER: ", log.Ldate|log.Ltime)

type AccessApplication struct {
	Provider  dbProviders.AccessProviderInterface
	Server    *http.Server
	Handler   http.Handler
	BaseUrl   *url.URL
	HostName  string
	DefIssuer string
	Auth      *authUtil.AuthIssuer
	Flow      *authFlow.AuthService
	Access    *subjectAccess.SubjectService
	Stats     *PrometheusHandler
}

func (aa *AccessApplication) Name() string {
	if aa.Provider != nil {
		return aa.Provider.Name()
	}
	return "goAccess"
}

func (aa *AccessApplication) HealthCheck() bool {
	err := aa.Provider.Check()
	if err != nil {
		serverLog.Println("Provider ping failed: " + err.Error())
		return false
	}
	return true
}

func NewApplication(provider dbProviders.AccessProviderInterface, cfg config.Config) *AccessApplication {
	aa := &AccessApplication{
		Provider:  provider,
		Auth:      provider.GetAuthIssuer(),
		Flow:      authFlow.NewAuthService(provider, cfg.HashAlg),
		Access:    subjectAccess.NewSubjectService(provider, cfg.HashAlg),
		DefIssuer: cfg.Issuer,
	}

	httpRouter := NewRouter(aa)
	// expose the handler for external server usage (e.g., httptest.Server)
	aa.Handler = httpRouter.router

	var baseUrl *url.URL
	var err error
	if cfg.BaseUrl != "" {
		baseUrl, err = url.Parse(cfg.BaseUrl)
		if err != nil {
			serverLog.Println(fmt.Sprintf("FATAL: Invalid BaseUrl[%s]: %s", cfg.BaseUrl, err.Error()))
		}
	}
	aa.BaseUrl = baseUrl

	aa.InitializePrometheus()

	serverLog.Printf("Selected issuer id: %s", aa.DefIssuer)
	return aa
}

// StartServer creates a real net/http server wrapping the application handler.
// This is used for production binaries. Tests can instead use NewApplication + httptest.Server.
func StartServer(addr string, provider dbProviders.AccessProviderInterface, cfg config.Config) *AccessApplication {
	aa := NewApplication(provider, cfg)
	server := http.Server{
		Addr:    addr,
		Handler: aa.Handler,
	}
	aa.Server = &server
	if aa.BaseUrl == nil {
		baseUrl, _ := url.Parse("http://" + server.Addr + "/")
		aa.BaseUrl = baseUrl
	}
	aa.HostName = aa.BaseUrl.Host
	serverLog.Printf("ServerUrl[%s] listening on %s", provider.Name(), addr)
	return aa
}

func (aa *AccessApplication) Shutdown() {
	name := aa.Provider.Name()
	serverLog.Printf("[%s] Shutdown initiated...", name)

	if aa.Server != nil {
		_ = aa.Server.Shutdown(context.Background())
	}

	_ = aa.Provider.Close()

	serverLog.Printf("[%s] Shutdown Complete.", name)
}
