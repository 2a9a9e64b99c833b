package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veilstate/veilstate/log"
	"github.com/veilstate/veilstate/runtime"
	stg "github.com/veilstate/veilstate/storage"
)

// ProofVerifier checks a generated proof blob against its public witness.
// The prover backend implements it.
type ProofVerifier interface {
	Verify(proof, publicWitness []byte) error
}

// APIConfig type represents the configuration for the API HTTP server.
// It includes the host, port, the engine and optionally a proof verifier.
type APIConfig struct {
	Host     string
	Port     int
	Engine   *runtime.Engine
	Storage  *stg.Storage  // proof job status and results
	Verifier ProofVerifier // Optional: /proofs/verify is 503 without it
}

// API type represents the API HTTP server.
type API struct {
	router   *chi.Mux
	engine   *runtime.Engine
	storage  *stg.Storage
	verifier ProofVerifier
}

// New creates a new API instance with the given configuration.
// It also initializes the router and starts the HTTP server.
func New(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Engine == nil {
		return nil, fmt.Errorf("missing engine instance")
	}
	if conf.Storage == nil {
		return nil, fmt.Errorf("missing storage instance")
	}
	a := &API{
		engine:   conf.Engine,
		storage:  conf.Storage,
		verifier: conf.Verifier,
	}

	// Initialize router
	a.initRouter()
	go func() {
		log.Infow("Starting API server", "host", conf.Host, "port", conf.Port)
		if err := http.ListenAndServe(fmt.Sprintf("%s:%d", conf.Host, conf.Port), a.router); err != nil {
			log.Fatalf("failed to start the API server: %v", err)
		}
	}()
	return a, nil
}

// Router returns the chi router for testing purposes
func (a *API) Router() *chi.Mux {
	return a.router
}

// registerHandlers registers all the API handlers.
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})
	log.Infow("register handler", "endpoint", InstancesEndpoint, "method", "POST")
	a.router.Post(InstancesEndpoint, a.deployInstance)
	log.Infow("register handler", "endpoint", InstancesEndpoint, "method", "GET")
	a.router.Get(InstancesEndpoint, a.listInstances)
	log.Infow("register handler", "endpoint", InstanceEndpoint, "method", "GET")
	a.router.Get(InstanceEndpoint, a.instanceInfo)
	log.Infow("register handler", "endpoint", InstanceDeltaEndpoint, "method", "GET")
	a.router.Get(InstanceDeltaEndpoint, a.instanceDelta)
	log.Infow("register handler", "endpoint", InstanceVerifyEndpoint, "method", "POST")
	a.router.Post(InstanceVerifyEndpoint, a.verifyAtRoot)
	log.Infow("register handler", "endpoint", CallsEndpoint, "method", "POST")
	a.router.Post(CallsEndpoint, a.submitCall)
	log.Infow("register handler", "endpoint", ProofEndpoint, "method", "GET")
	a.router.Get(ProofEndpoint, a.proofStatus)
	log.Infow("register handler", "endpoint", VerifyProofEndpoint, "method", "POST")
	a.router.Post(VerifyProofEndpoint, a.verifyProof)
	log.Infow("register handler", "endpoint", MetricsEndpoint, "method", "GET")
	a.router.Get(MetricsEndpoint, promhttp.Handler().ServeHTTP)
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	// Create the router with a basic middleware stack
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}).Handler)
	a.router.Use(middleware.Logger)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))
	a.router.Use(middleware.Timeout(45 * time.Second))

	// Register the API handlers
	a.registerHandlers()
}
