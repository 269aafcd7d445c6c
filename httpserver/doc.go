/*
Package httpserver hosts HTTP route groups behind a shared chi router with
structured access logs, health endpoints and drain support.

It serves the fee payer endpoint in cmd/payerserver:

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
	    ListenAddr:               ":8080",
	    Log:                      log,
	    DrainDuration:            5 * time.Second,
	    GracefulShutdownDuration: 30 * time.Second,
	}, payerhandler.NewHandler(...))
	srv.RunInBackground()
	defer srv.Shutdown()

# Health Endpoints

  - GET /livez - always 200 while the process runs
  - GET /readyz - 200 unless drained
  - GET /drain, GET /undrain - toggle readiness for load balancer rotation
*/
package httpserver
