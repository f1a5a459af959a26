// Package tls builds the admin server's TLS configuration.
//
// The server certificate is served through a Reloader, which watches the
// certificate and key files with fsnotify and swaps in the new pair once
// both parse and match. A renewal that writes the two files one after the
// other therefore fails to load once, keeps the previous pair, and
// succeeds on the second write.
//
//	certs, err := tls.NewReloader(cfg.CertFile, cfg.KeyFile, logger)
//	if err != nil {
//		return err
//	}
//	go certs.Watch(ctx)
//	serverTLS, err := tls.NewServerConfig(&cfg, certs)
//
// With a client CA configured, ClientIdentity names the verified client
// certificate of a request.
package tls
