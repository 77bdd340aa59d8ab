package app

import (
	"fmt"
	"os"

	"chatrelay/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, CHATRELAY_DB_PATH env, or storage.db_path in config")
	}

	if eff.Config.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret is empty: set it in config or CHATRELAY_JWT_SECRET env")
	}

	cert := eff.Config.Server.TLS.CertFile
	key := eff.Config.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	d := eff.Config.Delivery
	if d.MaxPollTimeout.Duration() < d.DefaultPollTimeout.Duration() {
		return fmt.Errorf("delivery.max_poll_timeout (%s) is below delivery.default_poll_timeout (%s)",
			d.MaxPollTimeout.Duration(), d.DefaultPollTimeout.Duration())
	}
	return nil
}
