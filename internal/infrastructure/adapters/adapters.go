// Package adapters builds the vendor adapters enabled in configuration.
package adapters

import (
	"fmt"
	"log"

	"finlink/internal/domain/provider"
	"finlink/internal/infrastructure/enablebanking"
	"finlink/internal/infrastructure/saltedge"
	"finlink/internal/infrastructure/snaptrade"
	"finlink/internal/infrastructure/teller"
	"finlink/internal/infrastructure/vezgo"
	"finlink/internal/shared/config"
)

// Build creates one adapter per provider whose credentials are configured.
// stateSecret signs connect state for vendors that round-trip it through a redirect.
func Build(cfg config.ProvidersConfig, stateSecret string) (provider.Directory, error) {
	var adapters []provider.Adapter

	if cfg.SaltEdge.Enabled() {
		c := saltedge.Config{
			AppID:         cfg.SaltEdge.AppID,
			Secret:        cfg.SaltEdge.Secret,
			CallbackURL:   cfg.SaltEdge.CallbackURL,
			Timeout:       cfg.Timeout,
			RatePerSecond: cfg.RatePerSecond,
		}
		if cfg.SaltEdge.PublicKeyPath != "" {
			key, err := saltedge.LoadPublicKey(cfg.SaltEdge.PublicKeyPath)
			if err != nil {
				return nil, err
			}
			c.PublicKey = key
		} else {
			log.Println("WARNING: SALTEDGE_PUBLIC_KEY_PATH not set, Salt Edge callbacks will be rejected")
		}
		adapters = append(adapters, saltedge.New(c))
	}

	if cfg.SnapTrade.Enabled() {
		adapters = append(adapters, snaptrade.New(snaptrade.Config{
			ClientID:      cfg.SnapTrade.ClientID,
			ConsumerKey:   cfg.SnapTrade.ConsumerKey,
			WebhookSecret: cfg.SnapTrade.WebhookSecret,
			Timeout:       cfg.Timeout,
			RatePerSecond: cfg.RatePerSecond,
		}))
	}

	if cfg.Vezgo.Enabled() {
		adapters = append(adapters, vezgo.New(vezgo.Config{
			ClientID:      cfg.Vezgo.ClientID,
			Secret:        cfg.Vezgo.Secret,
			Timeout:       cfg.Timeout,
			RatePerSecond: cfg.RatePerSecond,
		}))
	}

	if cfg.EnableBanking.Enabled() {
		key, err := enablebanking.LoadPrivateKey(cfg.EnableBanking.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, enablebanking.New(enablebanking.Config{
			AppID:         cfg.EnableBanking.AppID,
			PrivateKey:    key,
			StateSecret:   stateSecret,
			Timeout:       cfg.Timeout,
			RatePerSecond: cfg.RatePerSecond,
		}))
	}

	if cfg.Teller.Enabled() {
		c := teller.Config{
			ApplicationID: cfg.Teller.ApplicationID,
			SigningSecret: cfg.Teller.SigningSecret,
			Environment:   cfg.Teller.Environment,
			Timeout:       cfg.Timeout,
			RatePerSecond: cfg.RatePerSecond,
		}
		if cfg.Teller.CertPath != "" {
			cert, err := teller.LoadCertificate(cfg.Teller.CertPath, cfg.Teller.KeyPath)
			if err != nil {
				return nil, err
			}
			c.Certificate = cert
		}
		adapters = append(adapters, teller.New(c))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	dir := provider.NewDirectory(adapters...)
	log.Printf("Providers enabled: %v", dir.Names())
	return dir, nil
}
