package ton

import (
	"context"
	"fmt"
	"strings"

	"github.com/v-inference/backend/internal/config"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/ton"
	"go.uber.org/zap"
)

// Connect establishes a connection to the TON network.
// If LITE_SERVER_HOST + LITE_SERVER_KEY are set, connects to a specific lite server.
// Otherwise, auto-discovers lite servers from the global TON config based on TON_NETWORK.
func Connect(ctx context.Context, cfg *config.Config, log *zap.Logger) (ton.APIClientWrapped, error) {
	client := liteclient.NewConnectionPool()

	if cfg.LiteServerHost != "" && cfg.LiteServerKey != "" {
		addr := fmt.Sprintf("%s:%d", cfg.LiteServerHost, cfg.LiteServerPort)
		log.Info("connecting to lite server", zap.String("addr", addr))
		if err := client.AddConnection(ctx, addr, cfg.LiteServerKey); err != nil {
			return nil, fmt.Errorf("connect to lite server %s: %w", addr, err)
		}
	} else {
		var configURL string
		switch strings.ToLower(cfg.TONNetwork) {
		case "mainnet":
			configURL = "https://ton.org/global.config.json"
		default:
			configURL = "https://ton.org/testnet-global.config.json"
		}
		log.Info("connecting via global config", zap.String("url", configURL), zap.String("network", cfg.TONNetwork))
		if err := client.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
			return nil, fmt.Errorf("connect via config %s: %w", configURL, err)
		}
	}

	proofPolicy := ton.ProofCheckPolicyFast
	if strings.ToLower(cfg.TONNetwork) == "mainnet" {
		proofPolicy = ton.ProofCheckPolicySecure
	}

	api := ton.NewAPIClient(client, proofPolicy).WithRetry()
	return api, nil
}
