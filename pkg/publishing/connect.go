package publishing

import (
	"errors"
	"log/slog"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"

	"github.com/moonwalker/searchindex/pkg/config"
)

// Connect opens a NATS connection, authenticating with an nkey when one is
// configured, then with a credentials file when it exists.
func Connect(cfg config.NatsConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("searchindex"),
		nats.MaxReconnects(-1),
		nats.ErrorHandler(errorHandler),
		nats.DisconnectErrHandler(disconnectHandler),
		nats.ReconnectHandler(reconnectHandler),
		nats.ClosedHandler(closedHandler),
	}

	if len(cfg.NkeyUser) > 0 && len(cfg.NkeySeed) > 0 {
		opts = append(opts, nats.Nkey(cfg.NkeyUser, signer(cfg.NkeySeed)))
	} else if _, err := os.Stat(cfg.CredentialsPath); cfg.CredentialsPath != "" && err == nil {
		opts = append(opts, nats.UserCredentials(cfg.CredentialsPath))
	}

	return nats.Connect(cfg.URL, opts...)
}

func signer(seed string) nats.SignatureHandler {
	return func(nonce []byte) ([]byte, error) {
		kp, err := nkeys.FromSeed([]byte(seed))
		if err != nil {
			return nil, err
		}
		defer kp.Wipe()
		return kp.Sign(nonce)
	}
}

func errorHandler(nc *nats.Conn, sub *nats.Subscription, err error) {
	slog.Error("nats error", "err", err.Error())

	if errors.Is(err, nats.ErrSlowConsumer) && sub != nil {
		pendingMsgs, pendingBytes, err := sub.Pending()
		if err != nil {
			slog.Error("failed to get pending messages", "err", err.Error())
			return
		}
		slog.Error("falling behind with pending messages",
			"pendingMsgs", pendingMsgs,
			"pendingBytes", pendingBytes,
			"subject", sub.Subject,
		)
	}
}

func disconnectHandler(nc *nats.Conn, err error) {
	if err != nil {
		slog.Warn("nats disconnected", "err", err.Error())
		return
	}
	slog.Debug("nats disconnected")
}

func reconnectHandler(nc *nats.Conn) {
	slog.Info("nats reconnected", "url", nc.ConnectedUrl())
}

func closedHandler(nc *nats.Conn) {
	slog.Debug("nats connection closed")
}
