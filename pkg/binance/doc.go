// Package binance is the spot connectivity entry point. It wires the
// signing, rate limiting, correlation, and reconnection machinery into
// one client speaking both the REST API and the WebSocket API.
//
// The package includes:
//   - Client: typed spot API operations over a shared rate limiter
//   - Endpoint constructors: request specs carrying weight and security class
//   - UserStream: listen key lifecycle for the account event stream
//
// Example usage:
//
//	cfg := binance.NewConfig().WithCredentials(&core.Credentials{APIKey: key, SecretKey: secret})
//	client, err := binance.New(cfg)
//	ticker, err := client.Ticker24h(ctx, "BTCUSDT")
package binance
