// Package sign produces signed, timestamped parameter sets for
// authenticated venue requests. Signing is a pure function of the
// parameters, the secret, and the supplied clock reading, so identical
// inputs always yield identical signatures.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"venuewire/pkg/core"
)

// Rest signs parameters for a REST call: appends the millisecond
// timestamp, computes an HMAC-SHA256 digest over the canonical query
// string in parameter order, and appends the hex digest as the
// "signature" field. The input list is not modified.
func Rest(params core.ParamList, creds core.Credentials, now time.Time) (core.ParamList, error) {
	if creds.SecretKey == "" {
		return nil, core.NewAPIError(core.ErrorTypeInvalidCredentials, 0, "secret key is empty")
	}

	signed := params.Clone()
	signed = signed.Set("timestamp", now.UnixMilli())
	signed = signed.Set("signature", Digest(signed.Encode(), creds.SecretKey))
	return signed, nil
}

// WS signs parameters for a WebSocket API call. The venue requires the
// API key inside the payload and the signature computed over the
// parameters in ascending key order.
func WS(params core.ParamList, creds core.Credentials, now time.Time) (core.ParamList, error) {
	if creds.SecretKey == "" {
		return nil, core.NewAPIError(core.ErrorTypeInvalidCredentials, 0, "secret key is empty")
	}
	if creds.APIKey == "" {
		return nil, core.NewAPIError(core.ErrorTypeInvalidCredentials, 0, "api key is empty")
	}

	signed := params.Clone()
	signed = signed.Set("apiKey", creds.APIKey)
	signed = signed.Set("timestamp", now.UnixMilli())
	sort.SliceStable(signed, func(i, j int) bool {
		return signed[i].Key < signed[j].Key
	})
	signed = signed.Set("signature", Digest(signed.Encode(), creds.SecretKey))
	return signed, nil
}

// Digest returns the hex-encoded HMAC-SHA256 of message under secret.
func Digest(message, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}
