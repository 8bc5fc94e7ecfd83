package core

// SecurityType classifies the authentication an endpoint requires.
type SecurityType int

// Security type constants mirror the venue's endpoint security classes.
const (
	// SecurityNone marks public endpoints that need no credentials.
	SecurityNone SecurityType = iota
	// SecurityTrade marks signed endpoints that place or cancel orders.
	SecurityTrade
	// SecurityUserData marks signed endpoints that read private account state.
	SecurityUserData
	// SecurityUserStream marks API-key-only endpoints managing stream lifecycles.
	SecurityUserStream
	// SecurityMarketData marks API-key-only endpoints for historical market reads.
	SecurityMarketData
)

// String returns the string representation of the security type.
func (s SecurityType) String() string {
	return [...]string{
		"NONE",
		"TRADE",
		"USER_DATA",
		"USER_STREAM",
		"MARKET_DATA",
	}[s]
}

// RequiresSignature reports whether requests of this security type must
// carry a timestamp and an HMAC signature.
func (s SecurityType) RequiresSignature() bool {
	return s == SecurityTrade || s == SecurityUserData
}

// RequiresAPIKey reports whether requests of this security type must
// present the API key.
func (s SecurityType) RequiresAPIKey() bool {
	return s != SecurityNone
}

// MarshalJSON implements json.Marshaler for SecurityType.
func (s SecurityType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for SecurityType.
func (s *SecurityType) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"NONE"`:
		*s = SecurityNone
	case `"TRADE"`:
		*s = SecurityTrade
	case `"USER_DATA"`:
		*s = SecurityUserData
	case `"USER_STREAM"`:
		*s = SecurityUserStream
	case `"MARKET_DATA"`:
		*s = SecurityMarketData
	}
	return nil
}
