package core

import "time"

// RateLimitType identifies which venue budget a request draws from.
type RateLimitType int

// Rate limit type constants match the venue's rateLimitType values.
const (
	// LimitRequestWeight is the general weighted request budget.
	LimitRequestWeight RateLimitType = iota
	// LimitOrders is the order placement budget.
	LimitOrders
	// LimitRawRequests is the unweighted per-connection request budget.
	LimitRawRequests
)

// String returns the venue's wire name for the limit type.
func (t RateLimitType) String() string {
	return [...]string{
		"REQUEST_WEIGHT",
		"ORDERS",
		"RAW_REQUESTS",
	}[t]
}

// MarshalJSON implements json.Marshaler for RateLimitType.
func (t RateLimitType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for RateLimitType.
func (t *RateLimitType) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"REQUEST_WEIGHT"`:
		*t = LimitRequestWeight
	case `"ORDERS"`:
		*t = LimitOrders
	case `"RAW_REQUESTS"`, `"RAW_REQUEST"`:
		*t = LimitRawRequests
	}
	return nil
}

// RateLimitInterval is the window unit a rate limit budget resets on.
type RateLimitInterval int

// Interval constants match the venue's interval values.
const (
	IntervalSecond RateLimitInterval = iota
	IntervalMinute
	IntervalDay
)

// String returns the venue's wire name for the interval.
func (i RateLimitInterval) String() string {
	return [...]string{"SECOND", "MINUTE", "DAY"}[i]
}

// Duration returns the length of one interval unit.
func (i RateLimitInterval) Duration() time.Duration {
	return [...]time.Duration{time.Second, time.Minute, 24 * time.Hour}[i]
}

// MarshalJSON implements json.Marshaler for RateLimitInterval.
func (i RateLimitInterval) MarshalJSON() ([]byte, error) {
	return []byte(`"` + i.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for RateLimitInterval.
func (i *RateLimitInterval) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"SECOND"`:
		*i = IntervalSecond
	case `"MINUTE"`:
		*i = IntervalMinute
	case `"DAY"`:
		*i = IntervalDay
	}
	return nil
}

// RateLimit describes one venue budget: its type, window, and ceiling.
// Count carries current usage when reported back by the venue.
type RateLimit struct {
	Type        RateLimitType     `json:"rateLimitType"`
	Interval    RateLimitInterval `json:"interval"`
	IntervalNum int               `json:"intervalNum"`
	Limit       int               `json:"limit"`
	Count       int               `json:"count,omitempty"`
}

// Window returns the full window duration for this limit.
func (r RateLimit) Window() time.Duration {
	n := r.IntervalNum
	if n <= 0 {
		n = 1
	}
	return time.Duration(n) * r.Interval.Duration()
}

// DefaultRateLimits returns the venue's published spot API budgets.
// Callers with fresher exchangeInfo data should supply their own set.
func DefaultRateLimits() []RateLimit {
	return []RateLimit{
		{Type: LimitRequestWeight, Interval: IntervalMinute, IntervalNum: 1, Limit: 1200},
		{Type: LimitOrders, Interval: IntervalSecond, IntervalNum: 10, Limit: 50},
		{Type: LimitOrders, Interval: IntervalDay, IntervalNum: 1, Limit: 160000},
		{Type: LimitRawRequests, Interval: IntervalMinute, IntervalNum: 5, Limit: 6100},
	}
}
