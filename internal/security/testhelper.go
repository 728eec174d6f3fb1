package security

import "time"

// Test secrets for unit tests only. Do not use in production.
const (
	testAccessSecret  = "test-access-secret-0123456789abcdef"
	testRefreshSecret = "test-refresh-secret-0123456789abcdef"
)

// NewTestTokenIssuer returns an HS256 issuer with fixed test secrets, a 15m access TTL and
// a 7d refresh TTL. now may be nil.
func NewTestTokenIssuer(now func() time.Time) (*TokenIssuer, error) {
	access, err := NewHMACKey([]byte(testAccessSecret))
	if err != nil {
		return nil, err
	}
	refresh, err := NewHMACKey([]byte(testRefreshSecret))
	if err != nil {
		return nil, err
	}
	return NewTokenIssuer(IssuerConfig{
		Issuer:     "test-issuer",
		AccessKey:  access,
		RefreshKey: refresh,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Now:        now,
	})
}
