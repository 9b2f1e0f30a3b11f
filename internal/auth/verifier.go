// Package auth verifies the bearer tokens presented to the allocation API
// and resolves them to a tenant and a planning role.
package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// Roles understood by the allocation API. Anything else a token carries is
// demoted to viewer.
const (
	RoleAdmin   = "admin"
	RolePlanner = "planner"
	RoleViewer  = "viewer"
)

// clockLeeway absorbs clock skew when checking exp and nbf.
const clockLeeway = 30 * time.Second

// Principal is the authenticated caller: the tenant whose scenarios and
// allocations it may touch, and its role within that tenant.
type Principal struct {
	Tenant string
	Role   string
}

// Verifier resolves bearer tokens to principals. Three modes:
//
//	dev  — the token is "tenant:role", no cryptography (local development)
//	hmac — HS256 JWT against a shared secret
//	jwks — RS256 JWT against keys fetched from a JWKS endpoint
type Verifier struct {
	Mode        string
	HMACSecret  []byte
	JWKSURL     string
	TenantClaim string
	RoleClaim   string

	client *http.Client
	now    func() time.Time

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
	keyTTL  time.Duration
}

// NewVerifierFromEnv builds a Verifier from AUTH_MODE, AUTH_HMAC_SECRET,
// AUTH_JWKS_URL, and the optional AUTH_TENANT_CLAIM / AUTH_ROLE_CLAIM
// overrides. An unset mode means dev.
func NewVerifierFromEnv() *Verifier {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv("AUTH_MODE")))
	if mode == "" {
		mode = "dev"
	}
	return &Verifier{
		Mode:        mode,
		HMACSecret:  []byte(os.Getenv("AUTH_HMAC_SECRET")),
		JWKSURL:     os.Getenv("AUTH_JWKS_URL"),
		TenantClaim: envOr("AUTH_TENANT_CLAIM", "tenant"),
		RoleClaim:   envOr("AUTH_ROLE_CLAIM", "role"),
		client:      &http.Client{Timeout: 5 * time.Second},
		now:         time.Now,
		keyTTL:      10 * time.Minute,
	}
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

// Verify resolves a token to a Principal or reports why it cannot.
func (v *Verifier) Verify(token string) (Principal, error) {
	if v.Mode == "dev" {
		tenant, role, ok := strings.Cut(token, ":")
		if !ok || tenant == "" {
			return Principal{}, errors.New("dev token must be tenant:role")
		}
		return Principal{Tenant: tenant, Role: normalizeRole(role)}, nil
	}

	_, payload, err := v.verifySignature(token)
	if err != nil {
		return Principal{}, err
	}
	return v.principalFrom(payload)
}

type jwtHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

func (v *Verifier) verifySignature(token string) (jwtHeader, []byte, error) {
	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return jwtHeader{}, nil, errors.New("token is not a JWT")
	}
	headerJSON, err := base64.RawURLEncoding.DecodeString(segs[0])
	if err != nil {
		return jwtHeader{}, nil, fmt.Errorf("token header: %w", err)
	}
	payload, err := base64.RawURLEncoding.DecodeString(segs[1])
	if err != nil {
		return jwtHeader{}, nil, fmt.Errorf("token payload: %w", err)
	}
	sig, err := base64.RawURLEncoding.DecodeString(segs[2])
	if err != nil {
		return jwtHeader{}, nil, fmt.Errorf("token signature: %w", err)
	}
	var hdr jwtHeader
	if err := json.Unmarshal(headerJSON, &hdr); err != nil {
		return jwtHeader{}, nil, fmt.Errorf("token header: %w", err)
	}

	signed := []byte(segs[0] + "." + segs[1])
	switch v.Mode {
	case "hmac":
		if hdr.Alg != "HS256" {
			return jwtHeader{}, nil, fmt.Errorf("alg %q not allowed in hmac mode", hdr.Alg)
		}
		mac := hmac.New(sha256.New, v.HMACSecret)
		mac.Write(signed)
		if !hmac.Equal(mac.Sum(nil), sig) {
			return jwtHeader{}, nil, errors.New("signature mismatch")
		}
	case "jwks":
		if hdr.Alg != "RS256" {
			return jwtHeader{}, nil, fmt.Errorf("alg %q not allowed in jwks mode", hdr.Alg)
		}
		pub, err := v.publicKey(hdr.Kid)
		if err != nil {
			return jwtHeader{}, nil, err
		}
		sum := sha256.Sum256(signed)
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, sum[:], sig); err != nil {
			return jwtHeader{}, nil, errors.New("signature mismatch")
		}
	default:
		return jwtHeader{}, nil, fmt.Errorf("unsupported auth mode %q", v.Mode)
	}
	return hdr, payload, nil
}

// principalFrom checks the time claims and extracts tenant and role. Tokens
// without exp or nbf pass the respective check.
func (v *Verifier) principalFrom(payload []byte) (Principal, error) {
	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Principal{}, fmt.Errorf("token claims: %w", err)
	}
	now := v.now()
	if exp, ok := numClaim(claims, "exp"); ok && now.After(time.Unix(exp, 0).Add(clockLeeway)) {
		return Principal{}, errors.New("token expired")
	}
	if nbf, ok := numClaim(claims, "nbf"); ok && now.Add(clockLeeway).Before(time.Unix(nbf, 0)) {
		return Principal{}, errors.New("token not yet valid")
	}
	tenant, _ := claims[v.TenantClaim].(string)
	if tenant == "" {
		return Principal{}, fmt.Errorf("missing %s claim", v.TenantClaim)
	}
	role, _ := claims[v.RoleClaim].(string)
	return Principal{Tenant: tenant, Role: normalizeRole(role)}, nil
}

func numClaim(claims map[string]any, name string) (int64, bool) {
	f, ok := claims[name].(float64)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// normalizeRole maps a token role onto the API's role set. Unknown or empty
// roles fall back to read-only access.
func normalizeRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleAdmin:
		return RoleAdmin
	case RolePlanner:
		return RolePlanner
	default:
		return RoleViewer
	}
}

// publicKey returns the cached RSA key for kid, refreshing the JWKS when the
// cache is cold, stale, or does not know the kid.
func (v *Verifier) publicKey(kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key := v.keys[kid]
	stale := v.now().Sub(v.fetched) > v.keyTTL
	v.mu.RUnlock()
	if key != nil && !stale {
		return key, nil
	}
	if err := v.refreshKeys(); err != nil {
		if key != nil {
			// A stale key beats an unreachable endpoint.
			return key, nil
		}
		return nil, err
	}
	v.mu.RLock()
	key = v.keys[kid]
	v.mu.RUnlock()
	if key == nil {
		return nil, fmt.Errorf("no JWKS key for kid %q", kid)
	}
	return key, nil
}

func (v *Verifier) refreshKeys() error {
	if v.JWKSURL == "" {
		return errors.New("AUTH_JWKS_URL not set")
	}
	resp, err := v.client.Get(v.JWKSURL)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks fetch: %s", resp.Status)
	}
	var doc struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return err
	}
	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if !strings.EqualFold(k.Kty, "RSA") {
			continue
		}
		nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			continue
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			continue
		}
		e := 0
		for _, b := range eBytes {
			e = e<<8 | int(b)
		}
		keys[k.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}
	}
	v.mu.Lock()
	v.keys = keys
	v.fetched = v.now()
	v.mu.Unlock()
	return nil
}
