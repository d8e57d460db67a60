package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/kislikjeka/pocketflow/pkg/logger"
)

// Header names of the ingestion endpoints
const (
	WebhookSignatureHeader = "X-Webhook-Signature"
	RelaySecretHeader      = "X-Relay-Secret"
)

// Sign returns the hex HMAC-SHA256 of body under secret
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a hex HMAC-SHA256 signature in constant time. An
// optional "sha256=" prefix is accepted.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(Sign(secret, body))
	return hmac.Equal(got, want)
}

// RelaySecret authenticates relay requests by comparing X-Relay-Secret with
// a bcrypt hash. It runs before the body is read. An empty hash disables the
// check, which config validation only allows outside production.
func RelaySecret(hash string, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hash == "" {
				next.ServeHTTP(w, r)
				return
			}

			secret := r.Header.Get(RelaySecretHeader)
			if secret == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) != nil {
				log.WithContext(r.Context()).Warn("relay request rejected", "remote_addr", r.RemoteAddr)
				unauthorized(w, "invalid relay secret")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
