package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"ferry/internal/logging"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Webhook-Signature"

// Sign returns the signature a sender must attach for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// signatureMiddleware rejects requests whose body signature is absent or wrong.
// An empty secret disables the check. The body is restored for next.
func (s *Server) signatureMiddleware(secret string, next http.HandlerFunc) http.HandlerFunc {
	if secret == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next(w, r)
			return
		}
		signature := r.Header.Get(SignatureHeader)
		if strings.TrimSpace(signature) == "" {
			logging.WarnWithContext(s.log(), "unsigned webhook request rejected", "webhook_unsigned",
				logging.String("remote", r.RemoteAddr),
				logging.String(logging.FieldErrorHint, "configure the sender with webhook.secret"),
				logging.String(logging.FieldImpact, "notification ignored"),
			)
			s.writeError(w, http.StatusUnauthorized, "missing signature")
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.writeBodyError(w, err)
			return
		}
		if !validSignature(secret, body, signature) {
			logging.WarnWithContext(s.log(), "webhook signature verification failed", "webhook_bad_signature",
				logging.String("remote", r.RemoteAddr),
				logging.String(logging.FieldErrorHint, "sender and webhook.secret disagree"),
				logging.String(logging.FieldImpact, "notification ignored"),
			)
			s.writeError(w, http.StatusUnauthorized, "signature verification failed")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next(w, r)
	}
}
