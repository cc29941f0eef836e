package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Verifier checks gateway payment signatures. The gateway signs
// "<gatewayOrderId>|<gatewayPaymentId>" with HMAC-SHA256 keyed by the shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign returns the hex signature the gateway would send for the pair.
func (v *Verifier) Sign(gatewayOrderID, gatewayPaymentID string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches. Missing ids or an empty
// secret never verify.
func (v *Verifier) Verify(gatewayOrderID, gatewayPaymentID, signature string) bool {
	if len(v.secret) == 0 || gatewayOrderID == "" || gatewayPaymentID == "" || signature == "" {
		return false
	}
	expected := v.Sign(gatewayOrderID, gatewayPaymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}
