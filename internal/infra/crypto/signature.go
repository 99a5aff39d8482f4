package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"

	"pathledger/internal/domain"
)

const SignatureAlgHMACSHA256 = "hmac-sha256"

// SignPayload returns the base64 HMAC-SHA256 of the RFC 8785 form of payload.
func SignPayload(secret string, payload []byte) (string, error) {
	canonical, err := jcs.Transform(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrEncoding, err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// VerifyGatewaySignature checks sig against the gateway's shared secret.
func VerifyGatewaySignature(payload []byte, sig *domain.Signature, secret string) error {
	if sig == nil {
		return fmt.Errorf("%w: signature is required", domain.ErrSignatureInvalid)
	}
	if sig.Alg != SignatureAlgHMACSHA256 {
		return fmt.Errorf("%w: unsupported algorithm %q", domain.ErrSignatureInvalid, sig.Alg)
	}
	if secret == "" {
		return fmt.Errorf("%w: gateway has no shared secret", domain.ErrSignatureInvalid)
	}
	got, err := base64.StdEncoding.DecodeString(sig.Value)
	if err != nil {
		return fmt.Errorf("%w: invalid signature encoding", domain.ErrSignatureInvalid)
	}
	expected, err := SignPayload(secret, payload)
	if err != nil {
		return err
	}
	want, _ := base64.StdEncoding.DecodeString(expected)
	if !hmac.Equal(got, want) {
		return errors.Join(domain.ErrSignatureInvalid, errors.New("signature verification failed"))
	}
	return nil
}
