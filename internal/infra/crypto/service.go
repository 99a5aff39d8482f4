package crypto

import "pathledger/internal/domain"

type Service struct{}

func NewService() *Service {
	return &Service{}
}

func (s *Service) Digest(messageID string, payload map[string]any) (string, error) {
	return Digest(messageID, payload)
}

func (s *Service) LegacyDigest(fields map[string]any) (string, error) {
	return LegacySnippetDigest(fields)
}

func (s *Service) VerifyGatewaySignature(payload []byte, sig *domain.Signature, secret string) error {
	return VerifyGatewaySignature(payload, sig, secret)
}
