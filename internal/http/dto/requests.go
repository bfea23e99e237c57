package dto

type LoginChallengeRequest struct {
	WalletAddress string `json:"wallet_address"`
}

type LoginRequest struct {
	WalletAddress string `json:"wallet_address"`
	Nonce         string `json:"nonce"`
	Signature     string `json:"signature"`
}

type LinkWalletRequest struct {
	WalletAddress string `json:"wallet_address"`
	Nonce         string `json:"nonce"`
	Signature     string `json:"signature"`
}

type UpdateProfileRequest struct {
	Name string `json:"name"`
}

type RegisterProfileRequest struct {
	Name     string `json:"name"`
	IsIssuer bool   `json:"is_issuer"`
}

type CreateCertificateRequest struct {
	Title            string `json:"title"`
	Description      string `json:"description,omitempty"`
	RecipientAddress string `json:"recipient_address"`
}

type VerifyRequest struct {
	// Identifier is a registry ID, a share link or token, or a metadata URI.
	Identifier string `json:"identifier"`
}

type VerifyByRecipientRequest struct {
	RecipientAddress string `json:"recipient_address"`
	Title            string `json:"title"`
}

type SuggestDescriptionRequest struct {
	Title string `json:"title"`
}

type ProfileAnalysisRequest struct {
	CertificateTitles []string `json:"certificate_titles"`
	TargetRole        string   `json:"target_role"`
}
