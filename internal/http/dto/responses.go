package dto

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type LoginChallengeResponse struct {
	Nonce   string `json:"nonce"`
	Message string `json:"message"`
}

type AuthResponse struct {
	Token   string `json:"token"`
	Profile any    `json:"profile"`
}

type CertificateResponse struct {
	Certificate any    `json:"certificate"`
	ShareURL    string `json:"share_url,omitempty"`
}

type SuggestDescriptionResponse struct {
	Description string `json:"description"`
}

type ProfileAnalysisResponse struct {
	Analysis string `json:"analysis"`
}
