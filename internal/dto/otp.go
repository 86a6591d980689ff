package dto

// SendOTPRequest asks for a one-time code to be delivered to email.
type SendOTPRequest struct {
	Email string `json:"email"`
}

// SendOTPResponse acknowledges dispatch without revealing the code.
type SendOTPResponse struct {
	Message string `json:"message"`
}

// VerifyOTPRequest submits a code for an email.
type VerifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// VerifyOTPResponse reports the verification outcome.
type VerifyOTPResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	IdentityToken string `json:"identityToken,omitempty"`
	ExpiresIn     int64  `json:"expiresIn,omitempty"`
}
