package userpool

// Challenge names used by the authenticate protocol.
const (
	ChallengeNewPassword = "NEW_PASSWORD_REQUIRED"
	ChallengeSoftwareMFA = "SOFTWARE_TOKEN_MFA"
	ChallengeSMSMFA      = "SMS_MFA"
	ChallengeMFASetup    = "MFA_SETUP"
)

// authRequest starts the authenticate protocol.
type authRequest struct {
	ClientID string `json:"clientId"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// challengeRequest answers an outstanding challenge. Session is the opaque
// continuation token the previous response carried.
type challengeRequest struct {
	ClientID      string            `json:"clientId"`
	ChallengeName string            `json:"challengeName"`
	Session       string            `json:"session"`
	Responses     map[string]string `json:"responses"`
}

// refreshRequest exchanges a refresh token for fresh tokens.
type refreshRequest struct {
	ClientID     string `json:"clientId"`
	RefreshToken string `json:"refreshToken"`
}

// authResult is the token material of a completed authentication.
type authResult struct {
	AccessToken  string `json:"accessToken"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	TokenType    string `json:"tokenType"`

	// ExpiresIn is the access-token lifetime in seconds. Converted to
	// absolute millisecond timestamps at this boundary, never stored raw.
	ExpiresIn int64 `json:"expiresIn"`
}

// authResponse is the union shape of /v1/auth/initiate and
// /v1/auth/challenge: either a result or a follow-up challenge.
type authResponse struct {
	Result *authResult `json:"authenticationResult,omitempty"`

	ChallengeName       string            `json:"challengeName,omitempty"`
	ChallengeParameters map[string]string `json:"challengeParameters,omitempty"`
	Session             string            `json:"session,omitempty"`
}

// ChallengeState carries an in-flight challenge between one call and the
// next. It exists only in memory, is handed to the caller inside the
// outcome payload, and is discarded once the flow resolves.
type ChallengeState struct {
	Username      string
	ChallengeName string
	Session       string
	Parameters    map[string]string
}

// MFASetupSecret is the payload of a successful MFA enrollment initiation.
type MFASetupSecret struct {
	// Secret is the shared TOTP secret to present to the user.
	Secret string
	// State continues the authenticate flow once the user has enrolled.
	State ChallengeState
}

type signUpRequest struct {
	ClientID   string            `json:"clientId"`
	Username   string            `json:"username"`
	Password   string            `json:"password"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// SignUpResult reports a registration that still awaits confirmation.
type SignUpResult struct {
	UserConfirmed  bool   `json:"userConfirmed"`
	DeliveryMedium string `json:"deliveryMedium,omitempty"`
	Destination    string `json:"destination,omitempty"`
}

type confirmSignUpRequest struct {
	ClientID string `json:"clientId"`
	Username string `json:"username"`
	Code     string `json:"code"`
}

type resendCodeRequest struct {
	ClientID string `json:"clientId"`
	Username string `json:"username"`
}

type changePasswordRequest struct {
	PreviousPassword string `json:"previousPassword"`
	ProposedPassword string `json:"proposedPassword"`
}

type forgotPasswordRequest struct {
	ClientID string `json:"clientId"`
	Username string `json:"username"`
}

// CodeDelivery describes where a verification code was sent.
type CodeDelivery struct {
	DeliveryMedium string `json:"deliveryMedium"`
	Destination    string `json:"destination"`
}

type confirmForgotPasswordRequest struct {
	ClientID    string `json:"clientId"`
	Username    string `json:"username"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

type associateTokenResponse struct {
	SecretCode string `json:"secretCode"`
}

type setMFARequest struct {
	Enabled bool `json:"enabled"`
}

// MFAOption describes one configured MFA delivery method.
type MFAOption struct {
	DeliveryMedium string `json:"deliveryMedium"`
	AttributeName  string `json:"attributeName"`
}

type mfaOptionsResponse struct {
	Options []MFAOption `json:"mfaOptions"`
}

// Attribute is one user profile attribute.
type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type attributesResponse struct {
	Attributes []Attribute `json:"attributes"`
}

type deleteAttributesRequest struct {
	AttributeNames []string `json:"attributeNames"`
}

type attributeVerificationRequest struct {
	AttributeName string `json:"attributeName"`
}

type verifyAttributeRequest struct {
	AttributeName string `json:"attributeName"`
	Code          string `json:"code"`
}
