package api

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"opencat/internal/apperr"
	"opencat/internal/response"
)

const maskedSecret = "***configured***"

var appleKeyIDPattern = regexp.MustCompile(`^[A-Z0-9]+$`)

// AppleCredentialRequest is the PUT /v1/apps/{id}/credentials apple block.
type AppleCredentialRequest struct {
	IssuerID   string `json:"issuer_id"`
	KeyID      string `json:"key_id"`
	PrivateKey string `json:"private_key"`
}

// GoogleCredentialRequest is the PUT /v1/apps/{id}/credentials google block.
type GoogleCredentialRequest struct {
	ServiceAccountJSON json.RawMessage `json:"service_account_json"`
}

// SetCredentialsRequest is the full PUT /v1/apps/{id}/credentials body.
type SetCredentialsRequest struct {
	Apple  *AppleCredentialRequest  `json:"apple,omitempty"`
	Google *GoogleCredentialRequest `json:"google,omitempty"`
}

// CredentialsView is the masked GET /v1/apps/{id}/credentials response
// (spec §4.7: secrets replaced by the "***configured***" sentinel).
type CredentialsView struct {
	Apple  *AppleCredentialView  `json:"apple,omitempty"`
	Google *GoogleCredentialView `json:"google,omitempty"`
}

type AppleCredentialView struct {
	IssuerID   string `json:"issuer_id"`
	KeyID      string `json:"key_id"`
	PrivateKey string `json:"private_key"`
}

type GoogleCredentialView struct {
	ServiceAccountJSON string `json:"service_account_json"`
}

func (s *Server) SetCredentials(c *gin.Context) {
	if !requireAppMatch(c) {
		return
	}
	appID := c.Param("id")

	var req SetCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Err(c, apperr.Validation("invalid request body: %v", err))
		return
	}
	if req.Apple == nil && req.Google == nil {
		response.Err(c, apperr.Validation("must provide apple or google credentials"))
		return
	}

	if req.Apple != nil {
		if err := validateAppleCredential(req.Apple); err != nil {
			response.Err(c, err)
			return
		}
		ciphertext, err := s.Cryptor.Encrypt([]byte(req.Apple.PrivateKey), credentialAD(appID))
		if err != nil {
			response.Err(c, apperr.New(apperr.KindCrypto, "failed to encrypt apple credentials: %v", err))
			return
		}
		if err := s.Credentials.SetApple(appID, req.Apple.IssuerID, req.Apple.KeyID, ciphertext); err != nil {
			response.Err(c, err)
			return
		}
	}

	if req.Google != nil {
		if len(req.Google.ServiceAccountJSON) == 0 {
			response.Err(c, apperr.Validation("google.service_account_json is required"))
			return
		}
		ciphertext, err := s.Cryptor.Encrypt(req.Google.ServiceAccountJSON, credentialAD(appID))
		if err != nil {
			response.Err(c, apperr.New(apperr.KindCrypto, "failed to encrypt google credentials: %v", err))
			return
		}
		if err := s.Credentials.SetGoogle(appID, ciphertext); err != nil {
			response.Err(c, err)
			return
		}
	}

	s.getCredentials(c, appID)
}

func (s *Server) GetCredentials(c *gin.Context) {
	if !requireAppMatch(c) {
		return
	}
	s.getCredentials(c, c.Param("id"))
}

func (s *Server) getCredentials(c *gin.Context, appID string) {
	status, err := s.Credentials.GetStatus(appID)
	if err != nil {
		response.Err(c, err)
		return
	}

	view := CredentialsView{}
	if status.HasAppleCredential {
		view.Apple = &AppleCredentialView{IssuerID: status.AppleIssuerID, KeyID: status.AppleKeyID, PrivateKey: maskedSecret}
	}
	if status.HasGoogleCredential {
		view.Google = &GoogleCredentialView{ServiceAccountJSON: maskedSecret}
	}
	response.OK(c, view)
}

// credentialAD mirrors internal/receipts.credentialAD; duplicated rather
// than imported to keep the API layer from depending on the pipeline
// package for a one-line string builder.
func credentialAD(appID string) []byte {
	return []byte("app_credentials:" + appID)
}

// validateAppleCredential enforces spec §4.7's shape checks before
// anything is encrypted: issuer_id is a UUID, key_id matches ^[A-Z0-9]+$,
// private_key is PEM carrying "PRIVATE KEY".
func validateAppleCredential(req *AppleCredentialRequest) error {
	if _, err := uuid.Parse(req.IssuerID); err != nil {
		return apperr.Validation("apple.issuer_id must be a UUID")
	}
	if !appleKeyIDPattern.MatchString(req.KeyID) {
		return apperr.Validation("apple.key_id must match ^[A-Z0-9]+$")
	}
	if !strings.Contains(req.PrivateKey, "PRIVATE KEY") {
		return apperr.Validation("apple.private_key must be a PEM-encoded private key")
	}
	return nil
}
