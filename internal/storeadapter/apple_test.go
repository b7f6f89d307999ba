package storeadapter

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opencat/internal/storage"
)

func TestAppleRootCAs_ParsesWithoutPanicking(t *testing.T) {
	certs := AppleRootCAs()
	require.Len(t, certs, 1)
	assert.Contains(t, certs[0].Subject.String(), "Apple Root CA")
}

func TestClaimsToTransaction_StatusDerivation(t *testing.T) {
	future := float64(time.Now().Add(24 * time.Hour).UnixMilli())
	past := float64(time.Now().Add(-24 * time.Hour).UnixMilli())

	cases := []struct {
		name   string
		claims jwt.MapClaims
		want   storage.TransactionStatus
	}{
		{
			name:   "active subscription",
			claims: jwt.MapClaims{"transactionId": "1", "expiresDate": future},
			want:   storage.StatusActive,
		},
		{
			name:   "expired subscription",
			claims: jwt.MapClaims{"transactionId": "2", "expiresDate": past},
			want:   storage.StatusExpired,
		},
		{
			name:   "revoked transaction",
			claims: jwt.MapClaims{"transactionId": "3", "expiresDate": future, "revocationDate": past},
			want:   storage.StatusRefunded,
		},
		{
			name:   "grace period takes priority over plain expiration math",
			claims: jwt.MapClaims{"transactionId": "4", "expiresDate": past, "isInGracePeriod": true},
			want:   storage.StatusGracePeriod,
		},
		{
			name:   "billing retry",
			claims: jwt.MapClaims{"transactionId": "5", "expiresDate": past, "isInBillingRetry": true},
			want:   storage.StatusBillingRetry,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			txn := claimsToTransaction(tc.claims, "raw")
			assert.Equal(t, tc.want, txn.Status)
			assert.Equal(t, "raw", txn.RawPayload)
		})
	}
}

func TestClaimsToTransaction_FieldExtraction(t *testing.T) {
	purchase := float64(time.Now().Add(-time.Hour).UnixMilli())
	claims := jwt.MapClaims{
		"transactionId":   "txn-1",
		"productId":       "prod-1",
		"appAccountToken": "user-hint",
		"purchaseDate":    purchase,
	}
	txn := claimsToTransaction(claims, "raw")
	assert.Equal(t, "txn-1", txn.StoreTransactionID)
	assert.Equal(t, "prod-1", txn.StoreProductID)
	assert.Equal(t, "user-hint", txn.AppAccountToken)
	assert.Nil(t, txn.ExpirationDate)
}

func selfSignedCert(t *testing.T, cn string, parent *x509.Certificate, parentKey *ecdsa.PrivateKey) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		IsCA:         true,
	}

	signer := parent
	signerKey := parentKey
	if signer == nil {
		signer = tmpl
		signerKey = key
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, signer, &key.PublicKey, signerKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

func TestVerifyChain_AcceptsChainRootedAtPinnedCA(t *testing.T) {
	root, rootKey := selfSignedCert(t, "test root", nil, nil)
	leaf, _ := selfSignedCert(t, "test leaf", root, rootKey)

	a := &Apple{rootCAs: []*x509.Certificate{root}}
	err := a.verifyChain([]*x509.Certificate{leaf, root})
	assert.NoError(t, err)
}

func TestVerifyChain_RejectsUnpinnedChain(t *testing.T) {
	root, rootKey := selfSignedCert(t, "untrusted root", nil, nil)
	leaf, _ := selfSignedCert(t, "untrusted leaf", root, rootKey)

	a := &Apple{rootCAs: nil}
	err := a.verifyChain([]*x509.Certificate{leaf, root})
	assert.Error(t, err)
}

func TestCertChainFromHeader_RejectsMissingX5C(t *testing.T) {
	a := &Apple{}
	_, err := a.certChainFromHeader(map[string]interface{}{})
	assert.Error(t, err)
}
