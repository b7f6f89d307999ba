package receipts

import (
	"context"
	"fmt"

	"opencat/internal/apperr"
	"opencat/internal/cryptor"
	"opencat/internal/storage"
	"opencat/internal/storeadapter"
)

func credentialMissing(appID, store string) error {
	return apperr.CredentialMissing("app %s has no %s credentials configured", appID, store)
}

// credentialAD builds the associated-data string that binds a credential
// ciphertext to its owning app, per spec §4.1/§4.7.
func credentialAD(appID string) []byte {
	return []byte("app_credentials:" + appID)
}

// StoredCredentialLoader decrypts StoreCredentials rows into the
// Credentials shape store adapters consume.
type StoredCredentialLoader struct {
	repo    *storage.CredentialsRepo
	cryptor *cryptor.Cryptor
	apps    *storage.AppRepo
}

func NewStoredCredentialLoader(repo *storage.CredentialsRepo, c *cryptor.Cryptor, apps *storage.AppRepo) *StoredCredentialLoader {
	return &StoredCredentialLoader{repo: repo, cryptor: c, apps: apps}
}

func (l *StoredCredentialLoader) Load(ctx context.Context, appID string, store storage.Store) (storeadapter.Credentials, error) {
	row, err := l.repo.Get(appID)
	if err != nil {
		return storeadapter.Credentials{}, err
	}

	app, err := l.apps.GetByID(appID)
	if err != nil {
		return storeadapter.Credentials{}, err
	}

	switch store {
	case storage.StoreApple:
		if !row.HasAppleCredential {
			return storeadapter.Credentials{}, credentialMissing(appID, "apple")
		}
		key, err := l.cryptor.Decrypt(row.AppleCiphertext, credentialAD(appID))
		if err != nil {
			return storeadapter.Credentials{}, fmt.Errorf("failed to decrypt apple credentials: %w", err)
		}
		return storeadapter.Credentials{
			AppleIssuerID:   row.AppleIssuerID,
			AppleKeyID:      row.AppleKeyID,
			ApplePrivateKey: key,
			BundleID:        app.BundleID,
		}, nil

	case storage.StoreGoogle:
		if !row.HasGoogleCredential {
			return storeadapter.Credentials{}, credentialMissing(appID, "google")
		}
		json, err := l.cryptor.Decrypt(row.GoogleCiphertext, credentialAD(appID))
		if err != nil {
			return storeadapter.Credentials{}, fmt.Errorf("failed to decrypt google credentials: %w", err)
		}
		return storeadapter.Credentials{
			GoogleServiceAccountJSON: json,
			PackageName:              app.BundleID,
		}, nil

	default:
		return storeadapter.Credentials{}, fmt.Errorf("unsupported store %q", store)
	}
}
