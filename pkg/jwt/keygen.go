package jwt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// ECDSAGenerateKeys writes a fresh P-256 key pair to the given paths in PEM
// form, for bootstrapping a deployment.
func ECDSAGenerateKeys(privatePath, publicPath string) (err error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate private key: %w", err)
	}

	privateBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return fmt.Errorf("failed to converts an EC private key to SEC 1: %w", err)
	}

	privateFile, err := os.Create(privatePath)
	if err != nil {
		return fmt.Errorf("failed to open private file: %w", err)
	}

	defer func() {
		if cErr := privateFile.Close(); cErr != nil {
			err = fmt.Errorf("%w, failed to close private file: %w", err, cErr)
		}
	}()

	if err = pem.Encode(privateFile, &pem.Block{
		Type:  "EC PRIVATE KEY",
		Bytes: privateBytes,
	}); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	publicBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to converts a public key to PKIX: %w", err)
	}

	publicFile, err := os.Create(publicPath)
	if err != nil {
		return fmt.Errorf("failed to open public file: %w", err)
	}

	defer func() {
		if cErr := publicFile.Close(); cErr != nil {
			err = fmt.Errorf("%w, failed to close public file: %w", err, cErr)
		}
	}()

	if err = pem.Encode(publicFile, &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicBytes,
	}); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}

	return nil
}

func MustECDSAGenerateKeys(privatePath, publicPath string) {
	if err := ECDSAGenerateKeys(privatePath, publicPath); err != nil {
		panic(err)
	}
}
