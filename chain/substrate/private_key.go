package substrate

import (
	"fmt"
	"os"
	"strings"

	"github.com/crosslane/relayer/crypto/sr25519"
)

// ResolvePrivateKey loads the signing key from an inline URI or a key file.
func ResolvePrivateKey(privateKey, privateKeyFile string) (*sr25519.Keypair, error) {
	var cleanedKeyURI string

	if privateKey == "" {
		if privateKeyFile == "" {
			return nil, fmt.Errorf("private key URI not supplied")
		}
		content, err := os.ReadFile(privateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key file: %w", err)
		}
		cleanedKeyURI = strings.TrimSpace(string(content))
	} else {
		cleanedKeyURI = privateKey
	}

	keypair, err := sr25519.NewKeypairFromSeed(cleanedKeyURI, 42)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key URI: %w", err)
	}

	return keypair, nil
}
