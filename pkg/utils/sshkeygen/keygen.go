package sshkeygen

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// NewEd25519 returns an OpenSSH PEM private key and its authorized_keys line.
func NewEd25519() (privateKey, publicKey []byte, err error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	privKeyPEM, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create public key: %w", err)
	}

	return pem.EncodeToMemory(privKeyPEM), ssh.MarshalAuthorizedKey(sshPubKey), nil
}

// WriteKeyPair writes a new pair to disk. An existing private key is left
// alone unless force is set; created reports whether files were written.
func WriteKeyPair(privateKeyPath, publicKeyPath string, force bool) (created bool, err error) {
	if !force {
		if _, err := os.Stat(privateKeyPath); err == nil {
			return false, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(privateKeyPath), 0700); err != nil {
		return false, fmt.Errorf("failed to create key directory: %w", err)
	}

	priv, pub, err := NewEd25519()
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(privateKeyPath, priv, 0600); err != nil {
		return false, fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(publicKeyPath, pub, 0644); err != nil {
		return false, fmt.Errorf("failed to write public key: %w", err)
	}
	return true, nil
}

// DefaultPaths returns ~/.ssh/<name> and ~/.ssh/<name>.pub.
func DefaultPaths(name string) (privateKeyPath, publicKeyPath string, err error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("failed to get home directory: %w", err)
	}
	privateKeyPath = filepath.Join(homeDir, ".ssh", name)
	return privateKeyPath, privateKeyPath + ".pub", nil
}
