// Package encryption seals analysis results for the client with chunked
// RSA PKCS#1 v1.5. Each chunk is base64 encoded; chunks are joined by "|".
package encryption

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/liamashdown/walletsignal/internal/secrets"
)

const (
	maxChunk  = 245 // Plaintext bytes per chunk for a 2048-bit key
	separator = "|"
)

// ErrNoPrivateKey is returned by Decrypt when only a public key was loaded
var ErrNoPrivateKey = errors.New("private key not loaded")

// Encryptor encrypts with a public key and optionally decrypts with the private key
type Encryptor struct {
	public  *rsa.PublicKey
	private *rsa.PrivateKey
}

// LoadFiles reads PEM keys from disk. privatePath may be empty.
func LoadFiles(publicPath, privatePath string) (*Encryptor, error) {
	publicPEM, err := secrets.ReadKeyFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("load public key: %w", err)
	}

	var privatePEM []byte
	if privatePath != "" {
		privatePEM, err = secrets.ReadKeyFile(privatePath)
		if err != nil {
			return nil, fmt.Errorf("load private key: %w", err)
		}
	}

	return New(publicPEM, privatePEM)
}

// New parses PEM key material. privatePEM may be nil.
func New(publicPEM, privatePEM []byte) (*Encryptor, error) {
	pub, err := parsePublicKey(publicPEM)
	if err != nil {
		return nil, err
	}

	e := &Encryptor{public: pub}
	if len(privatePEM) > 0 {
		if e.private, err = parsePrivateKey(privatePEM); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Encrypt JSON-encodes v and seals it chunk by chunk
func (e *Encryptor) Encrypt(v any) (string, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	size := min(maxChunk, e.public.Size()-11)
	chunks := make([]string, 0, len(plain)/size+1)
	for start := 0; start < len(plain); start += size {
		end := min(start+size, len(plain))
		sealed, err := rsa.EncryptPKCS1v15(rand.Reader, e.public, plain[start:end])
		if err != nil {
			return "", fmt.Errorf("encrypt chunk %d: %w", len(chunks), err)
		}
		chunks = append(chunks, base64.StdEncoding.EncodeToString(sealed))
	}

	return strings.Join(chunks, separator), nil
}

// Decrypt reverses Encrypt and decodes the JSON into out
func (e *Encryptor) Decrypt(sealed string, out any) error {
	if e.private == nil {
		return ErrNoPrivateKey
	}

	var plain []byte
	for i, chunk := range strings.Split(sealed, separator) {
		raw, err := base64.StdEncoding.DecodeString(chunk)
		if err != nil {
			return fmt.Errorf("decode chunk %d: %w", i, err)
		}
		part, err := rsa.DecryptPKCS1v15(rand.Reader, e.private, raw)
		if err != nil {
			return fmt.Errorf("decrypt chunk %d: %w", i, err)
		}
		plain = append(plain, part...)
	}

	if err := json.Unmarshal(plain, out); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

func parsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("public key: no PEM block found")
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not RSA", parsed)
	}
	return key, nil
}

func parsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("private key: no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, not RSA", parsed)
	}
	return key, nil
}
