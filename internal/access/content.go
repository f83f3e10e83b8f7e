package access

import (
	"context"
	"math/big"
)

// EncryptedPayload is gated content as stored off-chain.
type EncryptedPayload struct {
	Ciphertext        string `json:"ciphertext"`
	DataToEncryptHash string `json:"dataToEncryptHash"`
}

// ContentUploader stores a JSON document on permanent storage and returns
// its public URI. Implementations live with the client that owns a wallet.
type ContentUploader interface {
	Upload(ctx context.Context, document []byte, contentType string) (uri string, err error)
}

// GatedCipher encrypts content under the access conditions of a post and
// decrypts it for a caller that satisfies them.
type GatedCipher interface {
	Encrypt(ctx context.Context, postID *big.Int, plaintext []byte) (*EncryptedPayload, error)
	Decrypt(ctx context.Context, postID *big.Int, payload *EncryptedPayload) ([]byte, error)
}
