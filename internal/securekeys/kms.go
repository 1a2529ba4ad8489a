package securekeys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

type kmsAPI interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
}

// KMSProvider asks AWS KMS for per-firm data keys under a customer master
// key. Plaintext key material is cached per firm for the process lifetime;
// the encryption context binds each data key to its firm.
type KMSProvider struct {
	client   kmsAPI
	keyAlias string

	mu   sync.Mutex
	keys map[string]Key
}

// NewKMSProvider creates a provider for the given CMK alias or ARN.
func NewKMSProvider(client kmsAPI, keyAlias string) *KMSProvider {
	if client == nil {
		panic("securekeys: kms client cannot be nil")
	}
	if keyAlias == "" {
		panic("securekeys: key alias cannot be empty")
	}
	return &KMSProvider{client: client, keyAlias: keyAlias, keys: make(map[string]Key)}
}

var _ Provider = (*KMSProvider)(nil)

func (p *KMSProvider) ActiveKey(ctx context.Context, firmID string) (Key, error) {
	if firmID == "" {
		return Key{}, fmt.Errorf("securekeys: firm id required")
	}
	p.mu.Lock()
	if key, ok := p.keys[firmID]; ok {
		p.mu.Unlock()
		return key, nil
	}
	p.mu.Unlock()

	out, err := p.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:             aws.String(p.keyAlias),
		KeySpec:           types.DataKeySpecAes256,
		EncryptionContext: map[string]string{"firm_id": firmID},
	})
	if err != nil {
		return Key{}, fmt.Errorf("securekeys: generate data key: %w", err)
	}

	sum := sha256.Sum256(out.CiphertextBlob)
	key := Key{ID: "kms-" + hex.EncodeToString(sum[:8]), Material: out.Plaintext}

	p.mu.Lock()
	// Another request may have raced us; first one wins so every message
	// in the process encrypts under the same handle.
	if existing, ok := p.keys[firmID]; ok {
		key = existing
	} else {
		p.keys[firmID] = key
	}
	p.mu.Unlock()
	return key, nil
}
