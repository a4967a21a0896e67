// Package keys derives delegate and account key pairs and signs with them.
package keys

import (
	"github.com/kaspanet/go-secp256k1"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/blake2b"
)

// PublicKeySize is the size of a serialized public key.
const PublicKeySize = 32

// SignatureSize is the size of a serialized signature.
const SignatureSize = 64

// KeyPair is a private key together with its serialized public key.
type KeyPair struct {
	private   *secp256k1.SchnorrKeyPair
	PublicKey []byte
}

// NewMnemonic returns a fresh 24 word bip39 mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", errors.WithStack(err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return mnemonic, nil
}

// FromMnemonic derives the key pair of a bip39 mnemonic. The same mnemonic
// always yields the same key pair.
func FromMnemonic(mnemonic string) (*KeyPair, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, errors.Wrap(err, "invalid mnemonic")
	}
	return FromSeed(seed)
}

// FromSeed derives a key pair from arbitrary seed bytes.
func FromSeed(seed []byte) (*KeyPair, error) {
	privateKeyBytes := blake2b.Sum256(seed)
	private, err := secp256k1.DeserializeSchnorrPrivateKeyFromSlice(privateKeyBytes[:])
	if err != nil {
		return nil, errors.Wrap(err, "seed does not map to a valid private key")
	}
	return newKeyPair(private)
}

// Generate returns a random key pair.
func Generate() (*KeyPair, error) {
	private, err := secp256k1.GenerateSchnorrKeyPair()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return newKeyPair(private)
}

func newKeyPair(private *secp256k1.SchnorrKeyPair) (*KeyPair, error) {
	publicKey, err := private.SchnorrPublicKey()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	serializedPublicKey, err := publicKey.Serialize()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &KeyPair{private: private, PublicKey: serializedPublicKey[:]}, nil
}

// Sign signs hash.
func (k *KeyPair) Sign(hash [32]byte) ([]byte, error) {
	secpHash := secp256k1.Hash(hash)
	signature, err := k.private.SchnorrSign(&secpHash)
	if err != nil {
		return nil, errors.Errorf("cannot sign: %s", err)
	}
	return signature.Serialize()[:], nil
}

// Verify returns whether signature is a valid signature of hash by
// publicKey. Malformed keys and signatures never verify.
func Verify(publicKey []byte, hash [32]byte, signature []byte) bool {
	if len(publicKey) != PublicKeySize || len(signature) != SignatureSize {
		return false
	}
	key, err := secp256k1.DeserializeSchnorrPubKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := secp256k1.DeserializeSchnorrSignatureFromSlice(signature)
	if err != nil {
		return false
	}
	secpHash := secp256k1.Hash(hash)
	return key.SchnorrVerify(&secpHash, sig)
}
