// Package account implements capability.AccountProvider for the
// SIGNER_BACKEND=local path: an in-process secp256k1 key per wallet, loaded
// from an Ethereum v3 keystore file, submitting through the bundler router
// instead of delegating to a hosted account-abstraction provider. It is
// grounded on the teacher's wallet.FuncWallet capability-adapter pattern and
// on fleetctl/crypto's keystore helpers.
package account

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"fleetctl/bundler"
	"fleetctl/capability"
	"fleetctl/crypto"
)

// KeySource resolves a provider account name to its decrypted signing key.
type KeySource interface {
	Key(providerAccountName string) (*crypto.PrivateKey, error)
}

// KeystoreDir resolves provider account names to <dir>/<name>.json keystore
// files, all encrypted with the same passphrase.
type KeystoreDir struct {
	Dir        string
	Passphrase string
}

// Key loads and decrypts the keystore file for providerAccountName.
func (k KeystoreDir) Key(providerAccountName string) (*crypto.PrivateKey, error) {
	path := filepath.Join(k.Dir, providerAccountName+".json")
	return crypto.LoadFromKeystore(path, k.Passphrase)
}

// LocalAccountProvider satisfies capability.AccountProvider by signing user
// operations with an in-process key. config.Config.ExecutionConcurrency
// clamps execution concurrency to 1 when SIGNER_BACKEND is local; boot.Build
// also selects this provider for the other backends, where the pool size is
// 3. This type does not limit concurrency itself.
type LocalAccountProvider struct {
	keys   KeySource
	router *bundler.Router

	mu       sync.Mutex
	sessions map[string]*localSession
}

// NewLocalAccountProvider builds a provider that resolves signing keys
// through keys and submits every user operation through router.
func NewLocalAccountProvider(keys KeySource, router *bundler.Router) *LocalAccountProvider {
	return &LocalAccountProvider{keys: keys, router: router, sessions: make(map[string]*localSession)}
}

// GetSession returns the cached session for providerAccountName, loading and
// decrypting its keystore file on first use.
func (p *LocalAccountProvider) GetSession(ctx context.Context, providerAccountName string) (capability.AccountSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[providerAccountName]; ok {
		return s, nil
	}
	key, err := p.keys.Key(providerAccountName)
	if err != nil {
		return nil, fmt.Errorf("load signer key for %q: %w", providerAccountName, err)
	}
	s := &localSession{key: key, router: p.router}
	p.sessions[providerAccountName] = s
	return s, nil
}

type localSession struct {
	key    *crypto.PrivateKey
	router *bundler.Router
}

func (s *localSession) address() common.Address {
	return s.key.PubKey().Address()
}

// SendUserOp encodes calls into a single call-data blob, signs its digest
// with the in-process key, and submits through the router.
func (s *localSession) SendUserOp(ctx context.Context, calls []capability.Call) (capability.SendResult, error) {
	callData := encodeCalls(calls)
	digest := gethcrypto.Keccak256(callData)
	sig, err := gethcrypto.Sign(digest, s.key.PrivateKey)
	if err != nil {
		return capability.SendResult{}, fmt.Errorf("sign user operation: %w", err)
	}
	op := bundler.UserOp{
		Sender:   s.address().Hex(),
		CallData: callData,
		Extra:    map[string]any{"signature": sig},
	}
	res, _, err := s.router.Send(ctx, op)
	if err != nil {
		return capability.SendResult{}, err
	}
	return capability.SendResult{UserOpHash: res.UserOpHash}, nil
}

// WaitReceipt delegates to the router's polled receipt wait.
func (s *localSession) WaitReceipt(ctx context.Context, userOpHash string) (capability.Receipt, error) {
	r, err := s.router.WaitForReceipt(ctx, userOpHash)
	if err != nil {
		return capability.Receipt{}, err
	}
	return capability.Receipt{Included: r.Included, TxHash: r.TxHash, Success: r.Success, Reason: r.Reason}, nil
}

// encodeCalls packs a batch of calls into a single deterministic blob: a
// four-byte call count, then each call length-prefixed as
// (len(to) || to || 32-byte big-endian value || len(data) || data). The
// bundler-side executor contract owns unpacking this into its own multicall
// ABI; this process never constructs that selector table directly.
func encodeCalls(calls []capability.Call) []byte {
	var buf []byte
	count := make([]byte, 4)
	putUint32(count, uint32(len(calls)))
	buf = append(buf, count...)

	for _, c := range calls {
		to := []byte(c.To)
		toLen := make([]byte, 4)
		putUint32(toLen, uint32(len(to)))
		buf = append(buf, toLen...)
		buf = append(buf, to...)

		var valueBytes [32]byte
		if c.Value != nil {
			c.Value.FillBytes(valueBytes[:])
		}
		buf = append(buf, valueBytes[:]...)

		dataLen := make([]byte, 4)
		putUint32(dataLen, uint32(len(c.Data)))
		buf = append(buf, dataLen...)
		buf = append(buf, c.Data...)
	}
	return buf
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
