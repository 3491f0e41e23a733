package core

import (
	"context"
	"time"

	"github.com/abcfe/hdpay/common/crypto"
	"github.com/abcfe/hdpay/common/logger"
	"github.com/abcfe/hdpay/common/utils"
	"github.com/abcfe/hdpay/config"
	prt "github.com/abcfe/hdpay/protocol"
	"github.com/abcfe/hdpay/secret"
	"github.com/abcfe/hdpay/storage"
	"github.com/abcfe/hdpay/wallet"
	"github.com/pkg/errors"
)

// Service derives and regenerates per-payment addresses. Secret keys are never
// stored; they are rebuilt from the indices on demand.
type Service struct {
	provider  secret.Provider
	store     storage.IndexStore
	allocator *Allocator
	codec     *IndexCodec
}

// NewService wires an existing provider and store
func NewService(provider secret.Provider, store storage.IndexStore) *Service {
	return &Service{
		provider:  provider,
		store:     store,
		allocator: NewAllocator(store),
		codec:     NewIndexCodec(provider),
	}
}

// NewServiceWithSeed uses the literal seed. Tests and local runs only.
func NewServiceWithSeed(seed string, store storage.IndexStore) *Service {
	return NewService(secret.NewDirectProvider(seed), store)
}

// NewServiceFromConfig builds the provider named in cfg
func NewServiceFromConfig(cfg *config.Secret, store storage.IndexStore) (*Service, error) {
	provider, err := secret.NewProviderFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return NewService(provider, store), nil
}

func (s *Service) Provider() secret.Provider { return s.provider }

func (s *Service) derivationSeed(ctx context.Context) ([]byte, error) {
	seed, err := s.provider.MasterSeed(ctx)
	if err != nil {
		return nil, err
	}
	return wallet.ExpandSeed(seed), nil
}

// DerivePaymentAddress allocates fresh indices for the merchant and derives
// the address. The payment index is consumed even if the caller never
// persists the payment.
func (s *Service) DerivePaymentAddress(ctx context.Context, merchantID, paymentID string) (*wallet.DerivedAddress, error) {
	seed, err := s.derivationSeed(ctx)
	if err != nil {
		return nil, err
	}
	defer utils.Zero(seed)

	if _, err := s.allocator.AllocateMerchantIndex(ctx, merchantID); err != nil {
		return nil, err
	}
	m, p, err := s.allocator.AllocateNextPaymentIndex(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	addr, err := wallet.DeriveAddress(seed, m, p)
	if err != nil {
		return nil, err
	}

	logger.Info("payment address derived: merchant=", merchantID, " payment=", paymentID, " address=", addr.PublicKey)
	return addr, nil
}

// RegenerateKeypair rebuilds the keypair from raw indices
func (s *Service) RegenerateKeypair(ctx context.Context, merchantIndex, paymentIndex uint32) (*wallet.Keypair, error) {
	if !prt.ValidIndex(merchantIndex) || !prt.ValidIndex(paymentIndex) {
		return nil, errors.Wrapf(prt.ErrIndexOutOfRange, "indices %d/%d", merchantIndex, paymentIndex)
	}

	seed, err := s.derivationSeed(ctx)
	if err != nil {
		return nil, err
	}
	defer utils.Zero(seed)

	return wallet.DeriveKeypair(seed, merchantIndex, paymentIndex)
}

// RegenerateKeypairByID looks up the merchant mapping and the payment's
// stored indices before deriving.
func (s *Service) RegenerateKeypairByID(ctx context.Context, merchantID, paymentID string) (*wallet.Keypair, error) {
	merchantIdx, err := s.allocator.MerchantIndex(ctx, merchantID)
	if err != nil {
		return nil, err
	}

	rec, err := s.store.Payment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if rec.MerchantID != merchantID {
		return nil, errors.Wrapf(prt.ErrNotFound, "payment %s for merchant %s", paymentID, merchantID)
	}

	m, p, err := s.codec.Decode(ctx, rec.EncryptedIndices)
	if err != nil {
		return nil, err
	}
	if m != merchantIdx {
		return nil, errors.Wrapf(prt.ErrMalformedBlob, "payment %s indices belong to another merchant", paymentID)
	}

	kp, err := s.RegenerateKeypair(ctx, m, p)
	if err != nil {
		return nil, err
	}
	if rec.PublicKey != "" && rec.PublicKey != kp.PublicKey {
		return nil, errors.Wrapf(prt.ErrMalformedBlob, "payment %s indices do not match its address", paymentID)
	}

	logger.Info("keypair regenerated for sweep: payment=", paymentID, " address=", kp.PublicKey)
	return kp, nil
}

// RegenerateKeypairFromPath accepts only m/44'/148'/m'/p'
func (s *Service) RegenerateKeypairFromPath(ctx context.Context, path string) (*wallet.Keypair, error) {
	parsed, err := wallet.ParsePath(path)
	if err != nil {
		return nil, err
	}
	return s.RegenerateKeypair(ctx, parsed.MerchantIndex, parsed.PaymentIndex)
}

// VerifyAddress reports whether claimedPublicKey is the address at (m, p). A
// mismatch is not an error; a malformed key or index is.
func (s *Service) VerifyAddress(ctx context.Context, merchantIndex, paymentIndex uint32, claimedPublicKey string) (bool, error) {
	if _, err := crypto.DecodeAccountID(claimedPublicKey); err != nil {
		return false, err
	}

	kp, err := s.RegenerateKeypair(ctx, merchantIndex, paymentIndex)
	if err != nil {
		return false, err
	}
	return utils.ConstantTimeEqual(kp.PublicKey, claimedPublicKey), nil
}

// CreatePayment derives a fresh address and records it with its encrypted
// indices.
func (s *Service) CreatePayment(ctx context.Context, merchantID, paymentID string) (*storage.PaymentRecord, error) {
	if paymentID == "" {
		return nil, errors.New("empty payment id")
	}

	// checked up front so a duplicate does not burn a payment index
	if _, err := s.store.Payment(ctx, paymentID); err == nil {
		return nil, errors.Wrapf(prt.ErrPaymentExists, "payment %s", paymentID)
	} else if !errors.Is(err, prt.ErrNotFound) {
		return nil, err
	}

	addr, err := s.DerivePaymentAddress(ctx, merchantID, paymentID)
	if err != nil {
		return nil, err
	}

	blob, err := s.codec.Encode(ctx, addr.MerchantIndex, addr.PaymentIndex)
	if err != nil {
		return nil, err
	}

	rec := &storage.PaymentRecord{
		PaymentID:        paymentID,
		MerchantID:       merchantID,
		PublicKey:        addr.PublicKey,
		EncryptedIndices: blob,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.SavePayment(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) EncodeIndices(ctx context.Context, merchantIndex, paymentIndex uint32) (string, error) {
	return s.codec.Encode(ctx, merchantIndex, paymentIndex)
}

func (s *Service) DecodeIndices(ctx context.Context, blob string) (uint32, uint32, error) {
	return s.codec.Decode(ctx, blob)
}

// HealthCheck reports whether the secret backend answers
func (s *Service) HealthCheck(ctx context.Context) bool {
	return s.provider.HealthCheck(ctx)
}
