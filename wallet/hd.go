package wallet

import (
	prt "github.com/abcfe/hdpay/protocol"
	"github.com/pkg/errors"
	"github.com/stellar/go/exp/crypto/derivation"
)

// DeriveForPath returns the SLIP-10 node at m/44'/148'/merchantIndex'/paymentIndex'
func DeriveForPath(seed []byte, merchantIndex, paymentIndex uint32) (*derivation.Key, error) {
	if !prt.ValidIndex(merchantIndex) || !prt.ValidIndex(paymentIndex) {
		return nil, errors.Wrapf(prt.ErrIndexOutOfRange, "indices %d/%d", merchantIndex, paymentIndex)
	}

	key, err := derivation.DeriveForPath(FormatPath(merchantIndex, paymentIndex), seed)
	if err != nil {
		return nil, errors.Wrap(prt.ErrInvalidPath, err.Error())
	}
	return key, nil
}
