package wallet

import (
	"fmt"
	"strings"

	"github.com/abcfe/hdpay/common/utils"
	prt "github.com/abcfe/hdpay/protocol"
	"github.com/pkg/errors"
	"github.com/stellar/go/exp/crypto/derivation"
)

// PathPrefix is the fixed purpose/coin-type part of every derivation path
const PathPrefix = derivation.StellarAccountPrefix + "/"

// Path locates one payment address under the master seed
type Path struct {
	MerchantIndex uint32
	PaymentIndex  uint32
}

// FormatPath renders m/44'/148'/m'/p'
func FormatPath(merchantIndex, paymentIndex uint32) string {
	return fmt.Sprintf("%s%d'/%d'", PathPrefix, merchantIndex, paymentIndex)
}

func (p Path) String() string {
	return FormatPath(p.MerchantIndex, p.PaymentIndex)
}

// ParsePath accepts exactly m/44'/148'/N'/M' with decimal N, M below 2^31
func ParsePath(path string) (Path, error) {
	if !strings.HasPrefix(path, PathPrefix) {
		return Path{}, errors.Wrapf(prt.ErrInvalidPath, "%q: expected prefix %s", path, PathPrefix)
	}

	segments := strings.Split(strings.TrimPrefix(path, PathPrefix), "/")
	if len(segments) != 2 {
		return Path{}, errors.Wrapf(prt.ErrInvalidPath, "%q: expected 4 segments", path)
	}

	var idx [2]uint32
	for i, seg := range segments {
		v, err := parseHardened(seg)
		if err != nil {
			return Path{}, errors.Wrapf(prt.ErrInvalidPath, "%q: %v", path, err)
		}
		idx[i] = v
	}

	return Path{MerchantIndex: idx[0], PaymentIndex: idx[1]}, nil
}

func parseHardened(seg string) (uint32, error) {
	if !strings.HasSuffix(seg, "'") {
		return 0, fmt.Errorf("segment %q is not hardened", seg)
	}
	digits := strings.TrimSuffix(seg, "'")
	if digits == "" {
		return 0, fmt.Errorf("empty segment")
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("segment %q is not a decimal integer", seg)
		}
	}

	v, err := utils.StringToUint32(digits)
	if err != nil || !prt.ValidIndex(v) {
		return 0, fmt.Errorf("segment %q out of range", seg)
	}
	return v, nil
}
