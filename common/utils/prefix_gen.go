package utils

import (
	prt "github.com/abcfe/hdpay/protocol"
)

// "meta:merchant:nx"
func GetMerchantCounterKey() []byte {
	return []byte(prt.PrefixMetaMerchants)
}

// "mid:"
func GetMerchantKey(merchantID string) []byte {
	return []byte(prt.PrefixMerchant + merchantID)
}

// "midx:"
func GetMerchantByIndexKey(index uint32) []byte {
	return []byte(prt.PrefixMerchantByIndex + Uint32ToString(index))
}

// "pctr:"
func GetPaymentCounterKey(merchantID string) []byte {
	return []byte(prt.PrefixPaymentCounter + merchantID)
}

// "pay:"
func GetPaymentKey(paymentID string) []byte {
	return []byte(prt.PrefixPayment + paymentID)
}
