package protocol

// Merchant and payment ids are arbitrary caller strings, so no id-bearing
// prefix may be a prefix of another.
const (
	// Metadata related prefixes
	PrefixMeta          = "meta:"                    // Metadata key
	PrefixMetaMerchants = PrefixMeta + "merchant:nx" // Next unassigned merchant index (global counter)

	// Merchant related prefixes
	PrefixMerchant        = "mid:"  // mid:MerchantID = Merchant index
	PrefixMerchantByIndex = "midx:" // midx:Index = MerchantID
	PrefixPaymentCounter  = "pctr:" // pctr:MerchantID = Next payment index

	// Payment related prefixes
	PrefixPayment = "pay:" // pay:PaymentID = Payment record
)
