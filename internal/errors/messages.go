package errors

// TypeName returns the snake_case kind used in error envelopes and metric labels.
func TypeName(code Code) string {
	switch code {
	case CodeUsage:
		return "usage_error"
	case CodeRateLimited:
		return "rate_limited"
	case CodeUnsupported:
		return "unsupported"
	case CodeStale:
		return "stale_data"
	case CodePartialStrict:
		return "partial_results"
	case CodeUpstreamTimeout:
		return "upstream_timeout"
	case CodeUpstream:
		return "upstream_error"
	case CodeNoAggregators:
		return "no_aggregators_for_chain"
	case CodeAllAggregatorsFailed:
		return "all_aggregators_failed"
	case CodeSessionNotFound:
		return "session_not_found"
	case CodeWalletRejected:
		return "wallet_rejected"
	case CodeDecryptionFailed:
		return "decryption_failed"
	case CodeApprovalTimeout:
		return "approval_timeout"
	case CodeSigningTimeout:
		return "signing_timeout"
	case CodeInvalidWalletResponse:
		return "invalid_wallet_response"
	case CodeBroadcastRejected:
		return "broadcast_rejected"
	default:
		return "internal_error"
	}
}

var userMessages = map[Code]string{
	CodeRateLimited:           "Too many swap requests. Please wait a minute and try again.",
	CodeStale:                 "Fresh prices are unavailable right now. Please try again shortly.",
	CodePartialStrict:         "Some swap providers did not answer and partial results are disabled.",
	CodeUpstreamTimeout:       "The swap provider did not respond in time. Please try again.",
	CodeUpstream:              "The swap provider returned an error. Please try again later.",
	CodeNoAggregators:         "No swap provider supports this network yet.",
	CodeAllAggregatorsFailed:  "Could not get a quote from any swap provider. Please try again later.",
	CodeSessionNotFound:       "This swap session was not found or has expired. Please start a new swap.",
	CodeWalletRejected:        "The request was declined in the wallet.",
	CodeDecryptionFailed:      "The wallet response could not be verified. Please start a new swap.",
	CodeApprovalTimeout:       "The wallet connection was not approved in time.",
	CodeSigningTimeout:        "The transaction was not signed in time.",
	CodeInvalidWalletResponse: "The wallet returned an unexpected response.",
	CodeBroadcastRejected:     "The network rejected the signed transaction. It may have expired.",
}

// UserMessage renders err for end users. Usage and unsupported errors carry caller-facing
// text; every other untyped or internal error collapses to "internal error".
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	cErr, ok := As(err)
	if !ok {
		return "internal error"
	}
	if msg, ok := userMessages[cErr.Code]; ok {
		return msg
	}
	switch cErr.Code {
	case CodeUsage, CodeUnsupported:
		return cErr.Message
	default:
		return "internal error"
	}
}
