package discount

// Reason classifies why a presented code did not apply. These are expected
// business outcomes, returned as data on the quote rather than as errors.
type Reason string

const (
	ReasonCodeNotFound       Reason = "CodeNotFound"
	ReasonCodeInactive       Reason = "CodeInactive"
	ReasonCodeExpired        Reason = "CodeExpired"
	ReasonCodeNotYetStarted  Reason = "CodeNotYetStarted"
	ReasonMinOrderNotMet     Reason = "MinOrderNotMet"
	ReasonNotFirstOrder      Reason = "NotFirstOrder"
	ReasonNoEligibleItems    Reason = "NoEligibleItems"
	ReasonUsageLimitExceeded Reason = "UsageLimitExceeded"
	ReasonCodeConflict       Reason = "CodeConflict"
)

// Rejection reports a code that was presented but did not apply.
type Rejection struct {
	Code    string `json:"code"`
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
}
