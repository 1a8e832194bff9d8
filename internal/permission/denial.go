package permission

import (
	"github.com/google/uuid"
)

// DeniedCode is the marker the sandbox preamble and the executor look for
// when attributing a failed run to a permission denial.
const DeniedCode = "PERMISSION_DENIED"

// AttemptedAction records what the user program tried to do when it was
// denied, in enough detail for a client to show the user.
type AttemptedAction struct {
	Type    string         `json:"type"`
	Details map[string]any `json:"details"`
}

// Denial is the structured record returned on HTTP 403 from the proxy and
// echoed to stderr by the preamble. It carries everything a client needs to
// recover: the exact capability to grant and a request id to correlate logs.
type Denial struct {
	Code               string          `json:"code"`
	RequiredPermission Capability      `json:"requiredPermission"`
	AttemptedAction    AttemptedAction `json:"attemptedAction"`
	RequestID          string          `json:"requestId"`
}

// NewDenial builds a denial record with a fresh v4 request id.
func NewDenial(required Capability, actionType string, details map[string]any) *Denial {
	if details == nil {
		details = map[string]any{}
	}
	return &Denial{
		Code:               DeniedCode,
		RequiredPermission: required,
		AttemptedAction: AttemptedAction{
			Type:    actionType,
			Details: details,
		},
		RequestID: uuid.NewString(),
	}
}
