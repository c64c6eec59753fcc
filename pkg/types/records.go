package types

import (
	"encoding/json"
	"time"
)

// TimeLayout is the zero-padded, fixed-width timestamp format used on
// request records. Lexicographic order on this format is chronological
// order, which the pending list relies on for sorting.
const TimeLayout = "2006-01-02 15:04:05"

// Actor is the identity stamped on response records written by this panel.
// Device-side clients match on this value; changing it breaks them.
const Actor = "MobileAuthTool"

// RequestRecord is one device-activation request, stored as
// requests/{machine_code}.json. It is created by the device-side client;
// this system only ever flips its status. Unknown fields written by the
// client are preserved in Extra so a status update round-trips them.
type RequestRecord struct {
	MachineCode      string `json:"machine_code"`
	Status           Status `json:"status"`
	RequestTime      string `json:"request_time"`
	ComputerName     string `json:"computer_name,omitempty"`
	Username         string `json:"username,omitempty"`
	System           string `json:"system,omitempty"`
	StatusUpdateTime string `json:"status_update_time,omitempty"`

	// FilePath is the store path the record was read from, attached by the
	// reconciliation engine before the record is handed to callers.
	FilePath string `json:"file_path,omitempty"`

	// Extra holds fields this system does not model.
	Extra map[string]json.RawMessage `json:"-"`
}

var requestKnownKeys = []string{
	"machine_code", "status", "request_time", "computer_name",
	"username", "system", "status_update_time", "file_path",
}

func (r *RequestRecord) UnmarshalJSON(data []byte) error {
	type plain RequestRecord
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range requestKnownKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		p.Extra = raw
	}

	*r = RequestRecord(p)
	return nil
}

func (r RequestRecord) MarshalJSON() ([]byte, error) {
	type plain RequestRecord
	base, err := json.Marshal(plain(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return base, nil
	}

	merged := make(map[string]json.RawMessage, len(r.Extra)+8)
	for k, v := range r.Extra {
		merged[k] = v
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(base, &known); err != nil {
		return nil, err
	}
	for k, v := range known {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// ResponseRecord is the per-device verdict written to
// responses/{machine_code}.json. Exactly one of the approval or rejection
// field groups is populated.
type ResponseRecord struct {
	Status      Status `json:"status"`
	MachineCode string `json:"machine_code"`

	LicenseCode    string `json:"license_code,omitempty"`
	ExpireDatetime string `json:"expire_datetime,omitempty"`
	ApproveTime    string `json:"approve_time,omitempty"`
	Approver       string `json:"approver,omitempty"`

	Message    string `json:"message,omitempty"`
	RejectTime string `json:"reject_time,omitempty"`
	Rejector   string `json:"rejector,omitempty"`
}

// ParseRequestTime parses a request_time value in the record layout using
// the local calendar, matching how the device-side client stamps it.
func ParseRequestTime(value string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, value, time.Local)
}
