package audit

// Outcome is the final result of one elevated-command attempt.
type Outcome string

const (
	OutcomeExempt     Outcome = "exempt"
	OutcomeApproved   Outcome = "approved"
	OutcomeDenied     Outcome = "denied"
	OutcomeTerminated Outcome = "terminated"
	OutcomeEnded      Outcome = "ended"
	OutcomeProhibited Outcome = "prohibited"
	OutcomeError      Outcome = "error"
)

// Entry is one line in the hash-chained JSONL audit log.
// Fields are fixed structs so json.Marshal output, and therefore the
// chain hash, is deterministic.
type Entry struct {
	Timestamp string  `json:"ts"`
	Socket    string  `json:"socket"`
	User      string  `json:"user"`
	UID       uint32  `json:"uid"`
	Host      string  `json:"host"`
	Command   string  `json:"command"`
	RunasUID  uint32  `json:"runas_uid"`
	Outcome   Outcome `json:"outcome"`
	Reason    string  `json:"reason"`
	PrevHash  string  `json:"prev_hash"`
}
