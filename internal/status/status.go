// Package status owns the durable per-job status record.
//
// A record is a single flat file at <root>/<content_id>/<content_id>.status
// holding "<STATUS>\t<detail>". It is the only authoritative job state: any
// process that knows the location can read it, and nothing in memory
// survives a restart.
package status

import "fmt"

// Status is the lifecycle state persisted in a record.
type Status string

const (
	Ready    Status = "READY"
	Uploaded Status = "UPLOADED"
	Pending  Status = "PENDING"
	Running  Status = "RUNNING"
	Waiting  Status = "WAITING"
	Done     Status = "DONE"
	Failed   Status = "FAILED"
)

var known = map[Status]bool{
	Ready:    true,
	Uploaded: true,
	Pending:  true,
	Running:  true,
	Waiting:  true,
	Done:     true,
	Failed:   true,
}

// validTransitions lists the forward edges of the job state machine.
// Terminal states have no outgoing edges.
var validTransitions = map[Status][]Status{
	Ready:    {Uploaded, Pending, Waiting, Running, Failed},
	Uploaded: {Pending, Waiting, Running, Failed},
	Pending:  {Waiting, Running, Failed},
	Waiting:  {Pending, Running, Failed},
	Running:  {Done, Failed},
}

// Parse converts a record token into a Status.
func Parse(s string) (Status, error) {
	st := Status(s)
	if !known[st] {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

// Valid reports whether s is part of the status taxonomy.
func (s Status) Valid() bool {
	return known[s]
}

// Terminal reports whether no further transition is legal from s.
func (s Status) Terminal() bool {
	return s == Done || s == Failed
}

func (s Status) String() string {
	return string(s)
}

// CanTransition reports whether from -> to is a legal edge. Rewriting the
// same non-terminal status (to refresh its detail) is allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return !from.Terminal() && from.Valid()
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
