package model

import "strconv"

// Status is the judging state of a record or a single test case.
// Values are shared with worker processes and must not be renumbered.
type Status int

const (
	StatusWaiting             Status = 0
	StatusAccepted            Status = 1
	StatusWrongAnswer         Status = 2
	StatusTimeLimitExceeded   Status = 3
	StatusMemoryLimitExceeded Status = 4
	StatusOutputLimitExceeded Status = 5
	StatusRuntimeError        Status = 6
	StatusCompileError        Status = 7
	StatusSystemError         Status = 8
	StatusCanceled            Status = 9
	StatusEtc                 Status = 10
	StatusJudging             Status = 20
	StatusCompiling           Status = 21
	StatusFetched             Status = 22
	StatusIgnored             Status = 30
)

var statusNames = map[Status]string{
	StatusWaiting:             "Waiting",
	StatusAccepted:            "Accepted",
	StatusWrongAnswer:         "Wrong Answer",
	StatusTimeLimitExceeded:   "Time Limit Exceeded",
	StatusMemoryLimitExceeded: "Memory Limit Exceeded",
	StatusOutputLimitExceeded: "Output Limit Exceeded",
	StatusRuntimeError:        "Runtime Error",
	StatusCompileError:        "Compile Error",
	StatusSystemError:         "System Error",
	StatusCanceled:            "Cancelled",
	StatusEtc:                 "Unknown Error",
	StatusJudging:             "Running",
	StatusCompiling:           "Compiling",
	StatusFetched:             "Fetched",
	StatusIgnored:             "Ignored",
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// IsTerminal reports whether no further progress is expected after s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusWaiting, StatusJudging, StatusCompiling, StatusFetched:
		return false
	}
	return s.Valid()
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Status(" + strconv.Itoa(int(s)) + ")"
}
