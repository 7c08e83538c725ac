package model

// Status is the judge state of a record. Values are part of the wire
// protocol shared with judge daemons and must not be renumbered.
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
	StatusETC                 Status = 10
	StatusHacked              Status = 11
	StatusJudging             Status = 20
	StatusCompiling           Status = 21
	StatusFetched             Status = 22
	StatusIgnored             Status = 30
	StatusFormatError         Status = 31
	StatusHackSuccessful      Status = 32
	StatusHackUnsuccessful    Status = 33
)

var statusShortTexts = map[Status]string{
	StatusWaiting:             "WAIT",
	StatusAccepted:            "AC",
	StatusWrongAnswer:         "WA",
	StatusTimeLimitExceeded:   "TLE",
	StatusMemoryLimitExceeded: "MLE",
	StatusOutputLimitExceeded: "OLE",
	StatusRuntimeError:        "RE",
	StatusCompileError:        "CE",
	StatusSystemError:         "SE",
	StatusCanceled:            "CANCEL",
	StatusETC:                 "ETC",
	StatusHacked:              "HK",
	StatusJudging:             "JUDGE",
	StatusCompiling:           "COMPILE",
	StatusFetched:             "FETCH",
	StatusIgnored:             "IGN",
	StatusFormatError:         "FE",
	StatusHackSuccessful:      "HS",
	StatusHackUnsuccessful:    "HF",
}

// ShortText is the abbreviation used in problem statistics keys.
func (s Status) ShortText() string {
	if text, ok := statusShortTexts[s]; ok {
		return text
	}
	return "UKE"
}

// IsTerminal reports whether no further partial results are expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusWaiting, StatusJudging, StatusCompiling, StatusFetched:
		return false
	}
	return true
}

// CountsInStats reports whether a finished record contributes to the
// per-status and per-score counters of its problem. Infrastructure faults,
// cancellations and hack verdicts do not.
func (s Status) CountsInStats() bool {
	switch s {
	case StatusETC, StatusHackSuccessful, StatusHackUnsuccessful,
		StatusFormatError, StatusSystemError, StatusCanceled:
		return false
	}
	return true
}
