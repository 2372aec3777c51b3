package reporting

import "time"

// DaySummaryRequest selects the calls started in [From, To).
type DaySummaryRequest struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	// Date is the clinic-day label echoed back (YYYY-MM-DD).
	Date string `json:"date"`
}

// DaySummary aggregates call records by the time they started.
type DaySummary struct {
	Date string `json:"date"`

	TotalCalls    int `json:"totalCalls"`
	InboundCalls  int `json:"inboundCalls"`
	OutboundCalls int `json:"outboundCalls"`

	EndedCalls  int `json:"endedCalls"`
	MissedCalls int `json:"missedCalls"`
	OpenCalls   int `json:"openCalls"`

	// MissedInbound is the number the front desk should call back.
	MissedInbound int `json:"missedInbound"`
	// AnswerRate is ended inbound over terminal inbound; 0 when none.
	AnswerRate float64 `json:"answerRate"`

	TotalTalkSeconds   int `json:"totalTalkSeconds"`
	AverageTalkSeconds int `json:"averageTalkSeconds"`

	CallbacksCompleted int `json:"callbacksCompleted"`
	KnownPatientCalls  int `json:"knownPatientCalls"`
}
