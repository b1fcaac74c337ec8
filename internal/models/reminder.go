package models

import "time"

// RelatedModule is the kind of business record a reminder is attached to.
type RelatedModule string

const (
	ModuleLead            RelatedModule = "lead"
	ModuleProposal        RelatedModule = "proposal"
	ModuleInvoice         RelatedModule = "invoice"
	ModuleProformaInvoice RelatedModule = "proforma_invoice"
)

// Valid reports whether m is one of the known modules.
func (m RelatedModule) Valid() bool {
	switch m {
	case ModuleLead, ModuleProposal, ModuleInvoice, ModuleProformaInvoice:
		return true
	}
	return false
}

// RecurrenceRule is the canonical interval/limit pair. OccurrenceLimit 0 means unlimited.
type RecurrenceRule struct {
	IntervalDays    int `json:"repeatDays"`
	OccurrenceLimit int `json:"recursionLimit"`
}

// Unlimited reports whether the rule never exhausts.
func (r RecurrenceRule) Unlimited() bool {
	return r.OccurrenceLimit == 0
}

// State is the scheduling state of a reminder, derived from Sent and TriggerTime.
type State int

const (
	StatePending State = iota
	StateDue
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDue:
		return "due"
	case StateTerminal:
		return "terminal"
	}
	return "unknown"
}

type Reminder struct {
	ID         string  `json:"id"`
	OwnerID    string  `json:"ownerId"`
	AssigneeID *string `json:"assigneeId,omitempty"`

	RelatedModule RelatedModule `json:"relatedModule"`
	ReferenceID   string        `json:"referenceId"`
	ReferenceName string        `json:"referenceName"`
	CustomerName  string        `json:"customerName"`
	CustomerEmail string        `json:"customerEmail,omitempty"`

	Message     string         `json:"message"`
	TriggerTime time.Time      `json:"triggerTime"` // next (or only) scheduled firing
	Recurring   bool           `json:"recurring"`
	Rule        RecurrenceRule `json:"rule"` // inert unless Recurring

	CurrentCount          int        `json:"currentCount"`
	Sent                  bool       `json:"sent"`
	NotifyCustomerByEmail bool       `json:"notifyCustomerByEmail"`
	LastFiredAt           *time.Time `json:"lastFiredAt,omitempty"`
	LastTriggerTime       *time.Time `json:"lastTriggerTime,omitempty"` // nominal time of the latest firing

	Version   int64     `json:"version"` // bumped on every successful save
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsRecurring returns true if the reminder repeats under an active rule.
func (r *Reminder) IsRecurring() bool {
	return r.Recurring && r.Rule.IntervalDays >= 1
}

// RemainingOccurrences returns how many firings are left, or -1 when unlimited.
func (r *Reminder) RemainingOccurrences() int {
	if r.Sent {
		return 0
	}
	if !r.IsRecurring() {
		return 1
	}
	if r.Rule.Unlimited() {
		return -1
	}
	left := r.Rule.OccurrenceLimit - r.CurrentCount
	if left < 0 {
		return 0
	}
	return left
}

// Clone returns a deep copy so callers can derive new states without aliasing.
func (r *Reminder) Clone() *Reminder {
	if r == nil {
		return nil
	}
	cp := *r
	if r.AssigneeID != nil {
		v := *r.AssigneeID
		cp.AssigneeID = &v
	}
	if r.LastFiredAt != nil {
		v := *r.LastFiredAt
		cp.LastFiredAt = &v
	}
	if r.LastTriggerTime != nil {
		v := *r.LastTriggerTime
		cp.LastTriggerTime = &v
	}
	return &cp
}
