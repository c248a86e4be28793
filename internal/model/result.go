package model

import "time"

// Result is the outcome of one event. Populated entities are snapshots taken
// at commit; storage and publish workers only read them.
type Result struct {
	EventID      string            `json:"event_id"`
	Kind         EventKind         `json:"kind"`
	Success      bool              `json:"success"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Duplicate    bool              `json:"duplicate,omitempty"`
	Pool         *AmmPool          `json:"pool,omitempty"`
	Position     *AmmPosition      `json:"position,omitempty"`
	Order        *AmmOrder         `json:"order,omitempty"`
	Accounts     []*Account        `json:"accounts,omitempty"`
	Ticks        []*Tick           `json:"ticks,omitempty"`
	TickBitmap   *TickBitmap       `json:"tick_bitmap,omitempty"`
	Histories    []*AccountHistory `json:"histories,omitempty"`
	ProcessedAt  time.Time         `json:"processed_at"`
}

func NewResult(ev *Event, now time.Time) *Result {
	r := &Result{ProcessedAt: now}
	if ev != nil {
		r.EventID = ev.ID
		r.Kind = ev.Kind
	}
	return r
}

// Fail marks the result as failed and drops any staged entities except the
// one-shot order or position record carrying the error.
func (r *Result) Fail(err error) *Result {
	r.Success = false
	if err != nil {
		r.ErrorMessage = err.Error()
	}
	r.Pool = nil
	r.Accounts = nil
	r.Ticks = nil
	r.TickBitmap = nil
	r.Histories = nil
	return r
}

// HasEntity reports whether a pool, position or order is attached.
func (r *Result) HasEntity() bool {
	return r.Pool != nil || r.Position != nil || r.Order != nil
}
