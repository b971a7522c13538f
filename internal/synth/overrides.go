package synth

import "github.com/langobservatory/telegen/internal/record"

// TraceOverrides pins individual trace fields to fixed values. Nil fields
// keep the generated value; non-nil fields replace it verbatim after all
// derived fields are computed, so a pinned Model does not recompute Name or
// Cost. Metadata, Usage, and Error replace the whole generated value.
type TraceOverrides struct {
	ID        *string
	Name      *string
	UserID    *string
	SessionID *string
	Model     *string
	Provider  *string
	Metadata  map[string]any
	Input     *string
	Output    *string
	Usage     *record.Usage
	Cost      *float64
	LatencyMS *int
	Timestamp *float64
	Status    *record.Status
	Error     *record.ErrorDetail
}

func (o *TraceOverrides) apply(tr *record.Trace) *record.Trace {
	if o == nil {
		return tr
	}
	if o.ID != nil {
		tr.ID = *o.ID
	}
	if o.Name != nil {
		tr.Name = *o.Name
	}
	if o.UserID != nil {
		tr.UserID = *o.UserID
	}
	if o.SessionID != nil {
		tr.SessionID = *o.SessionID
	}
	if o.Model != nil {
		tr.Model = *o.Model
	}
	if o.Provider != nil {
		tr.Provider = *o.Provider
	}
	if o.Metadata != nil {
		tr.Metadata = o.Metadata
	}
	if o.Input != nil {
		tr.Input = *o.Input
	}
	if o.Output != nil {
		tr.Output = *o.Output
	}
	if o.Usage != nil {
		tr.Usage = o.Usage
	}
	if o.Cost != nil {
		tr.Cost = *o.Cost
	}
	if o.LatencyMS != nil {
		tr.LatencyMS = *o.LatencyMS
	}
	if o.Timestamp != nil {
		tr.Timestamp = *o.Timestamp
	}
	if o.Status != nil {
		tr.Status = *o.Status
	}
	if o.Error != nil {
		tr.Error = o.Error
	}
	return tr
}
