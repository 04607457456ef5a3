package model

import (
	"slices"
	"strconv"
	"strings"
)

// Columns is the fixed output column order of the reconciled row set.
var Columns = []string{
	"Day",
	"Flow ID",
	"Flow Name",
	"Flow Message ID",
	"Flow Message Name",
	"Flow Message Channel",
	"Status",
	"Delivered",
	"Unique Opens",
	"Open Rate",
	"Unique Clicks",
	"Click Rate",
	"Placed Order",
	"Placed Order Rate",
	"Revenue",
	"Revenue per Recipient",
	"Unsub Rate",
	"Complaint Rate",
	"Bounce Rate",
	"Tags",
}

// Row tags.
const (
	TagSynthetic = "synthetic"
	TagDraft     = "draft"
	TagRange     = "range"
	TagMerged    = "merged"
)

// RowKey is the dedup key of a reconciled row.
type RowKey struct {
	Day       string
	FlowID    string
	MessageID string
}

// Row is a report row whose message identity has been resolved to a
// canonical flow message. Rates are fractions of Delivered.
type Row struct {
	Day                 string   `json:"day"`
	FlowID              string   `json:"flow_id"`
	FlowName            string   `json:"flow_name"`
	MessageID           string   `json:"flow_message_id"`
	MessageName         string   `json:"flow_message_name"`
	Channel             string   `json:"flow_message_channel"`
	Status              string   `json:"status"`
	Delivered           int64    `json:"delivered"`
	UniqueOpens         int64    `json:"unique_opens"`
	OpenRate            float64  `json:"open_rate"`
	UniqueClicks        int64    `json:"unique_clicks"`
	ClickRate           float64  `json:"click_rate"`
	PlacedOrder         int64    `json:"placed_order"`
	PlacedOrderRate     float64  `json:"placed_order_rate"`
	Revenue             float64  `json:"revenue"`
	RevenuePerRecipient float64  `json:"revenue_per_recipient"`
	UnsubRate           float64  `json:"unsub_rate"`
	ComplaintRate       float64  `json:"complaint_rate"`
	BounceRate          float64  `json:"bounce_rate"`
	Tags                []string `json:"tags,omitempty"`
	Synthetic           bool     `json:"synthetic"`
}

// Key returns the row's dedup key.
func (r Row) Key() RowKey {
	return RowKey{Day: r.Day, FlowID: r.FlowID, MessageID: r.MessageID}
}

// HasTag reports whether the row carries tag.
func (r Row) HasTag(tag string) bool {
	return slices.Contains(r.Tags, tag)
}

// AddTag appends tag once.
func (r *Row) AddTag(tag string) {
	if tag != "" && !r.HasTag(tag) {
		r.Tags = append(r.Tags, tag)
	}
}

// Derive recomputes the count-based rates from the counts.
func (r *Row) Derive() {
	r.OpenRate = ratio(float64(r.UniqueOpens), r.Delivered)
	r.ClickRate = ratio(float64(r.UniqueClicks), r.Delivered)
	r.PlacedOrderRate = ratio(float64(r.PlacedOrder), r.Delivered)
	r.RevenuePerRecipient = ratio(r.Revenue, r.Delivered)
}

// Merge folds other into r: counts are summed and the upstream-supplied
// rates are re-weighted by delivered volume.
func (r *Row) Merge(other Row) {
	total := r.Delivered + other.Delivered
	r.UnsubRate = weighted(r.UnsubRate, r.Delivered, other.UnsubRate, other.Delivered)
	r.ComplaintRate = weighted(r.ComplaintRate, r.Delivered, other.ComplaintRate, other.Delivered)
	r.BounceRate = weighted(r.BounceRate, r.Delivered, other.BounceRate, other.Delivered)

	r.Delivered = total
	r.UniqueOpens += other.UniqueOpens
	r.UniqueClicks += other.UniqueClicks
	r.PlacedOrder += other.PlacedOrder
	r.Revenue += other.Revenue
	for _, t := range other.Tags {
		r.AddTag(t)
	}
	r.AddTag(TagMerged)
	r.Derive()
}

// Record renders the row in Columns order.
func (r Row) Record() []string {
	return []string{
		r.Day,
		r.FlowID,
		r.FlowName,
		r.MessageID,
		r.MessageName,
		r.Channel,
		r.Status,
		strconv.FormatInt(r.Delivered, 10),
		strconv.FormatInt(r.UniqueOpens, 10),
		formatRate(r.OpenRate),
		strconv.FormatInt(r.UniqueClicks, 10),
		formatRate(r.ClickRate),
		strconv.FormatInt(r.PlacedOrder, 10),
		formatRate(r.PlacedOrderRate),
		strconv.FormatFloat(r.Revenue, 'f', 2, 64),
		strconv.FormatFloat(r.RevenuePerRecipient, 'f', 4, 64),
		formatRate(r.UnsubRate),
		formatRate(r.ComplaintRate),
		formatRate(r.BounceRate),
		strings.Join(r.Tags, ";"),
	}
}

func ratio(num float64, den int64) float64 {
	if den <= 0 {
		return 0
	}
	return num / float64(den)
}

func weighted(a float64, wa int64, b float64, wb int64) float64 {
	if wa+wb <= 0 {
		return (a + b) / 2
	}
	return (a*float64(wa) + b*float64(wb)) / float64(wa+wb)
}

func formatRate(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
