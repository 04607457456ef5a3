package aggregate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/flow-analytics/internal/model"
)

// fakeSource is an in-memory Source. report decides the rows for a window.
type fakeSource struct {
	tz       *time.Location
	flows    []model.Flow
	messages map[string][]model.FlowMessage
	single   map[string]model.FlowMessage
	report   func(w Window) ([]model.ReportRow, error)

	listDelay time.Duration
	inflight  atomic.Int32
	peak      atomic.Int32

	mu          sync.Mutex
	reportCalls []Window
	listCalls   map[string]int
	singleCalls map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		tz:          time.UTC,
		messages:    make(map[string][]model.FlowMessage),
		single:      make(map[string]model.FlowMessage),
		listCalls:   make(map[string]int),
		singleCalls: make(map[string]int),
	}
}

func (f *fakeSource) Flows(context.Context) ([]model.Flow, error) {
	return f.flows, nil
}

func (f *fakeSource) FlowMessages(ctx context.Context, flowID string) ([]model.FlowMessage, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.listDelay > 0 {
		select {
		case <-time.After(f.listDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.listCalls[flowID]++
	f.mu.Unlock()
	return f.messages[flowID], nil
}

func (f *fakeSource) FlowMessage(_ context.Context, messageID string) (model.FlowMessage, error) {
	f.mu.Lock()
	f.singleCalls[messageID]++
	f.mu.Unlock()
	m, ok := f.single[messageID]
	if !ok {
		return model.FlowMessage{}, eris.Errorf("message %s: upstream 404", messageID)
	}
	return m, nil
}

func (f *fakeSource) Report(_ context.Context, w Window, _ []string) ([]model.ReportRow, error) {
	f.mu.Lock()
	f.reportCalls = append(f.reportCalls, w)
	f.mu.Unlock()
	if f.report == nil {
		return nil, nil
	}
	return f.report(w)
}

func (f *fakeSource) Timezone(context.Context) (*time.Location, error) {
	return f.tz, nil
}

func (f *fakeSource) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reportCalls)
}

// isDay reports whether w covers exactly the calendar day label.
func isDay(w Window, label string) bool {
	return w.Start.Format(dayLayout) == label && w.End.Sub(w.Start) <= 25*time.Hour
}

func day(s string) time.Time {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

// welcomeSource has one live flow with two email steps and one SMS step.
func welcomeSource() *fakeSource {
	src := newFakeSource()
	src.flows = []model.Flow{
		{ID: "F1", Name: "Welcome", Status: model.FlowStatusLive},
	}
	src.messages["F1"] = []model.FlowMessage{
		{ID: "M2", FlowID: "F1", Position: 2, Name: "Welcome 2", Channel: "email", ActionID: "A2"},
		{ID: "M1", FlowID: "F1", Position: 1, Name: "Welcome 1", Channel: "email", ActionID: "A1"},
		{ID: "S1", FlowID: "F1", Position: 3, Name: "SMS", Channel: "sms", ActionID: "A3"},
	}
	return src
}
