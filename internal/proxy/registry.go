package proxy

import (
	"sync"
	"time"

	"github.com/router-for-me/wsmitm/internal/wsrelay"
)

// FlowSummary is the registry's read-only view of one flow for the
// inspection API.
type FlowSummary struct {
	ID        string    `json:"id"`
	Target    string    `json:"target"`
	Started   time.Time `json:"started"`
	Live      bool      `json:"live"`
	Messages  int       `json:"messages,omitempty"`
	CloseCode int       `json:"close_code,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// MessageView is one relayed message rendered for the inspection API.
type MessageView struct {
	Origin  string    `json:"origin"`
	Kind    string    `json:"kind"`
	Size    int       `json:"size"`
	Killed  bool      `json:"killed,omitempty"`
	Time    time.Time `json:"time"`
	Preview string    `json:"preview,omitempty"`
}

// FlowDetail is the full rendering of a finished flow.
type FlowDetail struct {
	FlowSummary
	ClosedByClient bool          `json:"closed_by_client"`
	CloseReason    string        `json:"close_reason,omitempty"`
	Ended          time.Time     `json:"ended"`
	MessageList    []MessageView `json:"message_list"`
}

// Registry tracks live flows and retains a bounded window of finished ones.
// Live flows are still being mutated by their relay goroutine, so the
// registry only reads their immutable fields; full details become available
// once a flow finishes.
type Registry struct {
	mu        sync.RWMutex
	live      map[string]*wsrelay.Flow
	finished  map[string]*wsrelay.Flow
	order     []string
	retention int
}

// NewRegistry builds a registry retaining up to retention finished flows.
func NewRegistry(retention int) *Registry {
	return &Registry{
		live:      make(map[string]*wsrelay.Flow),
		finished:  make(map[string]*wsrelay.Flow),
		retention: retention,
	}
}

// Add registers a flow whose session is starting.
func (r *Registry) Add(flow *wsrelay.Flow) {
	r.mu.Lock()
	r.live[flow.ID] = flow
	r.mu.Unlock()
}

// Finish moves a flow from the live set into the retained window, evicting
// the oldest finished flow beyond the retention cap.
func (r *Registry) Finish(flow *wsrelay.Flow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, flow.ID)
	if _, ok := r.finished[flow.ID]; ok {
		return
	}
	r.finished[flow.ID] = flow
	r.order = append(r.order, flow.ID)
	for len(r.order) > r.retention {
		delete(r.finished, r.order[0])
		r.order = r.order[1:]
	}
}

// Summaries lists every known flow, live first, newest finished last.
func (r *Registry) Summaries() []FlowSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]FlowSummary, 0, len(r.live)+len(r.order))
	for _, flow := range r.live {
		out = append(out, FlowSummary{
			ID:      flow.ID,
			Target:  flow.Target,
			Started: flow.Started,
			Live:    true,
		})
	}
	for _, id := range r.order {
		out = append(out, summarize(r.finished[id]))
	}
	return out
}

// Detail returns the full view of a finished flow. Live flows have no detail
// yet; the second return value reports whether the id resolved.
func (r *Registry) Detail(id string) (*FlowDetail, bool) {
	r.mu.RLock()
	flow, ok := r.finished[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	detail := &FlowDetail{
		FlowSummary:    summarize(flow),
		ClosedByClient: flow.ClosedByClient,
		CloseReason:    flow.CloseReason,
		Ended:          flow.Ended,
		MessageList:    make([]MessageView, 0, len(flow.Messages)),
	}
	for _, msg := range flow.Messages {
		origin := "server"
		if msg.FromClient {
			origin = "client"
		}
		view := MessageView{
			Origin: origin,
			Kind:   msg.Kind.String(),
			Size:   len(msg.Content),
			Killed: msg.Killed,
			Time:   msg.Time,
		}
		if msg.Kind == wsrelay.KindText {
			view.Preview = preview(msg.Content)
		}
		detail.MessageList = append(detail.MessageList, view)
	}
	return detail, true
}

func summarize(flow *wsrelay.Flow) FlowSummary {
	s := FlowSummary{
		ID:        flow.ID,
		Target:    flow.Target,
		Started:   flow.Started,
		Messages:  len(flow.Messages),
		CloseCode: flow.CloseCode,
	}
	if flow.Err != nil {
		s.Error = flow.Err.Error()
	}
	return s
}

const previewLimit = 256

func preview(content []byte) string {
	if len(content) > previewLimit {
		content = content[:previewLimit]
	}
	return string(content)
}
