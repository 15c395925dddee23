package proxy

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/router-for-me/wsmitm/internal/wsrelay"
)

func TestRegistryLifecycle(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(4)
	flow := &wsrelay.Flow{ID: "f1", Target: "ws://example.com/chat"}
	reg.Add(flow)

	summaries := reg.Summaries()
	if len(summaries) != 1 || !summaries[0].Live {
		t.Fatalf("Summaries() = %+v, want one live flow", summaries)
	}
	if _, ok := reg.Detail("f1"); ok {
		t.Fatalf("Detail() available for live flow")
	}

	flow.Messages = append(flow.Messages, &wsrelay.Message{Kind: wsrelay.KindText, FromClient: true, Content: []byte("hi")})
	flow.CloseCode = 1000
	reg.Finish(flow)

	summaries = reg.Summaries()
	if len(summaries) != 1 || summaries[0].Live {
		t.Fatalf("Summaries() = %+v, want one finished flow", summaries)
	}
	detail, ok := reg.Detail("f1")
	if !ok {
		t.Fatalf("Detail() missing for finished flow")
	}
	if len(detail.MessageList) != 1 || detail.MessageList[0].Origin != "client" || detail.MessageList[0].Preview != "hi" {
		t.Fatalf("Detail() messages = %+v", detail.MessageList)
	}
}

func TestRegistryRetentionEvictsOldest(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(2)
	for _, id := range []string{"a", "b", "c"} {
		flow := &wsrelay.Flow{ID: id}
		reg.Add(flow)
		reg.Finish(flow)
	}

	if _, ok := reg.Detail("a"); ok {
		t.Fatalf("oldest flow not evicted")
	}
	for _, id := range []string{"b", "c"} {
		if _, ok := reg.Detail(id); !ok {
			t.Fatalf("flow %q evicted early", id)
		}
	}
}

// A live flow is read by the API goroutine while its relay goroutine is
// starting up; every field Summaries touches must already be set when the
// flow is published. Run with -race.
func TestSummariesWhileSessionStarts(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(4)
	flow := &wsrelay.Flow{
		ID:             "live",
		Client:         &wsrelay.Endpoint{ID: "client"},
		Server:         &wsrelay.Endpoint{ID: "server"},
		Target:         "ws://upstream.example/chat",
		ResponseHeader: http.Header{},
		Started:        time.Now(),
	}
	reg.Add(flow)

	done := make(chan struct{})
	go func() {
		defer close(done)
		layer := wsrelay.NewLayer(flow, wsrelay.Hooks{})
		layer.HandleEvent(wsrelay.Start{})
	}()

	for i := 0; i < 1000; i++ {
		for _, s := range reg.Summaries() {
			if s.Started.IsZero() {
				t.Fatal("live summary missing start time")
			}
		}
	}
	<-done
}

func TestRegistrySummaryCarriesError(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(2)
	flow := &wsrelay.Flow{ID: "bad", Err: errors.New("websocket error: ABNORMAL_CLOSURE")}
	reg.Add(flow)
	reg.Finish(flow)

	summaries := reg.Summaries()
	if summaries[0].Error != "websocket error: ABNORMAL_CLOSURE" {
		t.Fatalf("summary error = %q", summaries[0].Error)
	}
}
