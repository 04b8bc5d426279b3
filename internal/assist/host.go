package assist

import (
	"context"
	"encoding/json"
)

// Host is the capture library the assist layer rides on. Start and Stop must
// fire the OnStart/OnStop callbacks synchronously, before they return, and
// Stop must eventually follow every Start exactly once.
type Host interface {
	ProjectKey() string
	SessionID() string
	SessionInfo() map[string]any

	Start(ctx context.Context) error
	Stop()

	OnStart(fn func())
	OnStop(fn func())
	OnCommit(fn func(batch []json.RawMessage))
	OnVisibility(fn func(visible bool))
	OnSessionUpdate(fn func(info map[string]any))
}

// Transport is the peer-media transport. Incoming calls are handed to
// (*Assist).HandleOffer by whoever owns the transport.
type Transport interface {
	Open(ctx context.Context, id string) error
	Close()
}

// StatsOnly matches a batch made of exactly the given record ids, in order.
// Such batches carry only capture statistics and are not worth relaying.
func StatsOnly(ids ...int) func([]json.RawMessage) bool {
	return func(batch []json.RawMessage) bool {
		if len(ids) == 0 || len(batch) != len(ids) {
			return false
		}
		for i, raw := range batch {
			var rec struct {
				ID *int `json:"_id"`
			}
			if err := json.Unmarshal(raw, &rec); err != nil || rec.ID == nil || *rec.ID != ids[i] {
				return false
			}
		}
		return true
	}
}
