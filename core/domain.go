package core

import (
	"strings"
	"time"
)

// CredentialFreshnessMargin is the minimum remaining lifetime a credential
// must have before it is considered usable. The margin guards against a
// token expiring while a request is in flight.
const CredentialFreshnessMargin = 120 * time.Second

// Credential is the OAuth token material shared between the authenticator
// and the run state. ExpiresAt is an absolute epoch-seconds timestamp.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

// Valid reports whether the credential can back a request right now.
func (c Credential) Valid(now time.Time) bool {
	if strings.TrimSpace(c.AccessToken) == "" {
		return false
	}
	if c.ExpiresAt == 0 {
		return false
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	remaining := time.Duration(c.ExpiresAt-now.UTC().Unix()) * time.Second
	return remaining >= CredentialFreshnessMargin
}

// Record is one incoming unit of work: a stream (entity type) name and an
// opaque field mapping. Child collections ride embedded in Data until a sink
// extracts them.
type Record struct {
	Stream string
	Data   map[string]any
}

func NewRecord(stream string, data map[string]any) Record {
	return Record{
		Stream: strings.TrimSpace(stream),
		Data:   cloneAnyMap(data),
	}
}

// RemoteID returns the remote identifier carried by the record, when the
// upstream forces an update path.
func (r Record) RemoteID() string {
	return stringField(r.Data, "id")
}

// ExternalID returns the upstream correlation identifier. It is never sent
// to the remote API.
func (r Record) ExternalID() string {
	return stringField(r.Data, "externalId")
}

// PopChildren removes and returns the embedded child collection stored under
// field. A missing or non-list value yields nil.
func (r Record) PopChildren(field string) []map[string]any {
	if len(r.Data) == 0 {
		return nil
	}
	raw, ok := r.Data[field]
	if !ok {
		return nil
	}
	delete(r.Data, field)
	switch typed := raw.(type) {
	case []map[string]any:
		out := make([]map[string]any, 0, len(typed))
		for _, child := range typed {
			out = append(out, cloneAnyMap(child))
		}
		return out
	case []any:
		out := make([]map[string]any, 0, len(typed))
		for _, child := range typed {
			if m, ok := child.(map[string]any); ok {
				out = append(out, cloneAnyMap(m))
			}
		}
		return out
	default:
		return nil
	}
}

// Clone returns a record whose Data can be mutated without touching the
// caller's copy.
func (r Record) Clone() Record {
	return Record{
		Stream: r.Stream,
		Data:   cloneAnyMap(r.Data),
	}
}

// SyncState is one append-only bookmark entry: the durable outcome of
// processing a single record.
type SyncState struct {
	Hash       string `json:"hash"`
	Success    bool   `json:"success"`
	ID         string `json:"id,omitempty"`
	ExternalID string `json:"externalId,omitempty"`
	IsUpdated  bool   `json:"is_updated,omitempty"`
	Existing   bool   `json:"existing,omitempty"`
	Error      string `json:"error,omitempty"`
}

// StreamCounters tallies outcomes for one stream. Exactly one counter moves
// per processed record.
type StreamCounters struct {
	Success  int `json:"success"`
	Updated  int `json:"updated"`
	Existing int `json:"existing"`
	Fail     int `json:"fail"`
}

// Summary maps stream name to counters; monotonically increasing for the
// lifetime of a run.
type Summary map[string]*StreamCounters

func (s Summary) Counters(stream string) *StreamCounters {
	stream = strings.TrimSpace(stream)
	counters, ok := s[stream]
	if !ok {
		counters = &StreamCounters{}
		s[stream] = counters
	}
	return counters
}

// RunState is the document flushed at run end: per-stream counters, the
// ordered bookmark ledger, and the latest auth state so a mid-run token
// refresh survives early termination.
type RunState struct {
	Summary   Summary                `json:"summary"`
	Bookmarks map[string][]SyncState `json:"bookmarks"`
	AuthState map[string]any         `json:"auth_state,omitempty"`
}

func NewRunState() *RunState {
	return &RunState{
		Summary:   Summary{},
		Bookmarks: map[string][]SyncState{},
	}
}

// Append adds a bookmark entry for stream. Entries are never mutated after
// append.
func (s *RunState) Append(stream string, state SyncState) {
	if s == nil {
		return
	}
	stream = strings.TrimSpace(stream)
	if s.Bookmarks == nil {
		s.Bookmarks = map[string][]SyncState{}
	}
	s.Bookmarks[stream] = append(s.Bookmarks[stream], state)
}

// MergeAuthState folds the credential store snapshot into the run state.
func (s *RunState) MergeAuthState(state map[string]any) {
	if s == nil || len(state) == 0 {
		return
	}
	if s.AuthState == nil {
		s.AuthState = map[string]any{}
	}
	for key, value := range state {
		s.AuthState[key] = value
	}
}

func stringField(data map[string]any, key string) string {
	if len(data) == 0 {
		return ""
	}
	value, ok := data[key]
	if !ok || value == nil {
		return ""
	}
	text, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(text)
}

func cloneAnyMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
