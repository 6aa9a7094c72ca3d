// Package relay is a client for the publish/subscribe event log used
// as the decentralized signaling channel. Events are tagged key/value
// records; queries filter by "tag equals one of these values" and
// return events in roughly chronological order. Publish acknowledges
// once the write is accepted, nothing stronger; delivery to
// subscribers is at-least-once and unordered.
package relay

import (
	"strconv"
	"time"

	"github.com/retroplay/netplay/pkg/com"
)

const (
	// KindSession is the addressable room snapshot: the relay keeps
	// only the newest event per (kind, pubkey, d tag).
	KindSession = 30900
	// KindSignal carries point-to-point signaling messages.
	KindSignal = 20900
)

// Tag is a named value, [name, value, ...]; repeated names are allowed
// on one event, and the set is ordering-independent.
type Tag []string

func (t Tag) Name() string {
	if len(t) > 0 {
		return t[0]
	}
	return ""
}

func (t Tag) Value() string {
	if len(t) > 1 {
		return t[1]
	}
	return ""
}

// Event is one record of the log.
type Event struct {
	Id        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      []Tag  `json:"tags"`
	Content   string `json:"content"`
}

// NewEvent makes a stamped event: fresh id, current timestamp.
func NewEvent(pubkey string, kind int) Event {
	return Event{
		Id:        com.NewUid().String(),
		PubKey:    pubkey,
		CreatedAt: time.Now().Unix(),
		Kind:      kind,
	}
}

func (e *Event) AddTag(name string, values ...string) {
	e.Tags = append(e.Tags, append(Tag{name}, values...))
}

// TagValue returns the value of the first tag with the given name.
func (e *Event) TagValue(name string) (string, bool) {
	for _, t := range e.Tags {
		if t.Name() == name {
			return t.Value(), true
		}
	}
	return "", false
}

// TagValues returns the values of every tag with the given name.
func (e *Event) TagValues(name string) (values []string) {
	for _, t := range e.Tags {
		if t.Name() == name {
			values = append(values, t.Value())
		}
	}
	return
}

// Addressable events are replaceable by their (kind, pubkey, d) triple.
func (e *Event) Addressable() bool { return e.Kind >= 30000 && e.Kind < 40000 }

// Address is the replacement key of an addressable event.
func (e *Event) Address() string {
	d, _ := e.TagValue("d")
	return strconv.Itoa(e.Kind) + ":" + e.PubKey + ":" + d
}

// Filter selects events from the log. Zero fields match everything.
type Filter struct {
	Ids     []string            `json:"ids,omitempty"`
	Kinds   []int               `json:"kinds,omitempty"`
	Authors []string            `json:"authors,omitempty"`
	Since   int64               `json:"since,omitempty"`
	Limit   int                 `json:"limit,omitempty"`
	Tags    map[string][]string `json:"tags,omitempty"`
}

// Matches reports whether the event passes the filter. Every tag entry
// must be satisfied: the event has that tag with one of the values.
func (f *Filter) Matches(e *Event) bool {
	if len(f.Ids) > 0 && !has(f.Ids, e.Id) {
		return false
	}
	if len(f.Authors) > 0 && !has(f.Authors, e.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 {
		ok := false
		for _, k := range f.Kinds {
			if k == e.Kind {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Since > 0 && e.CreatedAt < f.Since {
		return false
	}
	for name, values := range f.Tags {
		ok := false
		for _, v := range e.TagValues(name) {
			if has(values, v) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func has(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
