package com

import "github.com/rs/xid"

// Uid is the module-wide identifier: relay event ids, subscription ids,
// and the random part of room ids all come from here. xid gives short
// ids that need no coordination between parties.
type Uid struct {
	xid.ID
}

var NilUid = Uid{xid.NilID()}

func NewUid() Uid { return Uid{xid.New()} }

func (u Uid) IsEmpty() bool { return u.IsNil() }

// Short is the log-friendly form.
func (u Uid) Short() string { return u.String()[:3] + "." + u.String()[len(u.String())-3:] }
