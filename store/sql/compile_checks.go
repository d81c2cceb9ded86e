package sqlstore

import "github.com/goliatone/go-reverify/core"

var (
	_ core.RunStore          = (*RunStore)(nil)
	_ core.SiteDirectory     = (*SiteDirectory)(nil)
	_ core.IdentityDirectory = (*IdentityDirectory)(nil)
	_ core.OutcomeRecorder   = (*IdentityDirectory)(nil)
)
