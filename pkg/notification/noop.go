package notification

import "github.com/solbot-labs/engine/pkg/core"

// Noop discards every notification. Used when no alert channel is
// configured (spec §6: notifications are optional).
type Noop struct{}

func (Noop) Notify(string)        {}
func (Noop) OnOrder(core.Order)   {}
func (Noop) OnError(error)        {}

var _ core.Notifier = Noop{}
