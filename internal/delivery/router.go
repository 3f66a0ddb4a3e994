package delivery

import (
	"fmt"
	"strings"

	appErr "github.com/samims/keepsake/internal/errors"
	"github.com/samims/keepsake/internal/model"
)

// Router picks the channel for each recipient of a keepsake.
//
// Single-channel keepsakes always go through the default channel. Multi-channel
// keepsakes send telegram:-prefixed addresses to Telegram when it is configured
// and everything else to the default channel.
type Router struct {
	fallback Channel
	telegram Channel
}

// NewRouter builds a router. telegram may be nil.
func NewRouter(fallback, telegram Channel) *Router {
	return &Router{fallback: fallback, telegram: telegram}
}

// Route returns the channel for address.
func (r *Router) Route(kind model.ChannelType, address string) (Channel, error) {
	isTelegram := strings.HasPrefix(address, TelegramPrefix)

	switch {
	case !isTelegram:
		return r.fallback, nil
	case kind == model.ChannelMulti && r.telegram != nil:
		return r.telegram, nil
	default:
		return nil, appErr.Permanent("route", fmt.Errorf("%q on %s keepsake: %w", address, kind, appErr.ErrUnsupportedAddress))
	}
}

// Channels lists every configured channel, for health checks.
func (r *Router) Channels() []Channel {
	out := []Channel{r.fallback}
	if r.telegram != nil {
		out = append(out, r.telegram)
	}
	return out
}
