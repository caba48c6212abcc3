package middleware

import tele "gopkg.in/telebot.v4"

// AdminOptions defines how admin-only checks should behave.
type AdminOptions struct {
	AdminID  int64
	OnReject tele.HandlerFunc
}

// IsAdmin reports whether the update originates from the configured admin
// identity. The admin id may name either a user or a chat, so both are
// accepted.
func IsAdmin(c tele.Context, adminID int64) bool {
	if adminID == 0 {
		return false
	}
	if sender := c.Sender(); sender != nil && sender.ID == adminID {
		return true
	}
	if chat := c.Chat(); chat != nil && chat.ID == adminID {
		return true
	}
	return false
}

// AdminOnlyMiddleware ensures that only the admin identity can invoke downstream handlers.
func AdminOnlyMiddleware(opts AdminOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if opts.AdminID != 0 && !IsAdmin(c, opts.AdminID) {
				if opts.OnReject != nil {
					return opts.OnReject(c)
				}
				return nil
			}
			return next(c)
		}
	}
}
