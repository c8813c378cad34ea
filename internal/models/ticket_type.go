package models

import (
	"strings"
	"unicode/utf8"
)

type TicketType string

const (
	TicketTypeVIP              TicketType = "VIP"
	TicketTypeGeneralAdmission TicketType = "GENERAL-ADMISSION"
	TicketTypeHalfPrice        TicketType = "HALF-PRICE"
	TicketTypeBooth            TicketType = "BOOTH"
)

// DefaultTicketTypes is used when no TICKET_TYPES override is configured.
var DefaultTicketTypes = []TicketType{
	TicketTypeVIP,
	TicketTypeGeneralAdmission,
	TicketTypeHalfPrice,
	TicketTypeBooth,
}

// NormalizeTicketType maps user input like "vip" or "general admission" onto
// the canonical upper-case, hyphenated form. It does not check membership.
func NormalizeTicketType(raw string) TicketType {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer("_", "-", " ", "-").Replace(s)
	return TicketType(s)
}

// TicketTypeSet is the fixed enumeration a deployment accepts.
type TicketTypeSet map[TicketType]struct{}

func NewTicketTypeSet(types []TicketType) TicketTypeSet {
	set := make(TicketTypeSet, len(types))
	for _, t := range types {
		set[NormalizeTicketType(string(t))] = struct{}{}
	}
	return set
}

// Resolve normalizes raw and reports whether the result is a member. Input
// outside ASCII never matches, since upper-casing folds look-alike letters.
func (s TicketTypeSet) Resolve(raw string) (TicketType, bool) {
	if !isASCII(raw) {
		return "", false
	}
	t := NormalizeTicketType(raw)
	_, ok := s[t]
	return t, ok
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
