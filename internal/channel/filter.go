package channel

import "github.com/banshee-data/udpbridge/internal/packet"

// MaxFilters is CAN_RAW_FILTER_MAX; longer filter lists are truncated.
const MaxFilters = 512

// Filter is one CAN_RAW_FILTER entry. A frame passes when
// frame.ID & Mask == ID & Mask.
type Filter struct {
	ID   uint32
	Mask uint32
}

// BuildFilters turns configured identifiers into exact-match filters.
//
// Identifiers that fit in 11 bits match standard frames only; larger ones are
// flagged extended and match extended frames only. Both masks include the
// EFF and RTR bits so a standard filter never matches an extended frame that
// happens to share the low bits, and remote requests are not forwarded.
func BuildFilters(ids []uint32) []Filter {
	filters := make([]Filter, 0, len(ids))
	for _, id := range ids {
		if id > packet.CANSFFMask {
			filters = append(filters, Filter{
				ID:   (id & packet.CANEFFMask) | packet.CANEFFFlag,
				Mask: packet.CANEFFMask | packet.CANEFFFlag | packet.CANRTRFlag,
			})
			continue
		}
		filters = append(filters, Filter{
			ID:   id,
			Mask: packet.CANSFFMask | packet.CANEFFFlag | packet.CANRTRFlag,
		})
	}
	return filters
}

// Matches applies the kernel's filter rule to a received can_id.
func (f Filter) Matches(canID uint32) bool {
	return canID&f.Mask == f.ID&f.Mask
}

// MatchAny reports whether canID passes a filter list. An empty list passes
// everything, as an unfiltered socket does.
func MatchAny(filters []Filter, canID uint32) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.Matches(canID) {
			return true
		}
	}
	return false
}
