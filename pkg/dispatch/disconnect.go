package dispatch

import (
	"github.com/flux-framework/flux-core-sub021/pkg/fluxerr"
	"github.com/flux-framework/flux-core-sub021/pkg/handle"
	"github.com/flux-framework/flux-core-sub021/pkg/message"
	"github.com/flux-framework/flux-core-sub021/pkg/msglist"
)

// firstHopSender identifies the peer a stored request arrived from: the
// most recently pushed route frame, i.e. the adjacent hop rather than the
// original requester several hops upstream.
func firstHopSender(msg *message.Message) ([]byte, bool) {
	return msg.LastRoute()
}

func sameSender(a, b *message.Message) bool {
	sa, ok1 := firstHopSender(a)
	sb, ok2 := firstHopSender(b)
	if !ok1 || !ok2 {
		return false
	}
	if len(sa) != len(sb) {
		return false
	}
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

// Disconnect removes every request stored in list that arrived from the
// same peer as disconnectMsg and that disconnectMsg's sender is authorized
// to act on (owner role, or matching userid). It reports how many entries
// were removed.
//
// Grounded on original_source/src/common/libflux/disconnect.c.
func Disconnect(list *msglist.Msglist, disconnectMsg *message.Message) int {
	removed := 0
	msg, cur := list.First()
	for cur != nil {
		next, nextCur := cur.Next()
		if sameSender(msg, disconnectMsg) && disconnectMsg.Authorize(msg.Userid()) {
			cur.Delete()
			removed++
		}
		msg, cur = next, nextCur
	}
	return removed
}

// Cancel finds exactly one request stored in list matching cancelMsg's
// sender, authorization, and target matchtag, sends it an ENODATA response
// through h, and removes it from list. It reports whether an entry was
// found and canceled.
//
// The target matchtag is not cancelMsg's own wire matchtag field — it is
// carried as a JSON body field, {"matchtag": N}, the same way
// flux_cancel_match unpacks it from the cancel request's payload before
// comparing it against the stored request's wire matchtag.
//
// Grounded on original_source/src/common/libflux/disconnect.c, the
// narrower single-request sibling of Disconnect.
func Cancel(h *handle.Handle, list *msglist.Msglist, cancelMsg *message.Message) bool {
	var body struct {
		Matchtag uint32 `json:"matchtag"`
	}
	if err := cancelMsg.UnpackJSON(&body); err != nil {
		return false
	}

	msg, cur := list.First()
	for cur != nil {
		if sameSender(msg, cancelMsg) &&
			cancelMsg.Authorize(msg.Userid()) &&
			msg.Matchtag() == body.Matchtag {
			resp := message.DeriveResponse(msg, fluxerr.ENODATA)
			_ = h.Send(resp, 0)
			cur.Delete()
			return true
		}
		msg, cur = cur.Next()
	}
	return false
}
