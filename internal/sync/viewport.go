package sync

// Viewport is the UI layer's report of its current scroll geometry. The
// engine never renders; it only reasons about this snapshot to produce
// scroll plans.
type Viewport struct {
	Height        int
	ContentHeight int
	ScrollTop     int
	// TopMessageID is the id of the topmost fully visible message and
	// TopOffset its pixel offset from the viewport top.
	TopMessageID string
	TopOffset    int
}

// AtBottom reports whether the viewport is within threshold pixels of the
// content bottom.
func (v Viewport) AtBottom(threshold int) bool {
	return v.ContentHeight-(v.ScrollTop+v.Height) <= threshold
}

// ScrollPlan tells the UI where to put the viewport after an update.
// Prepending older messages shifts every offset, so a naive scrollTop
// restore visibly jumps; anchoring to a still-visible message does not.
type ScrollPlan struct {
	// ToBottom scrolls to the newest message.
	ToBottom bool
	// AnchorID, when set, restores the named message to AnchorOffset pixels
	// from the viewport top.
	AnchorID     string
	AnchorOffset int
}

// scrollAnchor is captured at loadOlder start so the pre-pended page cannot
// displace what the user is reading.
type scrollAnchor struct {
	messageID string
	offset    int
}
