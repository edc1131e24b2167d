package driver

// Scripts are javascript function expressions evaluated with ExecuteScript, every driver
// implementation must accept them as-is.
const (
	// ScriptOuterHTML takes a selector and returns the outer html of the first match, or null.
	ScriptOuterHTML = `(selector) => {
	const el = document.querySelector(selector)
	return el ? el.outerHTML : null
}`

	// ScriptScrollToEnd takes a selector and scrolls the first scrollable element inside its
	// first match (itself included) to the bottom, it returns false when nothing scrolls.
	ScriptScrollToEnd = `(selector) => {
	const root = document.querySelector(selector)
	if (!root) {
		return false
	}
	const candidates = [root, ...root.querySelectorAll("div, ul")]
	const box = candidates.find((el) => el.scrollHeight > el.clientHeight)
	if (!box) {
		return false
	}
	box.scrollTo(0, box.scrollHeight)
	return true
}`

	// ScriptClearInput takes a list of selectors and empties the first input they match, it
	// returns false when none matches.
	ScriptClearInput = `(selectors) => {
	for (const selector of selectors) {
		const el = document.querySelector(selector)
		if (!el) {
			continue
		}
		if ("value" in el) {
			const desc = Object.getOwnPropertyDescriptor(Object.getPrototypeOf(el), "value")
			desc.set.call(el, "")
		} else {
			el.textContent = ""
		}
		el.dispatchEvent(new Event("input", { bubbles: true }))
		return true
	}
	return false
}`

	// ScriptOverrideCommentPayload takes the true text of a comment and rewrites the next
	// comment submission request to carry it, whatever the input surface displays. The rewrite
	// applies once, later requests go out untouched.
	ScriptOverrideCommentPayload = `(text) => {
	const pattern = /comment_text=.*&replied_to_comment_id=/
	const payload = "comment_text=" + encodeURIComponent(text) + "&replied_to_comment_id="
	if (!XMLHttpRequest.prototype.__realSend) {
		XMLHttpRequest.prototype.__realSend = XMLHttpRequest.prototype.send
	}
	XMLHttpRequest.prototype.send = function (data) {
		if (typeof data === "string" && pattern.test(data)) {
			XMLHttpRequest.prototype.send = XMLHttpRequest.prototype.__realSend
			data = payload
		}
		return this.__realSend(data)
	}
	return true
}`

	// ScriptRestoreCommentPayload drops a pending ScriptOverrideCommentPayload rewrite.
	ScriptRestoreCommentPayload = `() => {
	if (XMLHttpRequest.prototype.__realSend) {
		XMLHttpRequest.prototype.send = XMLHttpRequest.prototype.__realSend
	}
	return true
}`
)
