package flasher

// Result summarizes a completed Run. It is returned alongside Run's error,
// which callers that only care about pass/fail can ignore in favor of
// Success.
type Result struct {
	// Message is a human-readable summary, e.g. "All done!" or the reason
	// flashing failed.
	Message string
	// Success is true only if every image was written and the device was
	// left ready to boot it.
	Success bool
	// WrittenBlocks is the number of WriteBlockSize blocks successfully
	// written across every image before Run returned.
	WrittenBlocks int
}
