package interfaces

// CleanerService dispatches content to the first matching cleaning strategy.
// A false matched return means no strategy handled the content and the raw
// text passed through unchanged.
type CleanerService interface {
	Clean(url, mimetype string, content []byte) (text string, strategy string, matched bool)
}
