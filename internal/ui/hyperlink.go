// internal/ui/hyperlink.go
package ui

import "fmt"

// Hyperlink creates a clickable hyperlink using OSC 8 escape
// sequences, supported by most modern terminal emulators. The returned
// string displays text but clicking opens url.
func Hyperlink(url, text string) string {
	return fmt.Sprintf("\x1b]8;;%s\x07%s\x1b]8;;\x07", url, text)
}

// HyperlinkSelf creates a clickable hyperlink where the URL is displayed as-is.
func HyperlinkSelf(url string) string {
	return Hyperlink(url, url)
}
