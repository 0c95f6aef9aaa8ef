package utils

import (
	"fmt"
	"net/url"
	"strings"
)

// TrackingPixelURL builds the open-tracking pixel URL for one send
func TrackingPixelURL(baseURL, trackingID string) string {
	return fmt.Sprintf("%s/track/open/%s", baseURL, trackingID)
}

// ClickTrackURL wraps a link so the click is attributed before redirecting
func ClickTrackURL(baseURL, trackingID, originalURL string) string {
	return fmt.Sprintf("%s/track/click/%s?url=%s", baseURL, trackingID, url.QueryEscape(originalURL))
}

// InjectTracking rewrites links for click tracking and appends the open
// pixel to an HTML body
func InjectTracking(htmlContent, baseURL, trackingID string) string {
	modified := injectClickTracking(htmlContent, baseURL, trackingID)
	pixel := fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`, TrackingPixelURL(baseURL, trackingID))
	return modified + pixel
}

func injectClickTracking(html, baseURL, trackingID string) string {
	const startTag = `<a href="`
	const endTag = `"`
	offset := 0

	for {
		startIdx := strings.Index(html[offset:], startTag)
		if startIdx == -1 {
			break
		}
		startIdx += offset + len(startTag)

		endIdx := strings.Index(html[startIdx:], endTag)
		if endIdx == -1 {
			break
		}
		endIdx += startIdx

		tracked := ClickTrackURL(baseURL, trackingID, html[startIdx:endIdx])
		html = html[:startIdx] + tracked + html[endIdx:]
		offset = startIdx + len(tracked)
	}

	return html
}
