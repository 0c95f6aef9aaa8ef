package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInjectTrackingAppendsPixel(t *testing.T) {
	out := InjectTracking("<p>Hello</p>", "https://track.example.com", "abc-123")

	assert.Contains(t, out, `<p>Hello</p>`)
	assert.Contains(t, out, `https://track.example.com/track/open/abc-123`)
	assert.Contains(t, out, `width="1" height="1"`)
}

func TestInjectTrackingRewritesLinks(t *testing.T) {
	body := `<a href="https://product.example.com/demo">Book a demo</a>`
	out := InjectTracking(body, "https://track.example.com", "abc-123")

	assert.Contains(t, out, `https://track.example.com/track/click/abc-123?url=`)
	assert.Contains(t, out, `https%3A%2F%2Fproduct.example.com%2Fdemo`)
	assert.NotContains(t, out, `href="https://product.example.com/demo"`)
}

func TestInjectTrackingMultipleLinks(t *testing.T) {
	body := `<a href="https://a.example.com">A</a> and <a href="https://b.example.com">B</a>`
	out := InjectTracking(body, "https://track.example.com", "abc-123")

	assert.Contains(t, out, `https%3A%2F%2Fa.example.com`)
	assert.Contains(t, out, `https%3A%2F%2Fb.example.com`)
}
