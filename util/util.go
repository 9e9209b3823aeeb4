// Package util is a set of utility variables or methods
package util

import mapset "github.com/deckarep/golang-set/v2"

// SupportedExt is the set of media extensions the viewer will rotate through.
// mpv renders all of these, including animated gifs and short video clips.
var SupportedExt = mapset.NewSet(
	".jpeg", ".jpg", ".JPEG", ".JPG",
	".png", ".PNG",
	".gif", ".GIF",
	".mp4", ".MP4",
	".webm", ".WEBM",
)
