package transport

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// SyntheticDevices produces placeholder tracks that mirror the negotiated
// media state of a peer. Media bytes flow peer-to-peer; the service only
// tracks which tracks exist and whether they are enabled, so no real
// capture device is needed on this side.
type SyntheticDevices struct{}

// NewSyntheticDevices creates a device source with no hardware behind it
func NewSyntheticDevices() *SyntheticDevices {
	return &SyntheticDevices{}
}

// GetUserMedia returns a stream with one track per requested kind
func (d *SyntheticDevices) GetUserMedia(ctx context.Context, constraints MediaConstraints) (*MediaStream, error) {
	if !constraints.Audio && !constraints.Video {
		return nil, fmt.Errorf("no media kinds requested")
	}

	var tracks []*Track
	if constraints.Audio {
		tracks = append(tracks, NewTrack(fmt.Sprintf("audio-%s", uuid.New()), TrackKindAudio))
	}
	if constraints.Video {
		tracks = append(tracks, NewTrack(fmt.Sprintf("video-%s", uuid.New()), TrackKindVideo))
	}

	return NewMediaStream(fmt.Sprintf("stream-%s", uuid.New()), tracks...), nil
}

// GetDisplayMedia returns a screen capture stream. There is no picker on
// this side, so the request always succeeds.
func (d *SyntheticDevices) GetDisplayMedia(ctx context.Context) (*MediaStream, error) {
	track := NewTrack(fmt.Sprintf("screen-%s", uuid.New()), TrackKindVideo)
	return NewMediaStream(fmt.Sprintf("display-%s", uuid.New()), track), nil
}
