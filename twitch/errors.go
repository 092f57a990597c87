package twitch

// Error is the service error carried in the comments API envelope. It is
// fatal: the video is gone, restricted, or the id never existed.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }
