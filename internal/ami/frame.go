package ami

import "bytes"

var crlf = []byte("\r\n")

// FrameAssembler groups CRLF-terminated lines from a LineReader into whole
// AMI messages, terminating each frame on a line that is CRLF alone.
type FrameAssembler struct {
	lr      *LineReader
	payload bytes.Buffer
}

// NewFrameAssembler wraps lr.
func NewFrameAssembler(lr *LineReader) *FrameAssembler {
	return &FrameAssembler{lr: lr}
}

// Next reads lines until a blank line terminates a frame, then parses the
// accumulated payload into a Message. It returns ErrEOF if the stream ends
// cleanly between frames (no bytes pending for the current frame, not even a
// partial line), or a *Malformed "unexpected EOF" if the stream ends
// mid-frame.
func (fa *FrameAssembler) Next() (*Message, error) {
	fa.payload.Reset()
	for {
		line, err := fa.lr.NextLine()
		if err != nil {
			if err == ErrEOF {
				if fa.payload.Len() == 0 && len(fa.lr.buf) == 0 {
					return nil, ErrEOF
				}
				return nil, &Malformed{Reason: "unexpected EOF"}
			}
			return nil, err
		}
		fa.payload.Write(line)
		if bytes.Equal(line, crlf) {
			return FromBytes(fa.payload.Bytes())
		}
	}
}
