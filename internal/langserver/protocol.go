package langserver

import (
	"bytes"
	"strconv"
)

// tsserver frames every message it emits as
//
//	Content-Length: N\r\n
//	\r\n
//	<N bytes of JSON>
//
// Requests going the other way are single newline-terminated JSON lines.

var (
	contentLengthPrefix = []byte("Content-Length: ")
	headerTerminator    = []byte("\r\n\r\n")
)

// extractFrames removes every complete framed body from buf and returns
// them in order. Partial frames stay in the buffer until more bytes
// arrive, so a message split across reads decodes once completed and
// several short messages in one read decode separately.
func extractFrames(buf *bytes.Buffer) [][]byte {
	var frames [][]byte
	for {
		body, ok := extractFrame(buf)
		if !ok {
			return frames
		}
		frames = append(frames, body)
	}
}

func extractFrame(buf *bytes.Buffer) ([]byte, bool) {
	data := buf.Bytes()

	start := bytes.Index(data, contentLengthPrefix)
	if start < 0 {
		return nil, false
	}
	rest := data[start+len(contentLengthPrefix):]

	lineEnd := bytes.IndexByte(rest, '\r')
	if lineEnd < 0 {
		return nil, false
	}
	length, err := strconv.Atoi(string(rest[:lineEnd]))
	if err != nil || length < 0 {
		// Malformed header; skip past it so the scanner cannot wedge.
		buf.Next(start + len(contentLengthPrefix))
		return nil, false
	}

	headerEnd := bytes.Index(rest, headerTerminator)
	if headerEnd < 0 {
		return nil, false
	}
	bodyStart := start + len(contentLengthPrefix) + headerEnd + len(headerTerminator)
	if len(data) < bodyStart+length {
		return nil, false
	}

	body := make([]byte, length)
	copy(body, data[bodyStart:bodyStart+length])
	buf.Next(bodyStart + length)
	return body, true
}
