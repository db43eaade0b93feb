package payload

// Payload is the unit of transfer: an optional captured image (encoded as a
// data URL), an optional text snippet, and a millisecond timestamp. The relay
// server overwrites Timestamp with its own clock at upload time.
type Payload struct {
	Image     string `json:"image,omitempty"`
	Text      string `json:"text,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (p Payload) HasImage() bool {
	return p.Image != ""
}

func (p Payload) HasText() bool {
	return p.Text != ""
}

// Empty reports whether the payload carries neither image nor text. The relay
// accepts empty payloads; producers are expected to avoid them.
func (p Payload) Empty() bool {
	return !p.HasImage() && !p.HasText()
}

// UploadResponse is the relay server's reply to POST /upload.
type UploadResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// FetchResponse is the relay server's reply to GET /fetch. Callers must
// branch on Found; a missing payload is not an error.
type FetchResponse struct {
	Found   bool     `json:"found"`
	Payload *Payload `json:"payload,omitempty"`
}
