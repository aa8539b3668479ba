package signaling

// Inbound is the shape of every client -> server frame. Only the fields
// relevant to msg_type are populated; unused fields are left zero.
type Inbound struct {
	Type    string `json:"type"`
	Data    string `json:"data,omitempty"`
	Respond bool   `json:"respond,omitempty"`
}

const (
	inOffer     = "offer"
	inAudio     = "audio_chunk"
	inPing      = "ping"
	inPlaybackOK = "playback_complete"
)

// Outbound is the shape of every server -> client frame. omitempty keeps
// each frame minimal per its type, matching the original handler's practice
// of building a fresh dict per message rather than one fat envelope.
type Outbound struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	Status     string `json:"status,omitempty"`
	OK         bool   `json:"ok,omitempty"`
	Finalized  bool   `json:"finalized,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Reply      string `json:"reply,omitempty"`
	State      string `json:"state,omitempty"`
	AudioPath  string `json:"audio_path,omitempty"`
	AudioFile  string `json:"audio_file,omitempty"`
	Error      string `json:"error,omitempty"`
}

const (
	outAnswer           = "answer"
	outProcessingResult = "processing_result"
	outAudioReady       = "audio_ready"
	outPong             = "pong"
	outError            = "error"
)
