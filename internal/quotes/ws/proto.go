package ws

import "framefeed.com/internal/quotes/frame"

const (
	MsgSub    = "sub"
	MsgUnsub  = "unsub"
	MsgFrames = "frames"
)

type ClientMsg struct {
	Type   string   `json:"type"`   // "sub" | "unsub"
	Topics []string `json:"topics"` // topic list
}

// ServerMsg 同一 topic 一次推送的若干根 frame，按 start_ts_ms 升序
type ServerMsg struct {
	Type   string        `json:"type"`  // "frames"
	Topic  string        `json:"topic"` // e.g. frames:1m:600519.SH
	Frames []frame.Frame `json:"frames"`
}
