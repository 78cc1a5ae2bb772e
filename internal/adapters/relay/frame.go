package relay

import (
	"encoding/json"
	"fmt"

	"github.com/okian/askbot/internal/domain/model"
)

// Frame labels on the wire.
const (
	frameEvent  = "EVENT"
	frameEOSE   = "EOSE"
	frameNotice = "NOTICE"
	frameOK     = "OK"
	frameClosed = "CLOSED"
	frameReq    = "REQ"
	frameClose  = "CLOSE"
)

// frame is a decoded inbound relay message.
type frame struct {
	Type     string
	SubID    string
	Event    model.Event
	EventID  string
	Accepted bool
	Message  string
}

func decodeFrame(data []byte) (frame, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(raw) == 0 {
		return frame{}, fmt.Errorf("%w: empty array", ErrMalformedFrame)
	}

	var f frame
	if err := json.Unmarshal(raw[0], &f.Type); err != nil {
		return frame{}, fmt.Errorf("%w: label: %v", ErrMalformedFrame, err)
	}

	need := func(n int) error {
		if len(raw) < n {
			return fmt.Errorf("%w: %s needs %d elements, got %d", ErrMalformedFrame, f.Type, n, len(raw))
		}
		return nil
	}
	field := func(i int, dst any) error {
		if err := json.Unmarshal(raw[i], dst); err != nil {
			return fmt.Errorf("%w: %s[%d]: %v", ErrMalformedFrame, f.Type, i, err)
		}
		return nil
	}

	switch f.Type {
	case frameEvent:
		if err := need(3); err != nil {
			return frame{}, err
		}
		if err := field(1, &f.SubID); err != nil {
			return frame{}, err
		}
		if err := field(2, &f.Event); err != nil {
			return frame{}, err
		}
	case frameEOSE:
		if err := need(2); err != nil {
			return frame{}, err
		}
		if err := field(1, &f.SubID); err != nil {
			return frame{}, err
		}
	case frameNotice:
		if err := need(2); err != nil {
			return frame{}, err
		}
		if err := field(1, &f.Message); err != nil {
			return frame{}, err
		}
	case frameOK:
		if err := need(3); err != nil {
			return frame{}, err
		}
		if err := field(1, &f.EventID); err != nil {
			return frame{}, err
		}
		if err := field(2, &f.Accepted); err != nil {
			return frame{}, err
		}
		if len(raw) > 3 {
			_ = json.Unmarshal(raw[3], &f.Message)
		}
	case frameClosed:
		if err := need(2); err != nil {
			return frame{}, err
		}
		if err := field(1, &f.SubID); err != nil {
			return frame{}, err
		}
		if len(raw) > 2 {
			_ = json.Unmarshal(raw[2], &f.Message)
		}
	default:
		return frame{}, fmt.Errorf("%w: unknown label %q", ErrMalformedFrame, f.Type)
	}
	return f, nil
}
