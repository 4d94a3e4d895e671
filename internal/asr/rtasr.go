package asr

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const DefaultRTASRURL = "wss://rtasr.xfyun.cn/v1/ws"

var rtasrEndFrame = []byte(`{"end": true}`)

// RTASR is the continuous variant: audio may flow only after "started",
// frames are raw PCM.
type RTASR struct {
	AppID     string
	APISecret string
	URL       string
}

var _ Protocol = (*RTASR)(nil)

func (p *RTASR) Name() string                 { return ModeRTASR }
func (p *RTASR) ReadyOnOpen() bool            { return false }
func (p *RTASR) OpenFrames() ([]Frame, error) { return nil, nil }

// Endpoint computes signa = base64(HMAC-SHA1(secret, md5hex(appid+ts))).
func (p *RTASR) Endpoint(now time.Time) (string, http.Header, error) {
	raw := p.URL
	if raw == "" {
		raw = DefaultRTASRURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", nil, fmt.Errorf("parse rtasr url: %w", err)
	}

	ts := strconv.FormatInt(now.Unix(), 10)
	q := url.Values{}
	q.Set("appid", p.AppID)
	q.Set("ts", ts)
	q.Set("signa", rtasrSigna(p.AppID, p.APISecret, ts))
	u.RawQuery = q.Encode()

	h := http.Header{}
	h.Set("Origin", "https://"+u.Host)
	return u.String(), h, nil
}

func rtasrSigna(appID, secret, ts string) string {
	sum := md5.Sum([]byte(appID + ts))
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(hex.EncodeToString(sum[:])))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (p *RTASR) AudioFrames(chunk []byte, final bool) ([]Frame, error) {
	frames := make([]Frame, 0, 2)
	if len(chunk) > 0 {
		frames = append(frames, binaryFrame(chunk))
	}
	if final {
		frames = append(frames, binaryFrame(rtasrEndFrame))
	}
	return frames, nil
}

type rtasrResponse struct {
	Action string `json:"action"`
	Code   string `json:"code"`
	Desc   string `json:"desc"`
	Data   string `json:"data"`
	SID    string `json:"sid"`
}

type rtasrPayload struct {
	CN struct {
		ST struct {
			RT   []wordResult `json:"rt"`
			Type string       `json:"type"`
		} `json:"st"`
	} `json:"cn"`
}

func (p *RTASR) Decode(data []byte) (Event, error) {
	var resp rtasrResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Event{}, fmt.Errorf("decode rtasr message: %w", err)
	}

	switch resp.Action {
	case "started":
		return Event{Started: true}, nil
	case "result":
		return decodeRTASRResult(resp.Data)
	case "error":
		return Event{}, fmt.Errorf("rtasr error %s: %s (sid=%s)", resp.Code, resp.Desc, resp.SID)
	default:
		return Event{}, nil
	}
}

func decodeRTASRResult(data string) (Event, error) {
	if data == "" {
		return Event{}, nil
	}
	var pl rtasrPayload
	if err := json.Unmarshal([]byte(data), &pl); err != nil {
		return Event{}, fmt.Errorf("decode rtasr result: %w", err)
	}

	var text string
	for i := range pl.CN.ST.RT {
		text += pl.CN.ST.RT[i].text()
	}
	if text == "" {
		return Event{}, nil
	}
	// type "0" is a settled sentence, "1" an intermediate hypothesis
	return Event{Result: &Result{Text: text, IsFinal: pl.CN.ST.Type == "0"}}, nil
}
