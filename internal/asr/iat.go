package asr

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultIATURL = "wss://iat-api.xfyun.cn/v2/iat"

const (
	iatStatusFirst    = 0
	iatStatusContinue = 1
	iatStatusLast     = 2

	iatAudioFormat = "audio/L16;rate=16000"
)

// IAT is the dictation variant: signed one-shot handshake, JSON audio frames.
type IAT struct {
	AppID     string
	APIKey    string
	APISecret string
	URL       string
}

var _ Protocol = (*IAT)(nil)

func (p *IAT) Name() string      { return ModeIAT }
func (p *IAT) ReadyOnOpen() bool { return true }

// Endpoint signs "host/date/request-line" with HMAC-SHA256.
func (p *IAT) Endpoint(now time.Time) (string, http.Header, error) {
	raw := p.URL
	if raw == "" {
		raw = DefaultIATURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", nil, fmt.Errorf("parse iat url: %w", err)
	}

	date := now.UTC().Format(http.TimeFormat)
	auth := iatAuthorization(p.APIKey, p.APISecret, u.Host, u.Path, date)

	q := url.Values{}
	q.Set("authorization", auth)
	q.Set("date", date)
	q.Set("host", u.Host)
	u.RawQuery = q.Encode()

	return u.String(), nil, nil
}

func iatAuthorization(apiKey, apiSecret, host, path, date string) string {
	origin := "host: " + host + "\ndate: " + date + "\nGET " + path + " HTTP/1.1"
	mac := hmac.New(sha256.New, []byte(apiSecret))
	mac.Write([]byte(origin))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	authOrigin := fmt.Sprintf("api_key=%s, algorithm=hmac-sha256, headers=host date request-line, signature=%s",
		apiKey, signature)
	return base64.StdEncoding.EncodeToString([]byte(authOrigin))
}

type iatData struct {
	Status   int    `json:"status"`
	Format   string `json:"format"`
	Encoding string `json:"encoding"`
	Audio    string `json:"audio"`
}

type iatFirstFrame struct {
	Common struct {
		AppID string `json:"app_id"`
	} `json:"common"`
	Business struct {
		Language string `json:"language"`
		Domain   string `json:"domain"`
		Accent   string `json:"accent"`
		DWA      string `json:"dwa"`
		VADEOS   int    `json:"vad_eos"`
		PTT      int    `json:"ptt"`
	} `json:"business"`
	Data iatData `json:"data"`
}

type iatAudioFrame struct {
	Data iatData `json:"data"`
}

func (p *IAT) OpenFrames() ([]Frame, error) {
	var f iatFirstFrame
	f.Common.AppID = p.AppID
	f.Business.Language = "zh_cn"
	f.Business.Domain = "iat"
	f.Business.Accent = "mandarin"
	f.Business.DWA = "wpgs"
	f.Business.VADEOS = 3000
	f.Business.PTT = 0
	f.Data = iatData{Status: iatStatusFirst, Format: iatAudioFormat, Encoding: "raw"}

	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return []Frame{textFrame(b)}, nil
}

func (p *IAT) AudioFrames(chunk []byte, final bool) ([]Frame, error) {
	status := iatStatusContinue
	if final {
		status = iatStatusLast
	}
	b, err := json.Marshal(iatAudioFrame{Data: iatData{
		Status:   status,
		Format:   iatAudioFormat,
		Encoding: "raw",
		Audio:    base64.StdEncoding.EncodeToString(chunk),
	}})
	if err != nil {
		return nil, err
	}
	return []Frame{textFrame(b)}, nil
}

type iatResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	SID     string `json:"sid"`
	Data    *struct {
		Status int         `json:"status"`
		Result *wordResult `json:"result"`
	} `json:"data"`
}

// wordResult is the nested segment layout shared by both variants.
type wordResult struct {
	WS []struct {
		CW []struct {
			W string `json:"w"`
		} `json:"cw"`
	} `json:"ws"`
}

func (r *wordResult) text() string {
	if r == nil {
		return ""
	}
	var sb strings.Builder
	for _, ws := range r.WS {
		for _, cw := range ws.CW {
			sb.WriteString(cw.W)
		}
	}
	return sb.String()
}

func (p *IAT) Decode(data []byte) (Event, error) {
	var resp iatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Event{}, fmt.Errorf("decode iat message: %w", err)
	}
	if resp.Code != 0 {
		return Event{}, fmt.Errorf("iat error %d: %s (sid=%s)", resp.Code, resp.Message, resp.SID)
	}
	if resp.Data == nil || resp.Data.Result == nil {
		return Event{}, nil
	}
	text := resp.Data.Result.text()
	if text == "" {
		return Event{}, nil
	}
	return Event{Result: &Result{Text: text, IsFinal: resp.Data.Status == iatStatusLast}}, nil
}
