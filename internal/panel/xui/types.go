package xui

import "encoding/json"

// Response is the envelope every 3x-ui API call answers with.
type Response struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

// Inbound mirrors the inbound object. Settings and StreamSettings are JSON
// documents encoded as strings by the panel.
type Inbound struct {
	ID             int64  `json:"id"`
	Remark         string `json:"remark"`
	Enable         bool   `json:"enable"`
	Port           int    `json:"port"`
	Protocol       string `json:"protocol"`
	Settings       string `json:"settings"`
	StreamSettings string `json:"streamSettings"`
	Tag            string `json:"tag"`
}

// ClientEntry is a client entry inside inbound settings.
type ClientEntry struct {
	ID         string `json:"id,omitempty"`
	Password   string `json:"password,omitempty"`
	Method     string `json:"method,omitempty"`
	Flow       string `json:"flow"`
	Email      string `json:"email"`
	LimitIP    int    `json:"limitIp"`
	TotalGB    int64  `json:"totalGB"`
	ExpiryTime int64  `json:"expiryTime"`
	Enable     bool   `json:"enable"`
	TgID       string `json:"tgId"`
	SubID      string `json:"subId"`
	Reset      int    `json:"reset"`
}

// ClientRequest is the body of addClient: the inbound id plus a settings
// document holding the clients to add.
type ClientRequest struct {
	ID       int64  `json:"id"`
	Settings string `json:"settings"`
}
