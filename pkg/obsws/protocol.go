package obsws

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
)

// OpCode identifies an obs-websocket v5 message.
type OpCode int

const (
	OpHello           OpCode = 0
	OpIdentify        OpCode = 1
	OpIdentified      OpCode = 2
	OpReidentify      OpCode = 3
	OpEvent           OpCode = 5
	OpRequest         OpCode = 6
	OpRequestResponse OpCode = 7
)

// RPCVersion is the only protocol revision spoken.
const RPCVersion = 1

// Close codes sent by the server before dropping the connection.
const (
	CloseNotIdentified         = 4007
	CloseAuthenticationFailed  = 4009
	CloseUnsupportedRPCVersion = 4010
)

// Request status codes used by the fake server and surfaced in RemoteError.
const (
	StatusSuccess            = 100
	StatusMissingRequestType = 203
	StatusUnknownRequestType = 204
	StatusMissingField       = 300
	StatusResourceNotFound   = 600
)

// Message is the envelope of every frame.
type Message struct {
	Op OpCode          `json:"op"`
	D  json.RawMessage `json:"d"`
}

// Hello is sent by the server right after the upgrade.
type Hello struct {
	ObsWebSocketVersion string         `json:"obsWebSocketVersion"`
	RPCVersion          int            `json:"rpcVersion"`
	Authentication      *AuthChallenge `json:"authentication,omitempty"`
}

// AuthChallenge is present in Hello when the server requires a password.
type AuthChallenge struct {
	Challenge string `json:"challenge"`
	Salt      string `json:"salt"`
}

// Identify answers Hello.
type Identify struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

// Identified confirms the session is ready for requests.
type Identified struct {
	NegotiatedRPCVersion int `json:"negotiatedRpcVersion"`
}

// Request is one typed call.
type Request struct {
	RequestType string         `json:"requestType"`
	RequestID   string         `json:"requestId"`
	RequestData map[string]any `json:"requestData,omitempty"`
}

// RequestStatus carries the success flag and error code of a reply.
type RequestStatus struct {
	Result  bool   `json:"result"`
	Code    int    `json:"code"`
	Comment string `json:"comment,omitempty"`
}

// RequestResponse is the reply correlated to a Request by RequestID.
type RequestResponse struct {
	RequestType   string          `json:"requestType"`
	RequestID     string          `json:"requestId"`
	RequestStatus RequestStatus   `json:"requestStatus"`
	ResponseData  json.RawMessage `json:"responseData,omitempty"`
}

// Response is what Command hands back on success.
type Response struct {
	RequestType string
	Data        json.RawMessage
}

// Decode unmarshals the response payload into v. An empty payload leaves v untouched.
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// SceneList is the payload of GetSceneList.
type SceneList struct {
	CurrentProgramSceneName string  `json:"currentProgramSceneName"`
	Scenes                  []Scene `json:"scenes"`
}

// Scene is one entry of SceneList.
type Scene struct {
	SceneName  string `json:"sceneName"`
	SceneIndex int    `json:"sceneIndex"`
}

// Encode wraps a payload in a Message frame.
func Encode(op OpCode, payload any) ([]byte, error) {
	d, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Op: op, D: d})
}

// AuthenticationString computes the Identify authentication field:
// base64(sha256(base64(sha256(password + salt)) + challenge)).
func AuthenticationString(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	auth := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}
